package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/samber/lo"
)

// CompletionCmd generates shell completions
type CompletionCmd struct {
	Shell string `arg:"" enum:"bash,zsh,fish" help:"Shell type (bash, zsh, fish)"`
}

type completionNode struct {
	Subcommands []string
	Flags       []string
}

// completionIndex is the command tree flattened by path, with paths joined
// by "__" ("" is the root)
type completionIndex struct {
	Nodes      map[string]completionNode
	EnumByFlag map[string][]string
}

// Run executes the completion command. It takes the kong context so the
// generated script follows the actual command model.
func (c *CompletionCmd) Run(globals *Globals, ctx *kong.Context) error {
	var model *kong.Node
	if ctx != nil && ctx.Model != nil {
		model = ctx.Model.Node
	}
	idx := buildCompletionIndex(model)

	var script string
	switch c.Shell {
	case "bash":
		script = bashCompletion(idx)
	case "zsh":
		script = zshCompletion(idx)
	case "fish":
		script = fishCompletion(idx)
	default:
		return fmt.Errorf("unsupported shell: %s", c.Shell)
	}
	_, err := fmt.Fprint(globals.Stdout, script)
	return err
}

func buildCompletionIndex(model *kong.Node) completionIndex {
	idx := completionIndex{
		Nodes:      map[string]completionNode{},
		EnumByFlag: map[string][]string{},
	}
	if model == nil {
		return idx
	}

	var walk func(n *kong.Node, path []string)
	walk = func(n *kong.Node, path []string) {
		children := lo.Filter(n.Children, func(child *kong.Node, _ int) bool {
			return child != nil && child.Type == kong.CommandNode && !child.Hidden
		})

		var sub []string
		lo.ForEach(children, func(child *kong.Node, _ int) {
			sub = append(sub, child.Name)
			sub = append(sub, child.Aliases...)
		})

		var flags []string
		for _, group := range n.AllFlags(true) {
			for _, f := range group {
				if f == nil {
					continue
				}
				tokens := flagCompletionTokens(f)
				flags = append(flags, tokens...)
				if values := enumValues(f.Enum); len(values) > 0 {
					for _, t := range tokens {
						// global flags show up at every node; keep the first
						if _, ok := idx.EnumByFlag[t]; !ok {
							idx.EnumByFlag[t] = values
						}
					}
				}
			}
		}

		idx.Nodes[strings.Join(path, "__")] = completionNode{
			Subcommands: sortedWords(sub),
			Flags:       sortedWords(flags),
		}
		for _, child := range children {
			walk(child, append(append([]string(nil), path...), child.Name))
		}
	}
	walk(model, nil)
	return idx
}

func flagCompletionTokens(f *kong.Flag) []string {
	tokens := []string{"--" + f.Name}
	if f.Short != 0 {
		tokens = append(tokens, "-"+string(f.Short))
	}
	for _, a := range f.Aliases {
		if a = strings.TrimSpace(a); a != "" {
			tokens = append(tokens, "--"+a)
		}
	}
	return tokens
}

func enumValues(raw string) []string {
	return lo.FilterMap(strings.Split(raw, ","), func(v string, _ int) (string, bool) {
		v = strings.TrimSpace(v)
		return v, v != ""
	})
}

func sortedWords(in []string) []string {
	out := lo.Uniq(lo.FilterMap(in, func(s string, _ int) (string, bool) {
		s = strings.TrimSpace(s)
		return s, s != ""
	}))
	sort.Strings(out)
	return out
}

func (idx completionIndex) paths() []string {
	paths := make([]string, 0, len(idx.Nodes))
	for k := range idx.Nodes {
		paths = append(paths, k)
	}
	sort.Strings(paths)
	return paths
}

func (idx completionIndex) enumTokens() []string {
	tokens := make([]string, 0, len(idx.EnumByFlag))
	for t := range idx.EnumByFlag {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

func bashCompletion(idx completionIndex) string {
	var sb strings.Builder
	sb.WriteString(`# jitctl bash completion script
# Add to ~/.bashrc or ~/.bash_profile:
#   eval "$(jitctl completion bash)"

_jitctl_completions() {
    local cur prev words cword
    _init_completion || return

    local cmdpath="" candidate="" i
    for ((i=1; i < cword; i++)); do
        local w=${words[i]}
        [[ -z "${w}" || "${w}" == -* ]] && continue
        candidate="${candidate:+${candidate}__}${w}"
        case "${candidate}" in
`)
	for _, k := range idx.paths() {
		if k == "" {
			continue
		}
		fmt.Fprintf(&sb, "            %s) cmdpath=\"${candidate}\" ;;\n", k)
	}
	sb.WriteString(`            *) break ;;
        esac
    done

    case "${prev}" in
`)
	for _, token := range idx.enumTokens() {
		fmt.Fprintf(&sb, "        %s)\n            COMPREPLY=($(compgen -W %q -- \"${cur}\"))\n            return\n            ;;\n",
			token, strings.Join(idx.EnumByFlag[token], " "))
	}
	sb.WriteString(`    esac

    local subcommands="" flags=""
    case "${cmdpath}" in
`)
	for _, k := range idx.paths() {
		node := idx.Nodes[k]
		fmt.Fprintf(&sb, "        %q)\n            subcommands=%q\n            flags=%q\n            ;;\n",
			k, strings.Join(node.Subcommands, " "), strings.Join(node.Flags, " "))
	}
	sb.WriteString(`    esac

    if [[ "${cur}" == -* ]]; then
        COMPREPLY=($(compgen -W "${flags}" -- "${cur}"))
    elif [[ -n "${subcommands}" ]]; then
        COMPREPLY=($(compgen -W "${subcommands}" -- "${cur}"))
    fi
}

complete -F _jitctl_completions jitctl
`)
	return sb.String()
}

func zshCompletion(idx completionIndex) string {
	var sb strings.Builder
	sb.WriteString(`#compdef jitctl
# jitctl zsh completion script
# Add to ~/.zshrc:
#   eval "$(jitctl completion zsh)"

_jitctl() {
  local cur="${words[CURRENT]}" prev="${words[CURRENT-1]}"
  local cmdpath="" candidate="" i
  for ((i=2; i < CURRENT; i++)); do
    local w="${words[i]}"
    [[ -z "${w}" || "${w}" == -* ]] && continue
    candidate="${candidate:+${candidate}__}${w}"
    case "${candidate}" in
`)
	for _, k := range idx.paths() {
		if k == "" {
			continue
		}
		fmt.Fprintf(&sb, "      %s) cmdpath=\"${candidate}\" ;;\n", k)
	}
	sb.WriteString(`      *) break ;;
    esac
  done

  case "${prev}" in
`)
	for _, token := range idx.enumTokens() {
		fmt.Fprintf(&sb, "    %s)\n      compadd -- %s\n      return\n      ;;\n", token, strings.Join(idx.EnumByFlag[token], " "))
	}
	sb.WriteString(`  esac

  local -a subcommands flags
  case "${cmdpath}" in
`)
	for _, k := range idx.paths() {
		node := idx.Nodes[k]
		fmt.Fprintf(&sb, "    %q)\n      subcommands=(%s)\n      flags=(%s)\n      ;;\n",
			k, strings.Join(node.Subcommands, " "), strings.Join(node.Flags, " "))
	}
	sb.WriteString(`  esac

  if [[ "${cur}" == -* ]]; then
    compadd -- ${flags[@]}
  elif (( ${#subcommands[@]} > 0 )); then
    compadd -- ${subcommands[@]}
  fi
}

compdef _jitctl jitctl
`)
	return sb.String()
}

func fishCompletion(idx completionIndex) string {
	var sb strings.Builder
	sb.WriteString(`# jitctl fish completion script
# Add to ~/.config/fish/completions/jitctl.fish

# Disable file completion by default
complete -c jitctl -f

`)
	root := idx.Nodes[""]
	for _, cmd := range root.Subcommands {
		fmt.Fprintf(&sb, "complete -c jitctl -n \"__fish_use_subcommand\" -a %q\n", cmd)
	}
	for _, flag := range root.Flags {
		if !strings.HasPrefix(flag, "--") {
			continue
		}
		long := strings.TrimPrefix(flag, "--")
		if values := idx.EnumByFlag[flag]; len(values) > 0 {
			fmt.Fprintf(&sb, "complete -c jitctl -l %s -xa %q\n", long, strings.Join(values, " "))
			continue
		}
		fmt.Fprintf(&sb, "complete -c jitctl -l %s\n", long)
	}
	return sb.String()
}
