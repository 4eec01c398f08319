package subprocess

import (
	"context"
	"io"
	"strings"
	"sync"
)

// Transcript is the append-only output buffer of one helper process. It has
// a single writer (the output reader) and any number of readers.
type Transcript struct {
	mu      sync.Mutex
	buf     strings.Builder
	partial string
	lines   []string
	closed  bool
	changed chan struct{}
}

// NewTranscript returns an empty, open transcript.
func NewTranscript() *Transcript {
	return &Transcript{changed: make(chan struct{})}
}

// Write implements io.Writer.
func (t *Transcript) Write(p []byte) (int, error) {
	t.Append(p)
	return len(p), nil
}

// Append adds raw output and returns the lines it completed.
func (t *Transcript) Append(p []byte) []string {
	if len(p) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}

	t.buf.Write(p)
	chunk := t.partial + string(p)
	parts := strings.Split(chunk, "\n")
	t.partial = parts[len(parts)-1]

	completed := make([]string, 0, len(parts)-1)
	for _, line := range parts[:len(parts)-1] {
		completed = append(completed, strings.TrimRight(line, "\r"))
	}
	t.lines = append(t.lines, completed...)
	t.notifyLocked()
	return completed
}

// Close marks the output stream as finished. A trailing partial line is
// promoted to a complete line.
func (t *Transcript) Close() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	var flushed []string
	if t.partial != "" {
		flushed = append(flushed, strings.TrimRight(t.partial, "\r"))
		t.lines = append(t.lines, flushed...)
		t.partial = ""
	}
	t.closed = true
	t.notifyLocked()
	return flushed
}

func (t *Transcript) notifyLocked() {
	close(t.changed)
	t.changed = make(chan struct{})
}

// String returns everything written so far.
func (t *Transcript) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

// Len returns the number of bytes written so far.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.Len()
}

// Since returns the output written after the given byte offset.
func (t *Transcript) Since(offset int) string {
	s := t.String()
	if offset < 0 || offset > len(s) {
		return s
	}
	return s[offset:]
}

// LineCount returns the number of completed lines.
func (t *Transcript) LineCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lines)
}

// Lines returns a copy of the completed lines.
func (t *Transcript) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.lines...)
}

// Closed reports whether the output stream has ended.
func (t *Transcript) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// LastLine returns the trailing non-empty line, including an unterminated
// partial line. It is what gets surfaced to users on failure.
func (t *Transcript) LastLine() string {
	return LastNonEmptyLine(t.String())
}

// LastNonEmptyLine returns the last line of s that is not blank.
func LastNonEmptyLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

// WaitLines blocks until at least n lines are complete. It returns io.EOF if
// the stream closes first.
func (t *Transcript) WaitLines(ctx context.Context, n int) error {
	for {
		t.mu.Lock()
		count, closed, changed := len(t.lines), t.closed, t.changed
		t.mu.Unlock()

		if count >= n {
			return nil
		}
		if closed {
			return io.EOF
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WaitClosed blocks until the output stream has ended.
func (t *Transcript) WaitClosed(ctx context.Context) error {
	for {
		t.mu.Lock()
		closed, changed := t.closed, t.changed
		t.mu.Unlock()

		if closed {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Cursor returns a line reader starting at the first line.
func (t *Transcript) Cursor() *Cursor {
	return &Cursor{t: t}
}

// Tail returns a line reader that only sees lines completed from now on.
func (t *Transcript) Tail() *Cursor {
	return &Cursor{t: t, next: t.LineCount()}
}

// Cursor reads completed lines of a transcript one at a time. Cursors are
// independent; dropping one does not affect the transcript or other cursors.
type Cursor struct {
	t    *Transcript
	next int
}

// Next returns the next line, blocking until one is available. It returns
// io.EOF once the stream has closed and all lines were read, or ctx.Err().
func (c *Cursor) Next(ctx context.Context) (string, error) {
	for {
		c.t.mu.Lock()
		if c.next < len(c.t.lines) {
			line := c.t.lines[c.next]
			c.next++
			c.t.mu.Unlock()
			return line, nil
		}
		closed, changed := c.t.closed, c.t.changed
		c.t.mu.Unlock()

		if closed {
			return "", io.EOF
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
