package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// TargetProcess identifies the app process to enable JIT for, either by
// process name or by PID.
type TargetProcess struct {
	Name  string
	PID   int
	byPID bool
}

// ParseTarget parses free-form user input. Anything that parses as an
// integer is a PID; everything else is a process name.
func ParseTarget(s string) (TargetProcess, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TargetProcess{}, errors.New("target process is required")
	}
	if pid, err := strconv.Atoi(s); err == nil {
		if pid <= 0 {
			return TargetProcess{}, fmt.Errorf("target process id must be positive, got %d", pid)
		}
		return TargetProcess{PID: pid, byPID: true}, nil
	}
	return TargetProcess{Name: s}, nil
}

// TargetPID returns a target addressed by PID.
func TargetPID(pid int) TargetProcess {
	return TargetProcess{PID: pid, byPID: true}
}

// TargetName returns a target addressed by process name.
func TargetName(name string) TargetProcess {
	return TargetProcess{Name: name}
}

// ByPID reports whether the target was given as a PID.
func (t TargetProcess) ByPID() bool { return t.byPID }

func (t TargetProcess) String() string {
	if t.byPID {
		return fmt.Sprintf("pid %d", t.PID)
	}
	return t.Name
}

// ProcessEntry is one line of the remote process list.
type ProcessEntry struct {
	PID  int    `json:"pid"`
	Name string `json:"name"`
}
