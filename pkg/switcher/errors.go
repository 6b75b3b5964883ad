package switcher

import (
	"errors"
	"fmt"
)

// IneligibleTaskError the task has no resumable context
type IneligibleTaskError struct {
	Task  string
	Addr  uint64
	State string
}

func (err *IneligibleTaskError) Error() string {
	return fmt.Sprintf("cannot switch to task %s (%#x): task is in state %s", err.Task, err.Addr, err.State)
}

// ResumePointError the computed resumption PC is not a valid instruction
// address inside the context switch routine
type ResumePointError struct {
	Symbol string
	Offset uint64
	Reason string
}

func (err *ResumePointError) Error() string {
	return fmt.Sprintf("invalid resume point %s+%d: %s", err.Symbol, err.Offset, err.Reason)
}

// ErrEmptyHistory restore requested while no switch is pending
var ErrEmptyHistory = errors.New("empty stack: no task switch to restore")
