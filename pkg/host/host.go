// Package host defines the capabilities ucdbg needs from the debugger that
// owns the stopped target. The directory and the switch engine only talk to
// a Host, the live implementation lives in pkg/target.
package host

import (
	"fmt"

	"github.com/hitzhangjie/ucdbg/pkg/symbol"
)

// Reg register that can be read or rewritten
type Reg int

const (
	SP Reg = iota // stack pointer
	FP            // frame pointer
	PC            // program counter
)

func (r Reg) String() string {
	switch r {
	case SP:
		return "sp"
	case FP:
		return "fp"
	case PC:
		return "pc"
	default:
		return fmt.Sprintf("reg(%d)", int(r))
	}
}

// Memory reads the target's memory
type Memory interface {
	// ReadMemory fills buf with the bytes at addr, short reads are errors
	ReadMemory(addr uint64, buf []byte) error
}

// Host debugger primitives on a stopped target
type Host interface {
	Memory

	// LookupSymbol looks up a symbol by linkage or qualified name
	LookupSymbol(name string) (symbol.Symbol, bool)

	// Eval evaluates expr and returns the result formatted the way the
	// debugger prints it, addresses may carry a "<sym+off>" annotation.
	Eval(expr string) (string, error)

	// Register returns the value of reg in the selected frame
	Register(reg Reg) (uint64, error)

	// SetRegister writes reg, only allowed in the innermost frame
	SetRegister(reg Reg, val uint64) error

	// SelectFrame selects the inspection frame, 0 is the innermost one
	SelectFrame(n int) error

	// Frame returns the selected frame
	Frame() int
}

// Decoder is implemented by hosts able to decode machine instructions
type Decoder interface {
	// InstructionBoundary reports whether sym+off is the first byte of an
	// instruction when decoding linearly from the start of sym.
	InstructionBoundary(sym symbol.Symbol, off uint64) (bool, error)
}

// MissingSymbolError required runtime symbol absent from the target
type MissingSymbolError struct {
	Name string
}

func (err *MissingSymbolError) Error() string {
	return fmt.Sprintf("%s symbol is not available", err.Name)
}
