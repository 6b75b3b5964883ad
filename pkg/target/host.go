package target

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/hitzhangjie/ucdbg/pkg/host"
	"github.com/hitzhangjie/ucdbg/pkg/logflags"
	"github.com/hitzhangjie/ucdbg/pkg/symbol"
)

// Process ptrace primitives the Host is built on, *DebuggedProcess
// implements it.
type Process interface {
	host.Memory
	ReadRegister() (*syscall.PtraceRegs, error)
	WriteRegister(regs *syscall.PtraceRegs) error
}

var errNotInnermost = errors.New("registers can only be written in frame 0")

// Host implements host.Host and host.Decoder against a stopped process
type Host struct {
	proc  Process
	bi    *symbol.BinaryInfo
	frame int
	log   *logrus.Entry
}

var (
	_ host.Host    = (*Host)(nil)
	_ host.Decoder = (*Host)(nil)
)

// NewHost creates a Host for proc, symbols are resolved with bi
func NewHost(proc Process, bi *symbol.BinaryInfo) *Host {
	return &Host{
		proc: proc,
		bi:   bi,
		log:  logflags.TargetLogger(),
	}
}

// ReadMemory reads len(buf) bytes at addr
func (h *Host) ReadMemory(addr uint64, buf []byte) error {
	return h.proc.ReadMemory(addr, buf)
}

// LookupSymbol looks up name in the executable's symbol table
func (h *Host) LookupSymbol(name string) (symbol.Symbol, bool) {
	if h.bi == nil || h.bi.Symbols == nil {
		return symbol.Symbol{}, false
	}
	return h.bi.Symbols.Lookup(name)
}

// Register returns reg of the selected frame
func (h *Host) Register(reg host.Reg) (uint64, error) {
	f, err := h.CurrentFrame()
	if err != nil {
		return 0, err
	}
	switch reg {
	case host.SP:
		return f.SP, nil
	case host.FP:
		return f.FP, nil
	case host.PC:
		return f.PC, nil
	default:
		return 0, fmt.Errorf("register %s not available", reg)
	}
}

// SetRegister writes rsp, rbp or rip of the stopped thread
func (h *Host) SetRegister(reg host.Reg, val uint64) error {
	if h.frame != 0 {
		return errNotInnermost
	}
	regs, err := h.proc.ReadRegister()
	if err != nil {
		return err
	}
	switch reg {
	case host.SP:
		regs.Rsp = val
	case host.FP:
		regs.Rbp = val
	case host.PC:
		regs.Rip = val
	default:
		return fmt.Errorf("register %s not available", reg)
	}
	if err := h.proc.WriteRegister(regs); err != nil {
		return fmt.Errorf("set %s error: %v", reg, err)
	}
	h.log.Debugf("set %s = %#x", reg, val)
	return nil
}

// SelectFrame selects frame n, the frame must be reachable by unwinding
func (h *Host) SelectFrame(n int) error {
	if n == h.frame {
		return nil
	}
	if n != 0 {
		top, err := h.topFrame()
		if err != nil {
			return err
		}
		if _, err := unwind(h.proc, top, n); err != nil {
			return err
		}
	}
	h.frame = n
	h.log.Debugf("frame %d selected", n)
	return nil
}

// Frame returns the selected frame number
func (h *Host) Frame() int {
	return h.frame
}

// CurrentFrame returns the registers of the selected frame
func (h *Host) CurrentFrame() (Frame, error) {
	top, err := h.topFrame()
	if err != nil {
		return Frame{}, err
	}
	return unwind(h.proc, top, h.frame)
}

func (h *Host) topFrame() (Frame, error) {
	regs, err := h.proc.ReadRegister()
	if err != nil {
		return Frame{}, err
	}
	return Frame{SP: regs.Rsp, FP: regs.Rbp, PC: regs.Rip}, nil
}

// InstructionBoundary reports whether sym+off starts an instruction
func (h *Host) InstructionBoundary(sym symbol.Symbol, off uint64) (bool, error) {
	size := sym.Size
	if size == 0 {
		// no size recorded, decode just past off
		size = off + 1
	}
	if off >= size {
		return false, nil
	}
	code := make([]byte, size)
	if err := h.ReadMemory(sym.Addr, code); err != nil {
		return false, err
	}
	return decodeBoundary(code, off)
}

// Instruction disassembles the instruction at addr, the result reads as
// "0x4010a0 <uSwitch+28>:\t48 89 e5\tmov %rsp,%rbp"
func (h *Host) Instruction(addr uint64, syntax string) (string, error) {
	code := make([]byte, maxInstLen)
	// the tail of the mapping may be shorter than the longest instruction
	for len(code) > 0 {
		if err := h.ReadMemory(addr, code); err == nil {
			break
		}
		code = code[:len(code)-1]
	}
	if len(code) == 0 {
		return "", fmt.Errorf("cannot access memory at address %#x", addr)
	}
	inst, asm, err := decodeOne(code, addr, syntax)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:\t% x\t%s", h.format(addr), code[:inst.Len], asm), nil
}
