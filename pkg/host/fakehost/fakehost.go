// Package fakehost is an in-memory host.Host used by tests.
package fakehost

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/hitzhangjie/ucdbg/pkg/host"
	"github.com/hitzhangjie/ucdbg/pkg/symbol"
)

// Write one SetRegister call
type Write struct {
	Reg host.Reg
	Val uint64
}

// Host fake stopped target with sparse memory
type Host struct {
	Writes    []Write            // every successful SetRegister, in order
	FailWrite map[host.Reg]error // SetRegister(reg) returns this error
	Exprs     map[string]string  // canned Eval results
	MaxFrame  int                // deepest selectable frame
	Selects   []int              // every SelectFrame call, in order

	mem   map[uint64]byte
	syms  []symbol.Symbol
	table *symbol.Table
	regs  map[host.Reg]uint64
	frame int
	brk   uint64
}

var _ host.Host = (*Host)(nil)

// New creates an empty fake host
func New() *Host {
	return &Host{
		FailWrite: map[host.Reg]error{},
		Exprs:     map[string]string{},
		MaxFrame:  8,
		mem:       map[uint64]byte{},
		regs:      map[host.Reg]uint64{},
		table:     symbol.NewTable(nil),
		brk:       0x10000,
	}
}

// Alloc reserves size bytes of zeroed memory, 16 bytes aligned
func (h *Host) Alloc(size uint64) uint64 {
	addr := h.brk
	h.brk += (size + 15) &^ 15
	for i := uint64(0); i < size; i++ {
		h.mem[addr+i] = 0
	}
	return addr
}

// AddSymbol defines a symbol
func (h *Host) AddSymbol(name string, addr, size uint64) {
	h.syms = append(h.syms, symbol.Symbol{Name: name, Addr: addr, Size: size})
	h.table = symbol.NewTable(h.syms)
}

// WriteBytes stores b at addr
func (h *Host) WriteBytes(addr uint64, b []byte) {
	for i, v := range b {
		h.mem[addr+uint64(i)] = v
	}
}

// WriteUint stores the size bytes little endian integer v at addr
func (h *Host) WriteUint(addr uint64, size int, v uint64) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	h.WriteBytes(addr, buf[:size])
}

// WritePtr stores a pointer at addr
func (h *Host) WritePtr(addr, v uint64) {
	h.WriteUint(addr, 8, v)
}

// NewCString allocates a NUL terminated copy of s
func (h *Host) NewCString(s string) uint64 {
	addr := h.Alloc(uint64(len(s) + 1))
	h.WriteBytes(addr, append([]byte(s), 0))
	return addr
}

// SetRegs sets the innermost frame registers without recording a write
func (h *Host) SetRegs(sp, fp, pc uint64) {
	h.regs[host.SP] = sp
	h.regs[host.FP] = fp
	h.regs[host.PC] = pc
}

// Regs returns the innermost frame registers
func (h *Host) Regs() (sp, fp, pc uint64) {
	return h.regs[host.SP], h.regs[host.FP], h.regs[host.PC]
}

// ReadMemory implements host.Memory, reading unmapped bytes fails
func (h *Host) ReadMemory(addr uint64, buf []byte) error {
	for i := range buf {
		v, ok := h.mem[addr+uint64(i)]
		if !ok {
			return fmt.Errorf("cannot access memory at address %#x", addr+uint64(i))
		}
		buf[i] = v
	}
	return nil
}

func (h *Host) LookupSymbol(name string) (symbol.Symbol, bool) {
	return h.table.Lookup(name)
}

// Eval understands canned expressions, "&sym[+N]" and "sym" (pointer variable)
func (h *Host) Eval(expr string) (string, error) {
	expr = strings.TrimSpace(expr)
	if v, ok := h.Exprs[expr]; ok {
		return v, nil
	}

	if strings.HasPrefix(expr, "&") {
		name, off := expr[1:], uint64(0)
		if idx := strings.IndexByte(name, '+'); idx != -1 {
			if _, err := fmt.Sscanf(strings.TrimSpace(name[idx+1:]), "%d", &off); err != nil {
				return "", fmt.Errorf("invalid offset in %q", expr)
			}
			name = strings.TrimSpace(name[:idx])
		}
		s, ok := h.table.Lookup(name)
		if !ok {
			return "", fmt.Errorf("no symbol %q in current context", name)
		}
		return h.table.Format(s.Addr + off), nil
	}

	s, ok := h.table.Lookup(expr)
	if !ok {
		return "", fmt.Errorf("no symbol %q in current context", expr)
	}
	buf := make([]byte, 8)
	if err := h.ReadMemory(s.Addr, buf); err != nil {
		return "", err
	}
	return h.table.Format(binary.LittleEndian.Uint64(buf)), nil
}

func (h *Host) Register(reg host.Reg) (uint64, error) {
	v, ok := h.regs[reg]
	if !ok {
		return 0, fmt.Errorf("register %s not available", reg)
	}
	return v, nil
}

var errNotInnermost = errors.New("registers can only be written in frame 0")

func (h *Host) SetRegister(reg host.Reg, val uint64) error {
	if h.frame != 0 {
		return errNotInnermost
	}
	if err := h.FailWrite[reg]; err != nil {
		return err
	}
	h.regs[reg] = val
	h.Writes = append(h.Writes, Write{Reg: reg, Val: val})
	return nil
}

func (h *Host) SelectFrame(n int) error {
	h.Selects = append(h.Selects, n)
	if n < 0 || n > h.MaxFrame {
		return fmt.Errorf("no frame at level %d", n)
	}
	h.frame = n
	return nil
}

func (h *Host) Frame() int {
	return h.frame
}
