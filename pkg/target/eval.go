package target

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/hitzhangjie/ucdbg/pkg/host"
	"github.com/hitzhangjie/ucdbg/pkg/symbol"
)

var regNames = map[string]host.Reg{
	"$sp":  host.SP,
	"$rsp": host.SP,
	"$fp":  host.FP,
	"$rbp": host.FP,
	"$pc":  host.PC,
	"$rip": host.PC,
}

// Eval evaluates the small expression language the switch engine and the
// task command need:
//
//	$sp $fp $pc $rsp $rbp $rip   register of the selected frame
//	&name, &name+N, &name-N      address of a symbol
//	name                         pointer sized variable
//	*ADDR                        pointer stored at ADDR
//	0x..., 123                   literal
//
// Addresses are formatted as "0x... <sym+off>" when a symbol covers them.
func (h *Host) Eval(expr string) (string, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", &symbol.MalformedInputError{Input: expr, Want: "expression"}
	}

	if reg, ok := regNames[expr]; ok {
		v, err := h.Register(reg)
		if err != nil {
			return "", err
		}
		if reg == host.PC {
			return h.format(v), nil
		}
		return fmt.Sprintf("%#x", v), nil
	}

	switch expr[0] {
	case '&':
		addr, err := h.symbolAddr(expr[1:])
		if err != nil {
			return "", err
		}
		return h.format(addr), nil
	case '*':
		addr, err := h.evalAddress(expr[1:])
		if err != nil {
			return "", err
		}
		return h.deref(addr)
	}

	if v, err := strconv.ParseUint(expr, 0, 64); err == nil {
		return h.format(v), nil
	}

	s, ok := h.LookupSymbol(expr)
	if !ok {
		return "", fmt.Errorf("no symbol %q in current context", expr)
	}
	return h.deref(s.Addr)
}

// symbolAddr evaluates "name", "name+N" or "name-N"
func (h *Host) symbolAddr(s string) (uint64, error) {
	name, off, neg := s, uint64(0), false
	if idx := strings.LastIndexAny(s, "+-"); idx > 0 {
		var err error
		if off, err = strconv.ParseUint(strings.TrimSpace(s[idx+1:]), 0, 64); err != nil {
			return 0, &symbol.MalformedInputError{Input: s, Want: "symbol offset"}
		}
		name, neg = s[:idx], s[idx] == '-'
	}
	name = strings.TrimSpace(name)

	sym, ok := h.LookupSymbol(name)
	if !ok {
		return 0, fmt.Errorf("no symbol %q in current context", name)
	}
	if neg {
		return sym.Addr - off, nil
	}
	return sym.Addr + off, nil
}

func (h *Host) evalAddress(s string) (uint64, error) {
	v, err := h.Eval(s)
	if err != nil {
		return 0, err
	}
	return symbol.ParseAddress(v)
}

func (h *Host) deref(addr uint64) (string, error) {
	buf := make([]byte, 8)
	if err := h.ReadMemory(addr, buf); err != nil {
		return "", err
	}
	return h.format(binary.LittleEndian.Uint64(buf)), nil
}

func (h *Host) format(addr uint64) string {
	if h.bi == nil || h.bi.Symbols == nil {
		return symbol.FormatAddress(addr, "", 0)
	}
	return h.bi.Symbols.Format(addr)
}
