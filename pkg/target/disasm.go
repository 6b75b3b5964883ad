package target

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// maxInstLen longest x86-64 instruction
const maxInstLen = 15

// decodeBoundary decodes code linearly from its start and reports whether
// off is the first byte of an instruction.
func decodeBoundary(code []byte, off uint64) (bool, error) {
	if off >= uint64(len(code)) {
		return false, nil
	}
	pos := uint64(0)
	for pos < off {
		inst, err := x86asm.Decode(code[pos:], 64)
		if err != nil {
			return false, fmt.Errorf("x86asm decode error at +%d: %v", pos, err)
		}
		pos += uint64(inst.Len)
	}
	return pos == off, nil
}

// decodeOne decodes the instruction at the start of code located at addr
func decodeOne(code []byte, addr uint64, syntax string) (x86asm.Inst, string, error) {
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return x86asm.Inst{}, "", fmt.Errorf("x86asm decode error: %v", err)
	}
	asm, err := instSyntax(inst, addr, syntax)
	if err != nil {
		return x86asm.Inst{}, "", err
	}
	return inst, asm, nil
}

func instSyntax(inst x86asm.Inst, pc uint64, syntax string) (string, error) {
	asm := ""
	switch syntax {
	case "go":
		asm = x86asm.GoSyntax(inst, pc, nil)
	case "gnu":
		asm = x86asm.GNUSyntax(inst, pc, nil)
	case "intel":
		asm = x86asm.IntelSyntax(inst, pc, nil)
	default:
		return "", fmt.Errorf("invalid asm syntax %q, supported: go, gnu, intel", syntax)
	}
	return asm, nil
}
