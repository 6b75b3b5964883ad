package symbol

import (
	"debug/elf"
	"fmt"
)

// BinaryInfo binary info
type BinaryInfo struct {
	Path    string
	Bias    uint64 // load bias, non-zero only for position independent executables
	Symbols *Table
	Types   *Types // nil if the binary has no usable .debug_info
}

// Analyze analyzes executable `execFile` and returns the binary info.
//
// mapStart is the start address of the lowest mapping of execFile in the
// target's address space, it's used to relocate PIE binaries.
func Analyze(execFile string, mapStart uint64) (*BinaryInfo, error) {

	file, err := elf.Open(execFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	bi := &BinaryInfo{Path: execFile}
	if file.Type == elf.ET_DYN {
		bi.Bias = mapStart - lowestLoadAddr(file)
	}

	// parse .symtab
	if bi.Symbols, err = LoadTable(file, bi.Bias); err != nil {
		return nil, err
	}

	// parse .(z)debug_info, struct layouts only
	dwarfData, err := file.DWARF()
	if err != nil {
		return bi, nil
	}
	if bi.Types, err = ParseTypes(dwarfData); err != nil && err != errNoDebugInfo {
		return nil, fmt.Errorf("parse debug_info err: %v", err)
	}
	return bi, nil
}

// lowestLoadAddr returns the page aligned vaddr of the first PT_LOAD segment
func lowestLoadAddr(file *elf.File) uint64 {
	for _, prog := range file.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		align := prog.Align
		if align == 0 {
			align = 0x1000
		}
		return prog.Vaddr &^ (align - 1)
	}
	return 0
}
