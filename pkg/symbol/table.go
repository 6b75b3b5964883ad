package symbol

import (
	"debug/elf"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Symbol an entry of the target's symbol table, Addr is already relocated
type Symbol struct {
	Name string
	Addr uint64
	Size uint64
}

// Table symbol table of the debugged binary
type Table struct {
	syms   []Symbol          // sorted by address
	byName map[string]Symbol // first definition wins
}

// NewTable builds a table from syms
func NewTable(syms []Symbol) *Table {
	t := &Table{
		syms:   make([]Symbol, 0, len(syms)),
		byName: make(map[string]Symbol, len(syms)),
	}
	for _, s := range syms {
		if s.Name == "" || s.Addr == 0 {
			continue
		}
		t.syms = append(t.syms, s)
		if _, ok := t.byName[s.Name]; !ok {
			t.byName[s.Name] = s
		}
	}
	sort.SliceStable(t.syms, func(i, j int) bool {
		return t.syms[i].Addr < t.syms[j].Addr
	})
	return t
}

// LoadTable reads .symtab (or .dynsym if stripped) of file, every address is
// shifted by bias, the load bias of a position independent executable.
func LoadTable(file *elf.File, bias uint64) (*Table, error) {
	elfSyms, err := file.Symbols()
	if err != nil {
		if !errors.Is(err, elf.ErrNoSymbols) {
			return nil, fmt.Errorf("read symtab err: %v", err)
		}
		if elfSyms, err = file.DynamicSymbols(); err != nil {
			return nil, fmt.Errorf("read dynsym err: %v", err)
		}
	}

	syms := make([]Symbol, 0, len(elfSyms))
	for _, s := range elfSyms {
		if s.Section == elf.SHN_UNDEF {
			continue
		}
		switch elf.ST_TYPE(s.Info) {
		case elf.STT_FUNC, elf.STT_OBJECT, elf.STT_NOTYPE:
		default:
			continue
		}
		syms = append(syms, Symbol{Name: s.Name, Addr: s.Value + bias, Size: s.Size})
	}
	return NewTable(syms), nil
}

// Len returns the number of symbols
func (t *Table) Len() int {
	return len(t.syms)
}

// Lookup finds a symbol by its linkage name or by its C++ qualified name,
// like uKernelModule::globalClusters.
func (t *Table) Lookup(name string) (Symbol, bool) {
	if s, ok := t.byName[name]; ok {
		return s, true
	}
	mangled := Mangle(name)
	if mangled == name {
		return Symbol{}, false
	}
	s, ok := t.byName[mangled]
	return s, ok
}

// Describe returns the symbol covering addr and the offset of addr inside it
func (t *Table) Describe(addr uint64) (Symbol, uint64, bool) {
	idx := sort.Search(len(t.syms), func(i int) bool {
		return t.syms[i].Addr > addr
	})
	if idx == 0 {
		return Symbol{}, 0, false
	}
	s := t.syms[idx-1]
	if s.Size != 0 && addr >= s.Addr+s.Size {
		return Symbol{}, 0, false
	}
	return s, addr - s.Addr, true
}

// Format formats addr as "0x... <sym+off>"
func (t *Table) Format(addr uint64) string {
	s, off, ok := t.Describe(addr)
	if !ok {
		return FormatAddress(addr, "", 0)
	}
	return FormatAddress(addr, Demangle(s.Name), off)
}

// Mangle returns the Itanium C++ linkage name of a qualified variable name,
// nested names only, no templates or function signatures.
//
// uKernelModule::globalClusters => _ZN13uKernelModule14globalClustersE
func Mangle(qualified string) string {
	parts := strings.Split(qualified, "::")
	if len(parts) < 2 {
		return qualified
	}
	var b strings.Builder
	b.WriteString("_ZN")
	for _, p := range parts {
		if p == "" {
			return qualified
		}
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteString(p)
	}
	b.WriteString("E")
	return b.String()
}

// Demangle reverses Mangle, names it cannot handle are returned unchanged
func Demangle(name string) string {
	if !strings.HasPrefix(name, "_ZN") || !strings.HasSuffix(name, "E") {
		return name
	}
	s := name[3 : len(name)-1]

	var parts []string
	for len(s) > 0 {
		i := 0
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		n, err := strconv.Atoi(s[:i])
		if err != nil || n == 0 || i+n > len(s) {
			return name
		}
		parts = append(parts, s[i:i+n])
		s = s[i+n:]
	}
	return strings.Join(parts, "::")
}
