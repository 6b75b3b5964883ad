package symbol

import (
	"debug/dwarf"
	"errors"
	"fmt"
	"strings"
)

// attrMIPSLinkageName is DW_AT_MIPS_linkage_name, which debug/dwarf does not name.
const attrMIPSLinkageName dwarf.Attr = 0x2007

// Field location of a (possibly nested or inherited) struct member
type Field struct {
	Offset uint64           // byte offset from the start of the outermost type
	Size   int64            // byte size of the member's type, -1 if unknown
	Enum   map[int64]string // enumerator names if the member is an enum
}

// member a DW_TAG_member or DW_TAG_inheritance child of a struct/class
type member struct {
	name   string
	offset uint64
	typ    dwarf.Offset
}

// structType struct/class definition, see DWARFv4 5.5 structure, union, class
type structType struct {
	name    string
	members []member
	bases   []member // DW_TAG_inheritance, name is empty
}

// Types index of the aggregate types defined in .debug_info, keyed by the
// unqualified type name.
type Types struct {
	structs map[string]*structType
	vars    map[string]dwarf.Offset // variable => type, by linkage and by Class::member
	typeOf  func(off dwarf.Offset) (dwarf.Type, error)
}

var errNoDebugInfo = errors.New("no debug info")

// ParseTypes walks every DIE of dwarfData and indexes struct/class
// definitions together with their members and base classes.
func ParseTypes(dwarfData *dwarf.Data) (*Types, error) {
	if dwarfData == nil {
		return nil, errNoDebugInfo
	}
	types := &Types{
		structs: map[string]*structType{},
		vars:    map[string]dwarf.Offset{},
		typeOf:  dwarfData.Type,
	}

	// one element per open DIE with children, nil if it's not a struct we index
	var parents []*structType

	reader := dwarfData.Reader()
	for {
		entry, err := reader.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break
		}

		// null entry closes the innermost open DIE
		if entry.Tag == 0 {
			if len(parents) != 0 {
				parents = parents[:len(parents)-1]
			}
			continue
		}

		var parent *structType
		if len(parents) != 0 {
			parent = parents[len(parents)-1]
		}

		var opened *structType
		switch entry.Tag {
		case dwarf.TagStructType, dwarf.TagClassType, dwarf.TagUnionType:
			name, _ := entry.Val(dwarf.AttrName).(string)
			decl, _ := entry.Val(dwarf.AttrDeclaration).(bool)
			if name != "" && !decl && entry.Children {
				opened = &structType{name: name}
				if _, ok := types.structs[name]; !ok {
					types.structs[name] = opened
				}
			}
		case dwarf.TagVariable:
			types.indexVariable(entry, parent)
		case dwarf.TagMember, dwarf.TagInheritance:
			if parent == nil {
				break
			}
			// static members have no location, only their type is kept
			loc := entry.AttrField(dwarf.AttrDataMemberLoc)
			if loc == nil {
				types.indexVariable(entry, parent)
				break
			}
			off, ok := memberOffset(loc.Val)
			if !ok {
				break
			}
			typ, _ := entry.Val(dwarf.AttrType).(dwarf.Offset)
			m := member{offset: off, typ: typ}
			if entry.Tag == dwarf.TagInheritance {
				parent.bases = append(parent.bases, m)
			} else {
				m.name, _ = entry.Val(dwarf.AttrName).(string)
				parent.members = append(parent.members, m)
			}
		}

		if entry.Children {
			parents = append(parents, opened)
		}
	}

	if len(types.structs) == 0 {
		return nil, errNoDebugInfo
	}
	return types, nil
}

// indexVariable records the type of a variable or static member under its
// linkage name and, inside a class, under "Class::name".
func (t *Types) indexVariable(entry *dwarf.Entry, parent *structType) {
	typ, ok := entry.Val(dwarf.AttrType).(dwarf.Offset)
	if !ok {
		return
	}
	for _, attr := range []dwarf.Attr{dwarf.AttrLinkageName, attrMIPSLinkageName} {
		if linkage, _ := entry.Val(attr).(string); linkage != "" {
			t.vars[linkage] = typ
		}
	}
	if name, _ := entry.Val(dwarf.AttrName).(string); name != "" && parent != nil {
		t.vars[parent.name+"::"+name] = typ
	}
}

// IsPointer reports whether the variable named by its qualified name, like
// "uKernelModule::globalClusters", is declared with a pointer type.
func (t *Types) IsPointer(name string) (bool, error) {
	if t == nil {
		return false, errNoDebugInfo
	}
	off, ok := t.vars[Mangle(name)]
	if !ok {
		off, ok = t.vars[classMember(name)]
	}
	if !ok {
		return false, fmt.Errorf("variable %s not found in debug info", name)
	}
	if t.typeOf == nil {
		return false, errNoDebugInfo
	}
	typ, err := t.typeOf(off)
	if err != nil {
		return false, fmt.Errorf("type of %s: %v", name, err)
	}
	_, ptr := stripType(typ).(*dwarf.PtrType)
	return ptr, nil
}

// classMember UPP::uKernelModule::globalClusters => uKernelModule::globalClusters
func classMember(name string) string {
	parts := strings.Split(name, "::")
	if len(parts) <= 2 {
		return name
	}
	return strings.Join(parts[len(parts)-2:], "::")
}

// memberOffset decodes DW_AT_data_member_location, either a constant
// (DWARF 3+) or a DW_OP_plus_uconst expression (DWARF 2).
func memberOffset(val interface{}) (uint64, bool) {
	switch v := val.(type) {
	case int64:
		return uint64(v), true
	case []byte:
		const opPlusUconst = 0x23
		if len(v) < 2 || v[0] != opPlusUconst {
			return 0, false
		}
		var (
			off   uint64
			shift uint
		)
		for _, b := range v[1:] {
			off |= uint64(b&0x7f) << shift
			if b&0x80 == 0 {
				return off, true
			}
			shift += 7
		}
	}
	return 0, false
}

// Field resolves path, a dot separated list of member names like
// "tasksOnCluster.root", inside the type named typ. Members inherited from
// base classes are found as well.
func (t *Types) Field(typ, path string) (Field, error) {
	if t == nil {
		return Field{}, errNoDebugInfo
	}
	st, ok := t.structs[unqualified(typ)]
	if !ok {
		return Field{}, fmt.Errorf("type %s not found in debug info", typ)
	}

	var (
		names = strings.Split(path, ".")
		off   uint64
		cur   = st
	)
	for i, name := range names {
		base, m, ok := t.lookupMember(cur, name, 0)
		if !ok {
			return Field{}, fmt.Errorf("type %s has no member %s", cur.name, name)
		}
		off += base + m.offset

		mtyp, err := t.memberType(m)
		if err != nil {
			return Field{}, fmt.Errorf("type of %s.%s: %v", typ, path, err)
		}

		if i == len(names)-1 {
			return newField(off, mtyp), nil
		}

		next, ok := t.structOf(mtyp)
		if !ok {
			return Field{}, fmt.Errorf("member %s of %s is not a struct", name, cur.name)
		}
		cur = next
	}
	return Field{}, fmt.Errorf("empty member path for %s", typ)
}

// lookupMember finds name in st or, depth first, in its base classes. The
// returned offset is the position of the base class holding the member.
func (t *Types) lookupMember(st *structType, name string, depth int) (uint64, member, bool) {
	for _, m := range st.members {
		if m.name == name {
			return 0, m, true
		}
	}
	if depth > 16 {
		return 0, member{}, false
	}
	for _, b := range st.bases {
		typ, err := t.memberType(b)
		if err != nil {
			continue
		}
		bst, ok := t.structOf(typ)
		if !ok {
			continue
		}
		if off, m, ok := t.lookupMember(bst, name, depth+1); ok {
			return b.offset + off, m, true
		}
	}
	return 0, member{}, false
}

func (t *Types) memberType(m member) (dwarf.Type, error) {
	if t.typeOf == nil {
		return nil, errNoDebugInfo
	}
	return t.typeOf(m.typ)
}

func (t *Types) structOf(typ dwarf.Type) (*structType, bool) {
	st, ok := stripType(typ).(*dwarf.StructType)
	if !ok || st.StructName == "" {
		return nil, false
	}
	s, ok := t.structs[st.StructName]
	return s, ok
}

func newField(off uint64, typ dwarf.Type) Field {
	f := Field{Offset: off, Size: -1}
	if typ == nil {
		return f
	}
	f.Size = typ.Size()

	if et, ok := stripType(typ).(*dwarf.EnumType); ok {
		f.Enum = make(map[int64]string, len(et.Val))
		for _, v := range et.Val {
			f.Enum[v.Val] = v.Name
		}
	}
	return f
}

// stripType removes typedefs and cv-qualifiers
func stripType(typ dwarf.Type) dwarf.Type {
	for {
		switch v := typ.(type) {
		case *dwarf.TypedefType:
			typ = v.Type
		case *dwarf.QualType:
			typ = v.Type
		default:
			return typ
		}
	}
}

// unqualified UPP::uMachContext::uContext_t => uContext_t
func unqualified(name string) string {
	if strings.ContainsRune(name, '<') {
		return name
	}
	if idx := strings.LastIndex(name, "::"); idx != -1 {
		return name[idx+2:]
	}
	return name
}
