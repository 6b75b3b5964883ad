package symbol

import (
	"fmt"
	"strconv"
	"strings"
)

// MalformedInputError is returned when an operator argument is not a
// well-formed address, number or identifier.
type MalformedInputError struct {
	Input string
	Want  string
}

func (err *MalformedInputError) Error() string {
	return fmt.Sprintf("invalid %s: %q", err.Want, err.Input)
}

// Resolve strips the symbolic annotation a debugger appends to a formatted
// address, e.g. "0x4010a0 <uSwitch+28>" becomes "0x4010a0".
//
// Input without an annotation is returned unchanged.
func Resolve(raw string) string {
	idx := strings.IndexByte(raw, '<')
	if idx == -1 {
		return raw
	}
	return strings.TrimSpace(raw[:idx])
}

// ParseAddress resolves raw and parses the remaining numeric address.
func ParseAddress(raw string) (uint64, error) {
	s, ok := stripCast(strings.TrimSpace(raw))
	if !ok {
		return 0, &MalformedInputError{Input: raw, Want: "address"}
	}
	s = Resolve(s)
	// gdb prints references as "@0x...", pointers to functions as "(T *) 0x..."
	if idx := strings.LastIndexByte(s, ' '); idx != -1 {
		s = s[idx+1:]
	}
	s = strings.TrimPrefix(s, "@")

	addr, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, &MalformedInputError{Input: raw, Want: "address"}
	}
	return addr, nil
}

// stripCast removes a leading "(T *)" cast, T may hold template brackets
// like "(uSequence<uBaseTaskDL> *) 0x601040". It fails on unbalanced
// parentheses.
func stripCast(s string) (string, bool) {
	if !strings.HasPrefix(s, "(") {
		return s, true
	}
	depth := 0
	for i, c := range s {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[i+1:]), true
			}
		}
	}
	return "", false
}

// FormatAddress formats addr the way Resolve expects to read it back.
func FormatAddress(addr uint64, sym string, off uint64) string {
	switch {
	case sym == "":
		return fmt.Sprintf("%#x", addr)
	case off == 0:
		return fmt.Sprintf("%#x <%s>", addr, sym)
	default:
		return fmt.Sprintf("%#x <%s+%d>", addr, sym, off)
	}
}
