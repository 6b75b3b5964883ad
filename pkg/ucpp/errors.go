package ucpp

import "fmt"

// NotFoundError a named, numbered or addressed entity is absent
type NotFoundError struct {
	Kind    string // "cluster" or "task"
	Name    string // set for lookups by name
	Ordinal int    // set for lookups by ordinal
	Count   int    // entities actually seen, -1 for lookups by name
}

func (err *NotFoundError) Error() string {
	if err.Count < 0 {
		return fmt.Sprintf("cannot find a %s with the name: %s", err.Kind, err.Name)
	}
	return fmt.Sprintf("cannot find %s ID: %d, only %d %ss", err.Kind, err.Ordinal, err.Count, err.Kind)
}

// CorruptListError a circular list that never returns to its root
type CorruptListError struct {
	Kind   string
	Root   uint64
	Reason string
}

func (err *CorruptListError) Error() string {
	return fmt.Sprintf("%s list at %#x is corrupt: %s", err.Kind, err.Root, err.Reason)
}
