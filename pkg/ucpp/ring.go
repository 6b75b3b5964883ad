package ucpp

import "github.com/hitzhangjie/ucdbg/pkg/host"

// maxRingLen bounds a traversal so that a corrupted list can't hang the
// debugger. It is not a termination rule: a healthy ring always stops on
// its root first.
const maxRingLen = 1 << 16

// ring circular doubly-linked list of uSeqable nodes, linked through the
// pointer stored at nextOff of every node.
type ring struct {
	kind    string
	mem     host.Memory
	root    uint64
	nextOff uint64
}

// walk calls fn with the ordinal and address of every node, starting with
// root as ordinal 0, and stops after the node whose next is root again.
// fn returns false to stop early. walk returns the number of nodes visited.
func (r ring) walk(fn func(idx int, node uint64) (bool, error)) (int, error) {
	if r.root == 0 {
		return 0, nil
	}

	node := r.root
	for idx := 0; ; idx++ {
		if idx == maxRingLen {
			return idx, &CorruptListError{Kind: r.kind, Root: r.root, Reason: "does not return to its root"}
		}

		cont, err := fn(idx, node)
		if err != nil {
			return idx + 1, err
		}
		if !cont {
			return idx + 1, nil
		}

		next, err := readPtr(r.mem, node+r.nextOff)
		if err != nil {
			return idx + 1, err
		}
		if next == 0 {
			return idx + 1, &CorruptListError{Kind: r.kind, Root: r.root, Reason: "nil next link"}
		}
		if next == r.root {
			return idx + 1, nil
		}
		node = next
	}
}
