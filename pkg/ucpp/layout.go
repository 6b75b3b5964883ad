package ucpp

import (
	"fmt"

	"github.com/hitzhangjie/ucdbg/pkg/symbol"
)

// TypeInfo resolves struct members, implemented by *symbol.Types
type TypeInfo interface {
	Field(typ, path string) (symbol.Field, error)
}

// Layout byte offsets of the uC++ kernel structures ucdbg reads.
//
// Every "link" is a uSeqable node (uClusterDL, uBaseTaskDL, uProcessorDL)
// of a circular list, holding a reference to the entity it links.
type Layout struct {
	ClustersRoot symbol.Field // uSequence<uClusterDL>::root

	// ClustersIndirect the clusters symbol is a uClusterSeq *, not the
	// sequence itself
	ClustersIndirect bool

	ClusterLinkNext   symbol.Field
	ClusterLinkRef    symbol.Field
	ClusterName       symbol.Field
	ClusterTasks      symbol.Field // root of uCluster::tasksOnCluster
	ClusterProcessors symbol.Field // root of uCluster::processorsOnCluster

	TaskLinkNext symbol.Field
	TaskLinkRef  symbol.Field
	TaskName     symbol.Field
	TaskState    symbol.Field
	TaskContext  symbol.Field // pointer to the saved uContext_t

	ProcLinkNext   symbol.Field
	ProcLinkRef    symbol.Field
	ProcPID        symbol.Field
	ProcPreemption symbol.Field
	ProcSpin       symbol.Field

	ContextSP symbol.Field
	ContextFP symbol.Field

	StateNames map[int64]string
	Terminated int64 // value of the terminated task state
}

// LayoutConfig tunes LoadLayout
type LayoutConfig struct {
	// Overrides replaces the offset of an entry, keyed like "task.state"
	Overrides map[string]uint64

	// TerminatedState is the enumerator of the terminated task state
	TerminatedState string

	// ClustersSymbol is looked up in the debug info to tell whether it's a
	// pointer, DefaultClustersSymbol if empty
	ClustersSymbol string

	// ClustersIndirect forces the clusters symbol to be read as a pointer
	// (true) or as the sequence itself (false), nil asks the debug info
	ClustersIndirect *bool
}

// pointerInfo is implemented by TypeInfo able to describe variables
type pointerInfo interface {
	IsPointer(name string) (bool, error)
}

// DefaultTerminatedState name of uBaseTask::State's terminated enumerator
const DefaultTerminatedState = "Terminate"

// uBaseTask::State when the debug info doesn't describe it
var defaultStateNames = map[int64]string{
	0: "Start",
	1: "Ready",
	2: "Running",
	3: "Blocked",
	4: "Terminate",
}

type layoutEntry struct {
	key  string
	typ  string
	path string
	size int64
	dst  func(l *Layout) *symbol.Field
}

var layoutEntries = []layoutEntry{
	{"clusters.root", "uSequence<uClusterDL>", "root", 8, func(l *Layout) *symbol.Field { return &l.ClustersRoot }},

	{"cluster-link.next", "uClusterDL", "next", 8, func(l *Layout) *symbol.Field { return &l.ClusterLinkNext }},
	{"cluster-link.cluster", "uClusterDL", "cluster_", 8, func(l *Layout) *symbol.Field { return &l.ClusterLinkRef }},
	{"cluster.name", "uCluster", "name", 8, func(l *Layout) *symbol.Field { return &l.ClusterName }},
	{"cluster.tasks", "uCluster", "tasksOnCluster.root", 8, func(l *Layout) *symbol.Field { return &l.ClusterTasks }},
	{"cluster.processors", "uCluster", "processorsOnCluster.root", 8, func(l *Layout) *symbol.Field { return &l.ClusterProcessors }},

	{"task-link.next", "uBaseTaskDL", "next", 8, func(l *Layout) *symbol.Field { return &l.TaskLinkNext }},
	{"task-link.task", "uBaseTaskDL", "task_", 8, func(l *Layout) *symbol.Field { return &l.TaskLinkRef }},
	{"task.name", "uBaseTask", "name", 8, func(l *Layout) *symbol.Field { return &l.TaskName }},
	{"task.state", "uBaseTask", "state", 4, func(l *Layout) *symbol.Field { return &l.TaskState }},
	{"task.context", "uBaseTask", "context", 8, func(l *Layout) *symbol.Field { return &l.TaskContext }},

	{"processor-link.next", "uProcessorDL", "next", 8, func(l *Layout) *symbol.Field { return &l.ProcLinkNext }},
	{"processor-link.processor", "uProcessorDL", "processor_", 8, func(l *Layout) *symbol.Field { return &l.ProcLinkRef }},
	{"processor.pid", "uProcessor", "pid", 4, func(l *Layout) *symbol.Field { return &l.ProcPID }},
	{"processor.preemption", "uProcessor", "preemption", 4, func(l *Layout) *symbol.Field { return &l.ProcPreemption }},
	{"processor.spin", "uProcessor", "spin", 4, func(l *Layout) *symbol.Field { return &l.ProcSpin }},

	{"context.sp", "UPP::uMachContext::uContext_t", "SP", 8, func(l *Layout) *symbol.Field { return &l.ContextSP }},
	{"context.fp", "UPP::uMachContext::uContext_t", "FP", 8, func(l *Layout) *symbol.Field { return &l.ContextFP }},
}

// LayoutKeys returns the keys accepted in LayoutConfig.Overrides
func LayoutKeys() []string {
	keys := make([]string, 0, len(layoutEntries))
	for _, e := range layoutEntries {
		keys = append(keys, e.key)
	}
	return keys
}

// LoadLayout resolves every entry from types, overrides win over debug info.
// types may be nil when the binary has no DWARF, then every entry must be
// overridden.
func LoadLayout(types TypeInfo, cfg LayoutConfig) (*Layout, error) {
	l := &Layout{}

	for _, e := range layoutEntries {
		var (
			f   symbol.Field
			err error
		)
		if types != nil {
			f, err = types.Field(e.typ, e.path)
		} else {
			err = fmt.Errorf("no debug info")
		}

		off, overridden := cfg.Overrides[e.key]
		switch {
		case overridden:
			f.Offset = off
		case err != nil:
			return nil, fmt.Errorf("layout of %s::%s (%s): %v", e.typ, e.path, e.key, err)
		}

		if !validSize(f.Size) {
			f.Size = e.size
		}
		*e.dst(l) = f
	}

	l.ClustersIndirect = clustersIndirect(types, cfg)

	l.StateNames = l.TaskState.Enum
	if len(l.StateNames) == 0 {
		l.StateNames = defaultStateNames
	}

	terminated := cfg.TerminatedState
	if terminated == "" {
		terminated = DefaultTerminatedState
	}
	found := false
	for v, name := range l.StateNames {
		if name == terminated {
			l.Terminated, found = v, true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("task state %s not found", terminated)
	}
	return l, nil
}

// clustersIndirect decides how the clusters symbol is read. uC++ allocates
// the cluster sequence at boot and keeps a pointer to it, that's assumed
// when neither the config nor the debug info tell.
func clustersIndirect(types TypeInfo, cfg LayoutConfig) bool {
	if cfg.ClustersIndirect != nil {
		return *cfg.ClustersIndirect
	}
	name := cfg.ClustersSymbol
	if name == "" {
		name = DefaultClustersSymbol
	}
	if pi, ok := types.(pointerInfo); ok {
		if ptr, err := pi.IsPointer(name); err == nil {
			return ptr
		}
	}
	return true
}

// StateName returns the enumerator name of a task state
func (l *Layout) StateName(state int64) string {
	if name, ok := l.StateNames[state]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", state)
}

func validSize(size int64) bool {
	switch size {
	case 1, 2, 4, 8:
		return true
	}
	return false
}
