// Package ucpp reads the uC++ kernel data structures out of a stopped
// target: the circular lists of clusters, and of tasks and processors bound
// to every cluster.
package ucpp

import (
	"fmt"

	"github.com/hitzhangjie/ucdbg/pkg/host"
	"github.com/hitzhangjie/ucdbg/pkg/logflags"
	"github.com/hitzhangjie/ucdbg/pkg/symbol"
	"github.com/sirupsen/logrus"
)

// DefaultClustersSymbol global list of every cluster
const DefaultClustersSymbol = "uKernelModule::globalClusters"

// Target what the directory needs from the debugger
type Target interface {
	host.Memory
	LookupSymbol(name string) (symbol.Symbol, bool)
}

// Cluster a uCluster, identified by its address
type Cluster struct {
	Addr           uint64
	Name           string
	TasksRoot      uint64 // first uBaseTaskDL, 0 if no task
	ProcessorsRoot uint64 // first uProcessorDL, 0 if no processor
}

// Task a uBaseTask. Ordinal is its position in the cluster's task list
// when it was read, -1 if it was not found by traversal.
type Task struct {
	Ordinal int
	Addr    uint64
	Name    string
	State   int64
}

// Processor a uProcessor
type Processor struct {
	Addr       uint64
	PID        int64
	Preemption uint64
	Spin       uint64
}

// ContextRecord stack and frame pointer saved by uSwitch when the task
// was switched out
type ContextRecord struct {
	Addr uint64
	SP   uint64
	FP   uint64
}

// Directory enumerates uC++ entities. Nothing is cached, every call reads
// the target's memory again.
type Directory struct {
	target         Target
	layout         *Layout
	clustersSymbol string
	log            *logrus.Entry
}

// NewDirectory creates a directory reading the lists rooted at
// clustersSymbol, DefaultClustersSymbol if empty.
func NewDirectory(target Target, layout *Layout, clustersSymbol string) *Directory {
	if clustersSymbol == "" {
		clustersSymbol = DefaultClustersSymbol
	}
	return &Directory{
		target:         target,
		layout:         layout,
		clustersSymbol: clustersSymbol,
		log:            logflags.DirectoryLogger(),
	}
}

// Layout returns the structure layout in use
func (d *Directory) Layout() *Layout {
	return d.layout
}

// clustersRoot returns the first uClusterDL, 0 if the runtime has no cluster
func (d *Directory) clustersRoot() (uint64, error) {
	sym, ok := d.target.LookupSymbol(d.clustersSymbol)
	if !ok {
		return 0, &host.MissingSymbolError{Name: d.clustersSymbol}
	}
	seq := sym.Addr
	if d.layout.ClustersIndirect {
		var err error
		if seq, err = readPtr(d.target, sym.Addr); err != nil {
			return 0, fmt.Errorf("read %s: %v", d.clustersSymbol, err)
		}
		if seq == 0 {
			return 0, fmt.Errorf("%s is nil, the runtime is not initialized", d.clustersSymbol)
		}
	}
	root, err := readPtr(d.target, seq+d.layout.ClustersRoot.Offset)
	if err != nil {
		return 0, fmt.Errorf("read %s root: %v", d.clustersSymbol, err)
	}
	return root, nil
}

func (d *Directory) clusterRing() (ring, error) {
	root, err := d.clustersRoot()
	if err != nil {
		return ring{}, err
	}
	return ring{kind: "cluster", mem: d.target, root: root, nextOff: d.layout.ClusterLinkNext.Offset}, nil
}

func (d *Directory) taskRing(c *Cluster) ring {
	return ring{kind: "task", mem: d.target, root: c.TasksRoot, nextOff: d.layout.TaskLinkNext.Offset}
}

func (d *Directory) processorRing(c *Cluster) ring {
	return ring{kind: "processor", mem: d.target, root: c.ProcessorsRoot, nextOff: d.layout.ProcLinkNext.Offset}
}

// EachCluster calls fn for every cluster in list order until fn returns false
func (d *Directory) EachCluster(fn func(c *Cluster) bool) error {
	r, err := d.clusterRing()
	if err != nil {
		return err
	}
	n, err := r.walk(func(idx int, link uint64) (bool, error) {
		c, err := d.clusterOfLink(link)
		if err != nil {
			return false, err
		}
		return fn(c), nil
	})
	d.log.Debugf("walked %d clusters from root %#x", n, r.root)
	return err
}

// Clusters returns every cluster in list order
func (d *Directory) Clusters() ([]*Cluster, error) {
	var clusters []*Cluster
	err := d.EachCluster(func(c *Cluster) bool {
		clusters = append(clusters, c)
		return true
	})
	return clusters, err
}

// FindClusterByName returns the first cluster named name
func (d *Directory) FindClusterByName(name string) (*Cluster, error) {
	var found *Cluster
	err := d.EachCluster(func(c *Cluster) bool {
		if c.Name == name {
			found = c
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, &NotFoundError{Kind: "cluster", Name: name, Count: -1}
	}
	return found, nil
}

// FindClusterByOrdinal returns the cluster at 0-based position idx
func (d *Directory) FindClusterByOrdinal(idx int) (*Cluster, error) {
	r, err := d.clusterRing()
	if err != nil {
		return nil, err
	}
	link, count, err := d.nodeAt(r, idx)
	if err != nil {
		return nil, err
	}
	if link == 0 {
		return nil, &NotFoundError{Kind: "cluster", Ordinal: idx, Count: count}
	}
	return d.clusterOfLink(link)
}

// ClusterAt reads the uCluster at addr, without checking it's on the list
func (d *Directory) ClusterAt(addr uint64) (*Cluster, error) {
	l := d.layout
	name, err := readCString(d.target, addr, l.ClusterName)
	if err != nil {
		return nil, fmt.Errorf("read cluster at %#x: %v", addr, err)
	}
	tasks, err := readPtr(d.target, addr+l.ClusterTasks.Offset)
	if err != nil {
		return nil, fmt.Errorf("read tasks of cluster %s: %v", name, err)
	}
	procs, err := readPtr(d.target, addr+l.ClusterProcessors.Offset)
	if err != nil {
		return nil, fmt.Errorf("read processors of cluster %s: %v", name, err)
	}
	return &Cluster{Addr: addr, Name: name, TasksRoot: tasks, ProcessorsRoot: procs}, nil
}

func (d *Directory) clusterOfLink(link uint64) (*Cluster, error) {
	addr, err := readPtr(d.target, link+d.layout.ClusterLinkRef.Offset)
	if err != nil {
		return nil, err
	}
	return d.ClusterAt(addr)
}

// EachTask calls fn for every task of c in list order until fn returns false
func (d *Directory) EachTask(c *Cluster, fn func(t *Task) bool) error {
	n, err := d.taskRing(c).walk(func(idx int, link uint64) (bool, error) {
		addr, err := readPtr(d.target, link+d.layout.TaskLinkRef.Offset)
		if err != nil {
			return false, err
		}
		t, err := d.TaskAt(addr)
		if err != nil {
			return false, err
		}
		t.Ordinal = idx
		return fn(t), nil
	})
	d.log.Debugf("walked %d tasks of cluster %s", n, c.Name)
	return err
}

// Tasks returns every task of c, an empty slice if c has none
func (d *Directory) Tasks(c *Cluster) ([]*Task, error) {
	tasks := []*Task{}
	err := d.EachTask(c, func(t *Task) bool {
		tasks = append(tasks, t)
		return true
	})
	return tasks, err
}

// FindTaskByOrdinal returns the task at 0-based position idx of c's list
func (d *Directory) FindTaskByOrdinal(c *Cluster, idx int) (*Task, error) {
	link, count, err := d.nodeAt(d.taskRing(c), idx)
	if err != nil {
		return nil, err
	}
	if link == 0 {
		return nil, &NotFoundError{Kind: "task", Ordinal: idx, Count: count}
	}
	addr, err := readPtr(d.target, link+d.layout.TaskLinkRef.Offset)
	if err != nil {
		return nil, err
	}
	t, err := d.TaskAt(addr)
	if err != nil {
		return nil, err
	}
	t.Ordinal = idx
	return t, nil
}

// TaskAt reads the uBaseTask at addr. The task is not looked up on any
// list, callers must check its state before using it.
func (d *Directory) TaskAt(addr uint64) (*Task, error) {
	if addr == 0 {
		return nil, fmt.Errorf("task address is nil")
	}
	l := d.layout
	name, err := readCString(d.target, addr, l.TaskName)
	if err != nil {
		return nil, fmt.Errorf("read task at %#x: %v", addr, err)
	}
	state, err := readInt(d.target, addr, l.TaskState)
	if err != nil {
		return nil, fmt.Errorf("read state of task %s: %v", name, err)
	}
	return &Task{Ordinal: -1, Addr: addr, Name: name, State: state}, nil
}

// ContextRecord reads the uContext_t t was switched out with
func (d *Directory) ContextRecord(t *Task) (*ContextRecord, error) {
	l := d.layout
	ctx, err := readPtr(d.target, t.Addr+l.TaskContext.Offset)
	if err != nil {
		return nil, fmt.Errorf("read context of task %s: %v", t.Name, err)
	}
	if ctx == 0 {
		return nil, fmt.Errorf("task %s has no saved context", t.Name)
	}
	sp, err := readUint(d.target, ctx, l.ContextSP)
	if err != nil {
		return nil, fmt.Errorf("read saved sp of task %s: %v", t.Name, err)
	}
	fp, err := readUint(d.target, ctx, l.ContextFP)
	if err != nil {
		return nil, fmt.Errorf("read saved fp of task %s: %v", t.Name, err)
	}
	return &ContextRecord{Addr: ctx, SP: sp, FP: fp}, nil
}

// EachProcessor calls fn for every processor of c until fn returns false
func (d *Directory) EachProcessor(c *Cluster, fn func(p *Processor) bool) error {
	l := d.layout
	_, err := d.processorRing(c).walk(func(idx int, link uint64) (bool, error) {
		addr, err := readPtr(d.target, link+l.ProcLinkRef.Offset)
		if err != nil {
			return false, err
		}
		p := &Processor{Addr: addr}
		if p.PID, err = readInt(d.target, addr, l.ProcPID); err != nil {
			return false, fmt.Errorf("read processor at %#x: %v", addr, err)
		}
		if p.Preemption, err = readUint(d.target, addr, l.ProcPreemption); err != nil {
			return false, fmt.Errorf("read processor at %#x: %v", addr, err)
		}
		if p.Spin, err = readUint(d.target, addr, l.ProcSpin); err != nil {
			return false, fmt.Errorf("read processor at %#x: %v", addr, err)
		}
		return fn(p), nil
	})
	return err
}

// Processors returns every processor of c, an empty slice if c has none
func (d *Directory) Processors(c *Cluster) ([]*Processor, error) {
	procs := []*Processor{}
	err := d.EachProcessor(c, func(p *Processor) bool {
		procs = append(procs, p)
		return true
	})
	return procs, err
}

// nodeAt returns the link at position idx of r, or 0 and the number of
// links if r is shorter.
func (d *Directory) nodeAt(r ring, idx int) (uint64, int, error) {
	var link uint64
	count, err := r.walk(func(i int, node uint64) (bool, error) {
		if i == idx {
			link = node
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return 0, count, err
	}
	return link, count, nil
}
