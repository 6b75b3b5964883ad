// Package ucpptest lays out uC++ kernel lists in a fakehost's memory.
package ucpptest

import (
	"github.com/hitzhangjie/ucdbg/pkg/host/fakehost"
	"github.com/hitzhangjie/ucdbg/pkg/symbol"
	"github.com/hitzhangjie/ucdbg/pkg/ucpp"
)

// Task states as numbered by defaultStateNames
const (
	Start int64 = iota
	Ready
	Running
	Blocked
	Terminate
)

// Offsets of the compact layout used by Build
var Offsets = map[string]uint64{
	"clusters.root":            0,
	"cluster-link.next":        0,
	"cluster-link.cluster":     16,
	"cluster.name":             0,
	"cluster.tasks":            8,
	"cluster.processors":       16,
	"task-link.next":           0,
	"task-link.task":           16,
	"task.name":                0,
	"task.state":               8,
	"task.context":             16,
	"processor-link.next":      0,
	"processor-link.processor": 16,
	"processor.pid":            0,
	"processor.preemption":     4,
	"processor.spin":           8,
	"context.sp":               0,
	"context.fp":               8,
}

const (
	linkSize      = 24 // next, back, reference
	clusterSize   = 32
	taskSize      = 32
	processorSize = 16
	contextSize   = 16
)

// Layout returns the layout matching Offsets
func Layout() *ucpp.Layout {
	l, err := ucpp.LoadLayout(nil, ucpp.LayoutConfig{Overrides: Offsets})
	if err != nil {
		panic(err)
	}
	return l
}

// TaskSpec a task to lay out, SP and FP go to its saved context
type TaskSpec struct {
	Name  string
	State int64
	SP    uint64
	FP    uint64
}

// ProcessorSpec a processor to lay out
type ProcessorSpec struct {
	PID        int64
	Preemption uint64
	Spin       uint64
}

// ClusterSpec a cluster to lay out
type ClusterSpec struct {
	Name       string
	Tasks      []TaskSpec
	Processors []ProcessorSpec
}

// ClusterImage addresses of a laid out cluster
type ClusterImage struct {
	Addr       uint64
	Tasks      []uint64
	Contexts   []uint64
	Processors []uint64
}

// Image addresses of everything Build laid out
type Image struct {
	GlobalClusters uint64 // the uClusterSeq * variable
	ClusterSeq     uint64 // the uClusterSeq it points to
	Clusters       []ClusterImage
}

// Build lays out clusters in h and defines uKernelModule::globalClusters,
// a pointer to the cluster sequence like the runtime declares it
func Build(h *fakehost.Host, clusters ...ClusterSpec) *Image {
	img := &Image{GlobalClusters: h.Alloc(8), ClusterSeq: h.Alloc(16)}
	h.AddSymbol(symbol.Mangle(ucpp.DefaultClustersSymbol), img.GlobalClusters, 8)
	h.WritePtr(img.GlobalClusters, img.ClusterSeq)

	var clusterLinks []uint64
	for _, spec := range clusters {
		ci := ClusterImage{Addr: h.Alloc(clusterSize)}
		h.WritePtr(ci.Addr+Offsets["cluster.name"], h.NewCString(spec.Name))

		var taskLinks []uint64
		for _, ts := range spec.Tasks {
			task := h.Alloc(taskSize)
			ctx := h.Alloc(contextSize)
			h.WritePtr(task+Offsets["task.name"], h.NewCString(ts.Name))
			h.WriteUint(task+Offsets["task.state"], 4, uint64(ts.State))
			h.WritePtr(task+Offsets["task.context"], ctx)
			h.WritePtr(ctx+Offsets["context.sp"], ts.SP)
			h.WritePtr(ctx+Offsets["context.fp"], ts.FP)

			ci.Tasks = append(ci.Tasks, task)
			ci.Contexts = append(ci.Contexts, ctx)
			taskLinks = append(taskLinks, newLink(h, task, Offsets["task-link.task"]))
		}
		h.WritePtr(ci.Addr+Offsets["cluster.tasks"], linkRing(h, taskLinks))

		var procLinks []uint64
		for _, ps := range spec.Processors {
			proc := h.Alloc(processorSize)
			h.WriteUint(proc+Offsets["processor.pid"], 4, uint64(ps.PID))
			h.WriteUint(proc+Offsets["processor.preemption"], 4, ps.Preemption)
			h.WriteUint(proc+Offsets["processor.spin"], 4, ps.Spin)

			ci.Processors = append(ci.Processors, proc)
			procLinks = append(procLinks, newLink(h, proc, Offsets["processor-link.processor"]))
		}
		h.WritePtr(ci.Addr+Offsets["cluster.processors"], linkRing(h, procLinks))

		img.Clusters = append(img.Clusters, ci)
		clusterLinks = append(clusterLinks, newLink(h, ci.Addr, Offsets["cluster-link.cluster"]))
	}
	h.WritePtr(img.ClusterSeq+Offsets["clusters.root"], linkRing(h, clusterLinks))
	return img
}

func newLink(h *fakehost.Host, ref, refOff uint64) uint64 {
	link := h.Alloc(linkSize)
	h.WritePtr(link+refOff, ref)
	return link
}

// linkRing closes links into a circular list and returns its root
func linkRing(h *fakehost.Host, links []uint64) uint64 {
	if len(links) == 0 {
		return 0
	}
	for i, link := range links {
		next := links[(i+1)%len(links)]
		back := links[(i+len(links)-1)%len(links)]
		h.WritePtr(link, next)
		h.WritePtr(link+8, back)
	}
	return links[0]
}
