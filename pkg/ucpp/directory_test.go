package ucpp_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitzhangjie/ucdbg/pkg/host"
	"github.com/hitzhangjie/ucdbg/pkg/host/fakehost"
	"github.com/hitzhangjie/ucdbg/pkg/ucpp"
	"github.com/hitzhangjie/ucdbg/pkg/ucpp/ucpptest"
)

func newDirectory(t *testing.T, clusters ...ucpptest.ClusterSpec) (*ucpp.Directory, *fakehost.Host, *ucpptest.Image) {
	t.Helper()
	h := fakehost.New()
	img := ucpptest.Build(h, clusters...)
	return ucpp.NewDirectory(h, ucpptest.Layout(), ""), h, img
}

func mainAndWorker() []ucpptest.ClusterSpec {
	return []ucpptest.ClusterSpec{
		{
			Name:       "Main",
			Tasks:      []ucpptest.TaskSpec{{Name: "uMain", State: ucpptest.Running}},
			Processors: []ucpptest.ProcessorSpec{{PID: 100, Preemption: 10, Spin: 1000}},
		},
		{
			Name: "Worker",
			Tasks: []ucpptest.TaskSpec{
				{Name: "T0", State: ucpptest.Ready},
				{Name: "T1", State: ucpptest.Blocked},
				{Name: "T2", State: ucpptest.Terminate},
			},
			Processors: []ucpptest.ProcessorSpec{
				{PID: 101, Preemption: 10, Spin: 0},
				{PID: 102, Preemption: 0, Spin: 500},
			},
		},
	}
}

func TestClusters(t *testing.T) {
	d, _, img := newDirectory(t, mainAndWorker()...)

	clusters, err := d.Clusters()
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.Equal(t, "Main", clusters[0].Name)
	assert.Equal(t, img.Clusters[0].Addr, clusters[0].Addr)
	assert.Equal(t, "Worker", clusters[1].Name)
	assert.Equal(t, img.Clusters[1].Addr, clusters[1].Addr)

	// recomputed on every call
	again, err := d.Clusters()
	require.NoError(t, err)
	assert.Equal(t, clusters, again)
}

func TestSingleElementRings(t *testing.T) {
	d, _, _ := newDirectory(t, ucpptest.ClusterSpec{
		Name:       "only",
		Tasks:      []ucpptest.TaskSpec{{Name: "alone"}},
		Processors: []ucpptest.ProcessorSpec{{PID: 7}},
	})

	clusters, err := d.Clusters()
	require.NoError(t, err)
	require.Len(t, clusters, 1)

	tasks, err := d.Tasks(clusters[0])
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "alone", tasks[0].Name)
	assert.Equal(t, 0, tasks[0].Ordinal)

	procs, err := d.Processors(clusters[0])
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.EqualValues(t, 7, procs[0].PID)
}

func TestEmptyLists(t *testing.T) {
	d, _, _ := newDirectory(t, ucpptest.ClusterSpec{Name: "idle"})

	c, err := d.FindClusterByName("idle")
	require.NoError(t, err)

	tasks, err := d.Tasks(c)
	require.NoError(t, err)
	assert.NotNil(t, tasks)
	assert.Empty(t, tasks)

	procs, err := d.Processors(c)
	require.NoError(t, err)
	assert.Empty(t, procs)

	_, err = d.FindTaskByOrdinal(c, 0)
	var nf *ucpp.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, 0, nf.Count)
}

func TestNoClusters(t *testing.T) {
	d, _, _ := newDirectory(t)

	clusters, err := d.Clusters()
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

func TestMissingClustersSymbol(t *testing.T) {
	d := ucpp.NewDirectory(fakehost.New(), ucpptest.Layout(), "")

	_, err := d.Clusters()
	var ms *host.MissingSymbolError
	require.True(t, errors.As(err, &ms))
	assert.Equal(t, ucpp.DefaultClustersSymbol, ms.Name)
}

func TestFindClusterByName(t *testing.T) {
	specs := append(mainAndWorker(), ucpptest.ClusterSpec{Name: "Worker"})
	d, _, img := newDirectory(t, specs...)

	c, err := d.FindClusterByName("Worker")
	require.NoError(t, err)
	// first one in list order wins
	assert.Equal(t, img.Clusters[1].Addr, c.Addr)

	_, err = d.FindClusterByName("fred")
	var nf *ucpp.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "cannot find a cluster with the name: fred", err.Error())
}

func TestFindClusterByOrdinal(t *testing.T) {
	d, _, img := newDirectory(t, mainAndWorker()...)

	for i, ci := range img.Clusters {
		c, err := d.FindClusterByOrdinal(i)
		require.NoError(t, err)
		assert.Equal(t, ci.Addr, c.Addr)
	}

	for _, idx := range []int{2, 5, -1} {
		_, err := d.FindClusterByOrdinal(idx)
		var nf *ucpp.NotFoundError
		require.True(t, errors.As(err, &nf), "ordinal %d", idx)
		assert.Equal(t, 2, nf.Count)
	}
}

func TestFindTaskByOrdinal(t *testing.T) {
	d, _, img := newDirectory(t, mainAndWorker()...)

	worker, err := d.FindClusterByName("Worker")
	require.NoError(t, err)

	for i, name := range []string{"T0", "T1", "T2"} {
		task, err := d.FindTaskByOrdinal(worker, i)
		require.NoError(t, err)
		assert.Equal(t, name, task.Name)
		assert.Equal(t, i, task.Ordinal)
		assert.Equal(t, img.Clusters[1].Tasks[i], task.Addr)
	}

	_, err = d.FindTaskByOrdinal(worker, 5)
	var nf *ucpp.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, 3, nf.Count)
	assert.Contains(t, err.Error(), "only 3 tasks")
}

func TestTasks(t *testing.T) {
	d, _, _ := newDirectory(t, mainAndWorker()...)

	worker, err := d.FindClusterByName("Worker")
	require.NoError(t, err)

	tasks, err := d.Tasks(worker)
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	l := d.Layout()
	assert.Equal(t, "Ready", l.StateName(tasks[0].State))
	assert.Equal(t, "Blocked", l.StateName(tasks[1].State))
	assert.Equal(t, "Terminate", l.StateName(tasks[2].State))
	assert.Equal(t, l.Terminated, tasks[2].State)
	assert.Equal(t, "State(42)", l.StateName(42))
}

func TestEachTaskStopsEarly(t *testing.T) {
	d, _, _ := newDirectory(t, mainAndWorker()...)

	worker, err := d.FindClusterByName("Worker")
	require.NoError(t, err)

	var seen []string
	err = d.EachTask(worker, func(task *ucpp.Task) bool {
		seen = append(seen, task.Name)
		return task.Name != "T1"
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"T0", "T1"}, seen)
}

func TestProcessors(t *testing.T) {
	d, _, img := newDirectory(t, mainAndWorker()...)

	c, err := d.ClusterAt(img.Clusters[1].Addr)
	require.NoError(t, err)
	assert.Equal(t, "Worker", c.Name)

	procs, err := d.Processors(c)
	require.NoError(t, err)
	require.Len(t, procs, 2)
	assert.Equal(t, ucpp.Processor{Addr: img.Clusters[1].Processors[0], PID: 101, Preemption: 10, Spin: 0}, *procs[0])
	assert.Equal(t, ucpp.Processor{Addr: img.Clusters[1].Processors[1], PID: 102, Preemption: 0, Spin: 500}, *procs[1])
}

func TestTaskAtAndContextRecord(t *testing.T) {
	d, _, img := newDirectory(t, ucpptest.ClusterSpec{
		Name:  "fred",
		Tasks: []ucpptest.TaskSpec{{Name: "T0", State: ucpptest.Blocked, SP: 0x7ffe1000, FP: 0x7ffe1040}},
	})

	task, err := d.TaskAt(img.Clusters[0].Tasks[0])
	require.NoError(t, err)
	assert.Equal(t, "T0", task.Name)
	assert.Equal(t, -1, task.Ordinal)

	rec, err := d.ContextRecord(task)
	require.NoError(t, err)
	assert.Equal(t, ucpp.ContextRecord{Addr: img.Clusters[0].Contexts[0], SP: 0x7ffe1000, FP: 0x7ffe1040}, *rec)

	_, err = d.TaskAt(0)
	assert.Error(t, err)
}

func TestCorruptRing(t *testing.T) {
	d, h, img := newDirectory(t, mainAndWorker()...)

	worker, err := d.FindClusterByName("Worker")
	require.NoError(t, err)

	// T1's link points to itself, the ring never gets back to T0
	var links []uint64
	link := worker.TasksRoot
	for range img.Clusters[1].Tasks {
		links = append(links, link)
		buf := make([]byte, 8)
		require.NoError(t, h.ReadMemory(link, buf))
		link = binary.LittleEndian.Uint64(buf)
	}
	h.WritePtr(links[1], links[1])

	_, err = d.Tasks(worker)
	var ce *ucpp.CorruptListError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "task", ce.Kind)

	// nil next link
	h.WritePtr(links[1], 0)
	_, err = d.Tasks(worker)
	require.True(t, errors.As(err, &ce))
}

func TestClustersThroughPointer(t *testing.T) {
	d, h, img := newDirectory(t, mainAndWorker()...)

	// the walk starts at the sequence the global points to
	require.True(t, d.Layout().ClustersIndirect)
	clusters, err := d.Clusters()
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.Equal(t, img.Clusters[0].Addr, clusters[0].Addr)

	h.WritePtr(img.GlobalClusters, 0)
	_, err = d.Clusters()
	assert.Error(t, err)
}

func TestClustersInlineSequence(t *testing.T) {
	h := fakehost.New()
	img := ucpptest.Build(h, mainAndWorker()...)
	h.AddSymbol("inlineClusters", img.ClusterSeq, 16)

	layout := ucpptest.Layout()
	layout.ClustersIndirect = false
	d := ucpp.NewDirectory(h, layout, "inlineClusters")

	clusters, err := d.Clusters()
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.Equal(t, "Worker", clusters[1].Name)
}
