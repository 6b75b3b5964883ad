package switcher

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitzhangjie/ucdbg/pkg/host"
	"github.com/hitzhangjie/ucdbg/pkg/host/fakehost"
	"github.com/hitzhangjie/ucdbg/pkg/symbol"
	"github.com/hitzhangjie/ucdbg/pkg/ucpp"
	"github.com/hitzhangjie/ucdbg/pkg/ucpp/ucpptest"
)

const (
	uSwitchAddr = 0x401000
	origSP      = 0x7ffc0000
	origFP      = 0x7ffc0040
	origPC      = 0x402abc
)

type fixture struct {
	host   *fakehost.Host
	dir    *ucpp.Directory
	engine *Engine
	img    *ucpptest.Image
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := fakehost.New()
	img := ucpptest.Build(h,
		ucpptest.ClusterSpec{
			Name:  "Main",
			Tasks: []ucpptest.TaskSpec{{Name: "uMain", State: ucpptest.Running, SP: 0x7ffd0000, FP: 0x7ffd0080}},
		},
		ucpptest.ClusterSpec{
			Name: "Worker",
			Tasks: []ucpptest.TaskSpec{
				{Name: "T0", State: ucpptest.Ready, SP: 0x7f0000100000, FP: 0x7f0000100040},
				{Name: "T1", State: ucpptest.Blocked, SP: 0x7f0000200000, FP: 0x7f0000200040},
				{Name: "T2", State: ucpptest.Terminate, SP: 0x7f0000300000, FP: 0x7f0000300040},
			},
		},
	)
	h.AddSymbol("uSwitch", uSwitchAddr, 64)
	h.SetRegs(origSP, origFP, origPC)

	dir := ucpp.NewDirectory(h, ucpptest.Layout(), "")
	return &fixture{
		host:   h,
		dir:    dir,
		engine: NewEngine(h, dir, DefaultConfig()),
		img:    img,
	}
}

func (f *fixture) task(t *testing.T, cluster string, idx int) *ucpp.Task {
	t.Helper()
	c, err := f.dir.FindClusterByName(cluster)
	require.NoError(t, err)
	task, err := f.dir.FindTaskByOrdinal(c, idx)
	require.NoError(t, err)
	return task
}

func (f *fixture) regs() [3]uint64 {
	sp, fp, pc := f.host.Regs()
	return [3]uint64{sp, fp, pc}
}

func TestSwitchTo(t *testing.T) {
	f := newFixture(t)
	t1 := f.task(t, "Worker", 1)

	snapshot, err := f.engine.SwitchTo(t1)
	require.NoError(t, err)
	assert.Equal(t, uint64(origSP), snapshot.SP)
	assert.Equal(t, uint64(origFP), snapshot.FP)
	assert.Equal(t, uint64(origPC), snapshot.PC)
	assert.Equal(t, "T1", snapshot.Task)
	assert.Equal(t, 1, f.engine.Depth())

	// SP, FP, PC in that order, SP past the registers saved by uSwitch
	assert.Equal(t, []fakehost.Write{
		{Reg: host.SP, Val: 0x7f0000200000 + 48},
		{Reg: host.FP, Val: 0x7f0000200040},
		{Reg: host.PC, Val: uSwitchAddr + 28},
	}, f.host.Writes)
	assert.Equal(t, 0, f.host.Selects[0])
}

func TestSwitchRoundTrip(t *testing.T) {
	f := newFixture(t)
	before := f.regs()

	_, err := f.engine.SwitchTo(f.task(t, "Worker", 0))
	require.NoError(t, err)
	assert.NotEqual(t, before, f.regs())

	restored, err := f.engine.SwitchBack()
	require.NoError(t, err)
	assert.Equal(t, "T0", restored.Task)
	assert.Equal(t, before, f.regs())
	assert.Equal(t, 0, f.engine.Depth())

	// PC, FP, SP on the way back
	writes := f.host.Writes[3:]
	require.Len(t, writes, 3)
	assert.Equal(t, []host.Reg{host.PC, host.FP, host.SP}, []host.Reg{writes[0].Reg, writes[1].Reg, writes[2].Reg})

	// view moved back to the caller frame
	assert.Equal(t, 1, f.host.Frame())
}

func TestNestedSwitches(t *testing.T) {
	f := newFixture(t)
	orig := f.regs()

	_, err := f.engine.SwitchTo(f.task(t, "Worker", 0))
	require.NoError(t, err)
	inA := f.regs()

	_, err = f.engine.SwitchTo(f.task(t, "Worker", 1))
	require.NoError(t, err)
	assert.Equal(t, 2, f.engine.Depth())

	history := f.engine.History()
	require.Len(t, history, 2)
	assert.Equal(t, "T0", history[0].Task)
	assert.Equal(t, "T1", history[1].Task)
	assert.Less(t, history[0].ID, history[1].ID)

	_, err = f.engine.SwitchBack()
	require.NoError(t, err)
	assert.Equal(t, inA, f.regs())

	_, err = f.engine.SwitchBack()
	require.NoError(t, err)
	assert.Equal(t, orig, f.regs())
	assert.Equal(t, 0, f.engine.Depth())

	_, err = f.engine.SwitchBack()
	assert.Equal(t, ErrEmptyHistory, err)
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	orig := f.regs()

	for _, idx := range []int{0, 1, 0} {
		_, err := f.engine.SwitchTo(f.task(t, "Worker", idx))
		require.NoError(t, err)
	}
	_, err := f.engine.SwitchTo(f.task(t, "Main", 0))
	require.NoError(t, err)
	assert.Equal(t, 4, f.engine.Depth())

	bottom, err := f.engine.Reset()
	require.NoError(t, err)
	assert.Equal(t, "T0", bottom.Task)
	assert.Equal(t, orig, f.regs())
	assert.Equal(t, 0, f.engine.Depth())
}

func TestSwitchToTerminated(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.SwitchTo(f.task(t, "Worker", 2))
	var ie *IneligibleTaskError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "T2", ie.Task)
	assert.Equal(t, "Terminate", ie.State)

	assert.Equal(t, 0, f.engine.Depth())
	assert.Empty(t, f.host.Writes)
}

func TestSwitchToStaleTask(t *testing.T) {
	f := newFixture(t)
	t0 := f.task(t, "Worker", 0)

	// T0 terminated after it was listed
	f.host.WriteUint(t0.Addr+ucpptest.Offsets["task.state"], 4, uint64(ucpptest.Terminate))

	_, err := f.engine.SwitchTo(t0)
	var ie *IneligibleTaskError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, 0, f.engine.Depth())
}

func TestSwitchToMissingSymbol(t *testing.T) {
	f := newFixture(t)
	f.engine = NewEngine(f.host, f.dir, Config{SwitchSymbol: "uSwitch2", ResumeOffset: 28, StackAdjust: 48})

	_, err := f.engine.SwitchTo(f.task(t, "Worker", 0))
	var ms *host.MissingSymbolError
	require.True(t, errors.As(err, &ms))
	assert.Equal(t, "uSwitch2", ms.Name)
	assert.Equal(t, 0, f.engine.Depth())
	assert.Empty(t, f.host.Writes)
	assert.Empty(t, f.host.Selects)
}

func TestSwitchToResumePastSymbol(t *testing.T) {
	f := newFixture(t)
	f.engine = NewEngine(f.host, f.dir, Config{SwitchSymbol: "uSwitch", ResumeOffset: 64, StackAdjust: 48})

	_, err := f.engine.SwitchTo(f.task(t, "Worker", 0))
	var re *ResumePointError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 0, f.engine.Depth())
}

// decodingHost accepts resume points listed in boundaries only
type decodingHost struct {
	*fakehost.Host
	boundaries map[uint64]bool
}

func (h *decodingHost) InstructionBoundary(sym symbol.Symbol, off uint64) (bool, error) {
	return h.boundaries[off], nil
}

func TestSwitchToMisalignedResumePoint(t *testing.T) {
	f := newFixture(t)
	dh := &decodingHost{Host: f.host, boundaries: map[uint64]bool{27: true}}
	e := NewEngine(dh, f.dir, DefaultConfig())

	_, err := e.SwitchTo(f.task(t, "Worker", 0))
	var re *ResumePointError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "not an instruction boundary", re.Reason)

	dh.boundaries[28] = true
	_, err = e.SwitchTo(f.task(t, "Worker", 0))
	require.NoError(t, err)
}

func TestSwitchToAnnotatedResumePoint(t *testing.T) {
	f := newFixture(t)
	f.host.Exprs["&uSwitch+28"] = "0x4010a0 <uSwitch+28>"

	_, err := f.engine.SwitchTo(f.task(t, "Worker", 0))
	require.NoError(t, err)
	_, _, pc := f.host.Regs()
	assert.Equal(t, uint64(0x4010a0), pc)
}

func TestSwitchToFailedWriteKeepsSnapshot(t *testing.T) {
	f := newFixture(t)
	f.host.FailWrite[host.FP] = errors.New("ptrace: no such process")

	_, err := f.engine.SwitchTo(f.task(t, "Worker", 0))
	require.Error(t, err)
	assert.Equal(t, 1, f.engine.Depth())

	// recover
	delete(f.host.FailWrite, host.FP)
	_, err = f.engine.SwitchBack()
	require.NoError(t, err)
	sp, fp, pc := f.host.Regs()
	assert.Equal(t, [3]uint64{origSP, origFP, origPC}, [3]uint64{sp, fp, pc})
}

func TestSwitchBackFailedWriteKeepsSnapshot(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.SwitchTo(f.task(t, "Worker", 0))
	require.NoError(t, err)

	f.host.FailWrite[host.PC] = errors.New("ptrace: input/output error")
	_, err = f.engine.SwitchBack()
	require.Error(t, err)
	assert.Equal(t, 1, f.engine.Depth())
}

func TestEmptyHistory(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.SwitchBack()
	assert.Equal(t, ErrEmptyHistory, err)
	_, err = f.engine.Reset()
	assert.Equal(t, ErrEmptyHistory, err)

	assert.Empty(t, f.host.Writes)
	assert.Empty(t, f.host.Selects)
}

func TestSwitchBackWithoutCallerFrame(t *testing.T) {
	f := newFixture(t)
	f.host.MaxFrame = 0

	_, err := f.engine.SwitchTo(f.task(t, "Worker", 0))
	require.NoError(t, err)

	_, err = f.engine.SwitchBack()
	require.NoError(t, err)
	assert.Equal(t, 0, f.host.Frame())
}
