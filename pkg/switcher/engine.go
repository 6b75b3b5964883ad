// Package switcher moves the debugger's view of the stopped target onto the
// saved context of a uC++ task, and back.
//
// uSwitch saves the callee-saved registers of the outgoing task on its
// stack, then stores its SP and FP into the task's uContext_t. Resuming a
// task's view therefore means pretending the thread sits right after the
// register restore inside uSwitch, with SP past the saved registers.
package switcher

import (
	"fmt"

	"github.com/hitzhangjie/ucdbg/pkg/host"
	"github.com/hitzhangjie/ucdbg/pkg/logflags"
	"github.com/hitzhangjie/ucdbg/pkg/symbol"
	"github.com/hitzhangjie/ucdbg/pkg/ucpp"
	"github.com/sirupsen/logrus"
)

// Config describes the runtime's context switch routine
type Config struct {
	SwitchSymbol string // context switch routine, uSwitch
	ResumeOffset uint64 // offset of the instruction after the register restore
	StackAdjust  uint64 // bytes of callee-saved registers pushed by uSwitch
}

// DefaultConfig values for uC++ on x86-64
func DefaultConfig() Config {
	return Config{
		SwitchSymbol: "uSwitch",
		ResumeOffset: 28,
		StackAdjust:  48,
	}
}

// Engine performs task switches on one debug session. The history is owned
// by the engine, every command of the session must go through the same one.
type Engine struct {
	host    host.Host
	dir     *ucpp.Directory
	cfg     Config
	history *History
	log     *logrus.Entry
}

// NewEngine creates an engine with an empty history
func NewEngine(h host.Host, dir *ucpp.Directory, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.SwitchSymbol == "" {
		cfg.SwitchSymbol = def.SwitchSymbol
	}
	return &Engine{
		host:    h,
		dir:     dir,
		cfg:     cfg,
		history: &History{},
		log:     logflags.SwitcherLogger(),
	}
}

// Depth returns the number of switch-ins not yet restored
func (e *Engine) Depth() int {
	return e.history.Len()
}

// History returns the pending snapshots, oldest first
func (e *Engine) History() []Snapshot {
	return e.history.Snapshots()
}

// resumePoint computes the registers the view of task must be moved to
func (e *Engine) resumePoint(task *ucpp.Task) (sp, fp, pc uint64, err error) {
	rec, err := e.dir.ContextRecord(task)
	if err != nil {
		return 0, 0, 0, err
	}
	sp = rec.SP + e.cfg.StackAdjust
	fp = rec.FP

	sym, ok := e.host.LookupSymbol(e.cfg.SwitchSymbol)
	if !ok {
		return 0, 0, 0, &host.MissingSymbolError{Name: e.cfg.SwitchSymbol}
	}
	if err = e.checkResumePoint(sym); err != nil {
		return 0, 0, 0, err
	}

	raw, err := e.host.Eval(fmt.Sprintf("&%s+%d", e.cfg.SwitchSymbol, e.cfg.ResumeOffset))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("evaluate resume point: %w", err)
	}
	if pc, err = symbol.ParseAddress(raw); err != nil {
		return 0, 0, 0, err
	}
	return sp, fp, pc, nil
}

func (e *Engine) checkResumePoint(sym symbol.Symbol) error {
	off := e.cfg.ResumeOffset
	if sym.Size != 0 && off >= sym.Size {
		return &ResumePointError{
			Symbol: sym.Name,
			Offset: off,
			Reason: fmt.Sprintf("past the end of the symbol (size %d)", sym.Size),
		}
	}

	dec, ok := e.host.(host.Decoder)
	if !ok {
		return nil
	}
	boundary, err := dec.InstructionBoundary(sym, off)
	if err != nil {
		return &ResumePointError{Symbol: sym.Name, Offset: off, Reason: err.Error()}
	}
	if !boundary {
		return &ResumePointError{Symbol: sym.Name, Offset: off, Reason: "not an instruction boundary"}
	}
	return nil
}

// SwitchTo moves the view onto task's saved context.
//
// Nothing is changed if task can't be resumed. Once the current registers
// are pushed onto the history the snapshot stays there even if a register
// write fails, SwitchBack or Reset must be used to recover.
func (e *Engine) SwitchTo(task *ucpp.Task) (*Snapshot, error) {
	// re-read, the caller's copy may predate a state change
	cur, err := e.dir.TaskAt(task.Addr)
	if err != nil {
		return nil, err
	}
	layout := e.dir.Layout()
	if cur.State == layout.Terminated {
		return nil, &IneligibleTaskError{Task: cur.Name, Addr: cur.Addr, State: layout.StateName(cur.State)}
	}

	sp, fp, pc, err := e.resumePoint(cur)
	if err != nil {
		return nil, err
	}

	// registers can only be written in the innermost frame
	if err := e.host.SelectFrame(0); err != nil {
		return nil, fmt.Errorf("select frame 0: %w", err)
	}

	snapshot, err := e.capture()
	if err != nil {
		return nil, err
	}
	snapshot.Task, snapshot.TaskAddr = cur.Name, cur.Addr
	e.history.Push(snapshot)

	e.log.Debugf("switch #%d to task %s (%#x): sp %#x => %#x, fp %#x => %#x, pc %#x => %#x",
		snapshot.ID, cur.Name, cur.Addr, snapshot.SP, sp, snapshot.FP, fp, snapshot.PC, pc)

	// SP first, the new frame must be addressable before FP and PC are used
	if err := e.write(regWrite{host.SP, sp}, regWrite{host.FP, fp}, regWrite{host.PC, pc}); err != nil {
		e.log.Warnf("switch #%d left half done, history depth %d: %v", snapshot.ID, e.history.Len(), err)
		return &snapshot, err
	}
	return &snapshot, nil
}

// SwitchBack restores the registers saved by the most recent SwitchTo
func (e *Engine) SwitchBack() (*Snapshot, error) {
	top, ok := e.history.Top()
	if !ok {
		return nil, ErrEmptyHistory
	}
	if err := e.restore(top); err != nil {
		return nil, err
	}
	e.history.Pop()
	e.log.Debugf("switched back from #%d, history depth %d", top.ID, e.history.Len())

	e.selectCallerFrame()
	return &top, nil
}

// Reset restores the registers the target was stopped with, dropping every
// pending switch at once.
func (e *Engine) Reset() (*Snapshot, error) {
	bottom, ok := e.history.Bottom()
	if !ok {
		return nil, ErrEmptyHistory
	}
	if err := e.restore(bottom); err != nil {
		return nil, err
	}
	e.log.Debugf("reset to #%d, dropped %d switches", bottom.ID, e.history.Len())
	e.history.Clear()

	e.selectCallerFrame()
	return &bottom, nil
}

// restore writes s back in the reverse order of SwitchTo. The snapshot is
// only dropped by the caller once every write succeeded.
func (e *Engine) restore(s Snapshot) error {
	if err := e.host.SelectFrame(0); err != nil {
		return fmt.Errorf("select frame 0: %w", err)
	}
	return e.write(regWrite{host.PC, s.PC}, regWrite{host.FP, s.FP}, regWrite{host.SP, s.SP})
}

// selectCallerFrame moves the view one frame out, back to the frame that
// was current when the snapshot was taken.
func (e *Engine) selectCallerFrame() {
	if err := e.host.SelectFrame(1); err != nil {
		e.log.Warnf("select frame 1: %v, staying in frame 0", err)
		if err := e.host.SelectFrame(0); err != nil {
			e.log.Warnf("select frame 0: %v", err)
		}
	}
}

func (e *Engine) capture() (Snapshot, error) {
	sp, err := e.host.Register(host.SP)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read sp: %w", err)
	}
	fp, err := e.host.Register(host.FP)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read fp: %w", err)
	}
	pc, err := e.host.Register(host.PC)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read pc: %w", err)
	}
	return newSnapshot(sp, fp, pc), nil
}

type regWrite struct {
	reg host.Reg
	val uint64
}

// write applies writes in order, stopping at the first failure
func (e *Engine) write(writes ...regWrite) error {
	for _, w := range writes {
		if err := e.host.SetRegister(w.reg, w.val); err != nil {
			return fmt.Errorf("set $%s=%#x: %w", w.reg, w.val, err)
		}
	}
	return nil
}
