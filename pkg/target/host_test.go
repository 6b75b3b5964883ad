package target

import (
	"encoding/binary"
	"fmt"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitzhangjie/ucdbg/pkg/host"
	"github.com/hitzhangjie/ucdbg/pkg/symbol"
)

type fakeProcess struct {
	mem  map[uint64]byte
	regs syscall.PtraceRegs
}

func (p *fakeProcess) ReadMemory(addr uint64, buf []byte) error {
	for i := range buf {
		b, ok := p.mem[addr+uint64(i)]
		if !ok {
			return fmt.Errorf("cannot access memory at address %#x", addr+uint64(i))
		}
		buf[i] = b
	}
	return nil
}

func (p *fakeProcess) ReadRegister() (*syscall.PtraceRegs, error) {
	regs := p.regs
	return &regs, nil
}

func (p *fakeProcess) WriteRegister(regs *syscall.PtraceRegs) error {
	p.regs = *regs
	return nil
}

func (p *fakeProcess) write(addr uint64, dat []byte) {
	for i, b := range dat {
		p.mem[addr+uint64(i)] = b
	}
}

func (p *fakeProcess) writeUint64(addr uint64, vals ...uint64) {
	buf := make([]byte, 8)
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf, v)
		p.write(addr+uint64(i*8), buf)
	}
}

// uSwitch: push %rbp; mov %rsp,%rbp; push %rbx; ret
var switchCode = []byte{0x55, 0x48, 0x89, 0xe5, 0x53, 0xc3}

func newTestHost(t *testing.T) (*Host, *fakeProcess) {
	t.Helper()

	p := &fakeProcess{mem: map[uint64]byte{}}
	p.write(0x401000, switchCode)
	p.writeUint64(0x602000, 0x700000)

	// frame 0 -> frame 1 -> frame 2 (outermost)
	p.regs.Rsp, p.regs.Rbp, p.regs.Rip = 0x7000, 0x7010, 0x401004
	p.writeUint64(0x7010, 0x7050, 0x401005)
	p.writeUint64(0x7050, 0, 0x401000)

	bi := &symbol.BinaryInfo{
		Symbols: symbol.NewTable([]symbol.Symbol{
			{Name: "uSwitch", Addr: 0x401000, Size: uint64(len(switchCode))},
			{Name: "_ZN13uKernelModule14globalClustersE", Addr: 0x602000, Size: 8},
		}),
	}
	return NewHost(p, bi), p
}

func TestHostEval(t *testing.T) {
	h, _ := newTestHost(t)

	tests := []struct {
		expr string
		want string
	}{
		{"$sp", "0x7000"},
		{"$rbp", "0x7010"},
		{"$pc", "0x401004 <uSwitch+4>"},
		{"&uSwitch", "0x401000 <uSwitch>"},
		{"&uSwitch+4", "0x401004 <uSwitch+4>"},
		{"&uSwitch + 0x2", "0x401002 <uSwitch+2>"},
		{"&uSwitch-16", "0x400ff0"},
		{"uKernelModule::globalClusters", "0x700000"},
		{"*0x602000", "0x700000"},
		{"0x401001", "0x401001 <uSwitch+1>"},
	}
	for _, tt := range tests {
		got, err := h.Eval(tt.expr)
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.want, got, tt.expr)
	}

	for _, expr := range []string{"", "nosuch", "&nosuch+1", "&uSwitch+x", "*0x1234"} {
		_, err := h.Eval(expr)
		assert.Error(t, err, expr)
	}
}

func TestHostFrames(t *testing.T) {
	h, p := newTestHost(t)

	require.NoError(t, h.SelectFrame(1))
	assert.Equal(t, 1, h.Frame())
	f, err := h.CurrentFrame()
	require.NoError(t, err)
	assert.Equal(t, Frame{SP: 0x7020, FP: 0x7050, PC: 0x401005}, f)

	sp, err := h.Register(host.SP)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x7020), sp)

	assert.Equal(t, errNotInnermost, h.SetRegister(host.SP, 0x1000))
	assert.Equal(t, uint64(0x7000), p.regs.Rsp)

	require.NoError(t, h.SelectFrame(2))
	f, err = h.CurrentFrame()
	require.NoError(t, err)
	assert.Equal(t, Frame{SP: 0x7060, FP: 0, PC: 0x401000}, f)

	assert.Error(t, h.SelectFrame(3))
	assert.Equal(t, 2, h.Frame())

	require.NoError(t, h.SelectFrame(0))
	require.NoError(t, h.SetRegister(host.SP, 0x8030))
	require.NoError(t, h.SetRegister(host.FP, 0x8040))
	require.NoError(t, h.SetRegister(host.PC, 0x40101c))
	assert.Equal(t, uint64(0x8030), p.regs.Rsp)
	assert.Equal(t, uint64(0x8040), p.regs.Rbp)
	assert.Equal(t, uint64(0x40101c), p.regs.Rip)
}

func TestUnwindCorruptChain(t *testing.T) {
	_, p := newTestHost(t)
	// caller frame pointer below the callee's
	p.writeUint64(0x7010, 0x7000, 0x401005)

	_, err := unwind(p, Frame{SP: 0x7000, FP: 0x7010, PC: 0x401004}, 1)
	assert.Error(t, err)

	_, err = unwind(p, Frame{}, -1)
	assert.Error(t, err)
}

func TestHostInstructionBoundary(t *testing.T) {
	h, _ := newTestHost(t)
	sym, ok := h.LookupSymbol("uSwitch")
	require.True(t, ok)

	for off, want := range map[uint64]bool{0: true, 1: true, 2: false, 3: false, 4: true, 5: true, 6: false, 28: false} {
		got, err := h.InstructionBoundary(sym, off)
		require.NoError(t, err, off)
		assert.Equal(t, want, got, "offset %d", off)
	}
}

func TestHostInstruction(t *testing.T) {
	h, _ := newTestHost(t)

	s, err := h.Instruction(0x401001, "gnu")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(s, "0x401001 <uSwitch+1>:\t48 89 e5\t"), s)
	assert.Contains(t, s, "mov")

	_, err = h.Instruction(0x401001, "att")
	assert.Error(t, err)

	_, err = h.Instruction(0x500000, "gnu")
	assert.Error(t, err)
}
