package target

import (
	"encoding/binary"
	"fmt"

	"github.com/hitzhangjie/ucdbg/pkg/host"
)

// maxFrames bounds the frame pointer chain walk
const maxFrames = 1024

// Frame registers of a stack frame, recovered by walking the frame pointers
type Frame struct {
	SP uint64
	FP uint64
	PC uint64
}

// unwind walks n frames up the frame pointer chain starting at top.
//
// Each frame built with a frame pointer stores the caller's rbp at [rbp]
// and the return address at [rbp+8], the caller's rsp is rbp+16.
func unwind(mem host.Memory, top Frame, n int) (Frame, error) {
	if n < 0 || n > maxFrames {
		return Frame{}, fmt.Errorf("invalid frame number %d", n)
	}

	f := top
	buf := make([]byte, 16)
	for i := 0; i < n; i++ {
		if f.FP == 0 {
			return Frame{}, fmt.Errorf("no frame %d: outermost frame is #%d", n, i)
		}
		if err := mem.ReadMemory(f.FP, buf); err != nil {
			return Frame{}, fmt.Errorf("no frame %d: %v", n, err)
		}
		next := Frame{
			SP: f.FP + 16,
			FP: binary.LittleEndian.Uint64(buf[:8]),
			PC: binary.LittleEndian.Uint64(buf[8:]),
		}
		if next.PC == 0 {
			return Frame{}, fmt.Errorf("no frame %d: outermost frame is #%d", n, i)
		}
		// the stack grows down, callers live at higher addresses
		if next.FP != 0 && next.FP <= f.FP {
			return Frame{}, fmt.Errorf("no frame %d: corrupt frame pointer %#x in frame #%d", n, next.FP, i+1)
		}
		f = next
	}
	return f, nil
}
