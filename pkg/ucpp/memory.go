package ucpp

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/hitzhangjie/ucdbg/pkg/host"
	"github.com/hitzhangjie/ucdbg/pkg/symbol"
)

const maxNameLen = 256

func readPtr(mem host.Memory, addr uint64) (uint64, error) {
	buf := make([]byte, 8)
	if err := mem.ReadMemory(addr, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// readUint reads the field f of the object at base
func readUint(mem host.Memory, base uint64, f symbol.Field) (uint64, error) {
	size := f.Size
	if !validSize(size) {
		size = 8
	}
	buf := make([]byte, 8)
	if err := mem.ReadMemory(base+f.Offset, buf[:size]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// readInt reads the field f as a signed integer
func readInt(mem host.Memory, base uint64, f symbol.Field) (int64, error) {
	v, err := readUint(mem, base, f)
	if err != nil {
		return 0, err
	}
	switch f.Size {
	case 1:
		return int64(int8(v)), nil
	case 2:
		return int64(int16(v)), nil
	case 4:
		return int64(int32(v)), nil
	}
	return int64(v), nil
}

// readCString follows the `const char *` field f of the object at base
func readCString(mem host.Memory, base uint64, f symbol.Field) (string, error) {
	ptr, err := readPtr(mem, base+f.Offset)
	if err != nil {
		return "", err
	}
	if ptr == 0 {
		return "", nil
	}

	var (
		out   []byte
		chunk = make([]byte, 32)
	)
	for len(out) < maxNameLen {
		if err := mem.ReadMemory(ptr+uint64(len(out)), chunk); err != nil {
			// the string may end right before an unmapped page, retry bytewise
			if err := mem.ReadMemory(ptr+uint64(len(out)), chunk[:1]); err != nil {
				return "", fmt.Errorf("read string at %#x: %v", ptr, err)
			}
			if chunk[0] == 0 {
				return string(out), nil
			}
			out = append(out, chunk[0])
			continue
		}
		if idx := bytes.IndexByte(chunk, 0); idx != -1 {
			return string(append(out, chunk[:idx]...)), nil
		}
		out = append(out, chunk...)
	}
	return string(out[:maxNameLen]), nil
}
