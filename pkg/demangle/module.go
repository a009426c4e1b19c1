// Package demangle runs C++ symbol names through a sandboxed demangling
// module. The module owns two fixed buffers in its linear memory: the host
// writes the mangled name into the input buffer, calls demangle with the
// number of bytes written and reads the result back from the output buffer.
package demangle

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptySymbol is returned when Demangle is called with an empty name
	ErrEmptySymbol = errors.New("demangle: empty symbol name")
	// ErrNoModule is returned when no module location is configured
	ErrNoModule = errors.New("demangle: no module configured")
	// ErrUnavailable wraps the reason the module could not be loaded
	ErrUnavailable = errors.New("demangle: module unavailable")
)

// Memory is the module's linear memory
type Memory interface {
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
}

// Module is the four-accessor contract of a demangling module. Offsets are
// relative to Memory.
type Module interface {
	// MangledBuffer returns the offset of the input buffer
	MangledBuffer(ctx context.Context) (uint32, error)
	// MangledBufferLen returns the fixed capacity of the input buffer
	MangledBufferLen(ctx context.Context) (uint32, error)
	// DemangledBuffer returns the offset of the output buffer
	DemangledBuffer(ctx context.Context) (uint32, error)
	// Demangle decodes the first n bytes of the input buffer and returns the
	// length of the output, 0 when the input could not be demangled.
	Demangle(ctx context.Context, n uint32) (uint32, error)
	Memory() Memory
}

// run performs one demangle exchange. Names longer than the input buffer are
// truncated to its capacity. A zero-length result returns name unchanged.
func run(ctx context.Context, m Module, name string) (string, error) {
	input := []byte(name)

	offset, err := m.MangledBuffer(ctx)
	if err != nil {
		return name, fmt.Errorf("mangled buffer: %w", err)
	}
	capacity, err := m.MangledBufferLen(ctx)
	if err != nil {
		return name, fmt.Errorf("mangled buffer len: %w", err)
	}

	n := uint32(len(input))
	if n > capacity {
		n = capacity
	}

	mem := m.Memory()
	if !mem.Write(offset, input[:n]) {
		return name, fmt.Errorf("write %d bytes at %d: out of range", n, offset)
	}

	outLen, err := m.Demangle(ctx, n)
	if err != nil {
		return name, fmt.Errorf("demangle: %w", err)
	}
	if outLen == 0 {
		return name, nil
	}

	outOffset, err := m.DemangledBuffer(ctx)
	if err != nil {
		return name, fmt.Errorf("demangled buffer: %w", err)
	}
	out, ok := mem.Read(outOffset, outLen)
	if !ok {
		return name, fmt.Errorf("read %d bytes at %d: out of range", outLen, outOffset)
	}

	return strings.ToValidUTF8(string(out), "�"), nil
}
