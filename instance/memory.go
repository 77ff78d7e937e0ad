package instance

import (
	errs "github.com/wippyai/wasm-vm/errors"
	"github.com/wippyai/wasm-vm/wasm"
)

// MemoryBacking is the seam between a memory handle and its storage.
// Host-created memories start on a local byte slice; once an engine
// materializes the instance, the same handle is re-bound to the
// engine's linear memory so host and guest observe one state.
type MemoryBacking interface {
	// SizeBytes returns the current size in bytes.
	SizeBytes() uint32
	// GrowPages extends the memory by delta pages, returning the
	// previous size in pages, or false when the limit is exceeded.
	GrowPages(delta uint32) (uint32, bool)
	// Read returns a copy of count bytes at offset, or false when the
	// range is out of bounds.
	Read(offset, count uint32) ([]byte, bool)
	// Write copies data at offset, or returns false when the range is
	// out of bounds.
	Write(offset uint32, data []byte) bool
}

// Memory is a linear memory instance measured in 64 KiB pages.
type Memory struct {
	typ     wasm.MemoryType
	backing MemoryBacking
}

// NewMemory allocates a memory of the limits' minimum size backed by
// a local byte slice.
func NewMemory(typ wasm.MemoryType) (*Memory, error) {
	l := typ.Limits
	if l.Max != nil && l.Min > *l.Max {
		return nil, errs.InvalidLimits(nil, "memory min exceeds max")
	}
	if l.Min > wasm.MemoryMaxPages || (l.Max != nil && *l.Max > wasm.MemoryMaxPages) {
		return nil, errs.InvalidLimits(nil, "memory limits exceed the 4GiB page ceiling")
	}
	return &Memory{
		typ:     typ,
		backing: &localMemory{data: make([]byte, l.Min*uint64(wasm.PageSize)), max: l.Max},
	}, nil
}

// NewBoundMemory wraps an engine-provided backing. Used by the
// executor when wrapping engine exports.
func NewBoundMemory(typ wasm.MemoryType, b MemoryBacking) *Memory {
	return &Memory{typ: typ, backing: b}
}

// Type returns the declared memory type.
func (m *Memory) Type() wasm.MemoryType {
	return m.typ
}

// Size returns the current size in bytes.
func (m *Memory) Size() uint32 {
	return m.backing.SizeBytes()
}

// Pages returns the current size in pages.
func (m *Memory) Pages() uint32 {
	return m.backing.SizeBytes() / wasm.PageSize
}

// Read returns a copy of count bytes starting at offset.
func (m *Memory) Read(offset, count uint32) ([]byte, error) {
	data, ok := m.backing.Read(offset, count)
	if !ok {
		return nil, errs.New(errs.PhaseHost, errs.KindInvalidInput,
			"memory read [%d, %d) out of bounds (size %d)", offset, uint64(offset)+uint64(count), m.Size())
	}
	return data, nil
}

// Write copies data into the memory starting at offset.
func (m *Memory) Write(offset uint32, data []byte) error {
	if !m.backing.Write(offset, data) {
		return errs.New(errs.PhaseHost, errs.KindInvalidInput,
			"memory write [%d, %d) out of bounds (size %d)", offset, uint64(offset)+uint64(len(data)), m.Size())
	}
	return nil
}

// Grow extends the memory by delta pages and returns the previous
// size in pages. Growth past the declared maximum fails with the
// memory unchanged.
func (m *Memory) Grow(delta uint32) (uint32, error) {
	prev, ok := m.backing.GrowPages(delta)
	if !ok {
		return 0, errs.New(errs.PhaseHost, errs.KindInvalidLimits,
			"memory grow by %d pages exceeds limit", delta)
	}
	return prev, nil
}

// Bind re-backs the handle onto b. Existing content is the backing's
// concern; callers copy before binding when preservation matters.
func (m *Memory) Bind(b MemoryBacking) {
	m.backing = b
}

// Backing returns the current backing, letting the engine copy local
// content into its own storage before re-binding.
func (m *Memory) Backing() MemoryBacking {
	return m.backing
}

// localMemory is the byte-slice backing for host-created memories.
type localMemory struct {
	data []byte
	max  *uint64
}

func (l *localMemory) SizeBytes() uint32 {
	return uint32(len(l.data))
}

func (l *localMemory) GrowPages(delta uint32) (uint32, bool) {
	prevPages := uint32(len(l.data)) / wasm.PageSize
	newPages := uint64(prevPages) + uint64(delta)
	limit := wasm.MemoryMaxPages
	if l.max != nil && *l.max < limit {
		limit = *l.max
	}
	if newPages > limit {
		return 0, false
	}
	grown := make([]byte, newPages*uint64(wasm.PageSize))
	copy(grown, l.data)
	l.data = grown
	return prevPages, true
}

func (l *localMemory) Read(offset, count uint32) ([]byte, bool) {
	end := uint64(offset) + uint64(count)
	if end > uint64(len(l.data)) {
		return nil, false
	}
	out := make([]byte, count)
	copy(out, l.data[offset:end])
	return out, true
}

func (l *localMemory) Write(offset uint32, data []byte) bool {
	end := uint64(offset) + uint64(len(data))
	if end > uint64(len(l.data)) {
		return false
	}
	copy(l.data[offset:end], data)
	return true
}
