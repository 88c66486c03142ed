// Package stacks models the run-time side of segmented, growable stacks:
// byte-addressed memory segments, frames carrying a frame-type marker, stack
// growth into fresh segments, and the runtime lookup that finds the caller
// frame pointer of a segment-start frame.
package stacks

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// ErrFault is returned for accesses outside every mapped segment
var ErrFault = errors.New("memory fault")

// Memory is a sparse, little-endian address space made of mapped segments
type Memory struct {
	segments []*mapping // sorted by base
}

type mapping struct {
	base uint64
	data []byte
}

func (m *mapping) contains(addr uint64, size int) bool {
	return addr >= m.base && addr+uint64(size) <= m.base+uint64(len(m.data))
}

// NewMemory creates an empty address space
func NewMemory() *Memory {
	return &Memory{}
}

// Map makes size zeroed bytes addressable at base
func (m *Memory) Map(base uint64, size int) error {
	for _, s := range m.segments {
		if base < s.base+uint64(len(s.data)) && s.base < base+uint64(size) {
			return fmt.Errorf("map [%#x, %#x): overlaps segment at %#x", base, base+uint64(size), s.base)
		}
	}
	m.segments = append(m.segments, &mapping{base: base, data: make([]byte, size)})
	sort.Slice(m.segments, func(i, j int) bool { return m.segments[i].base < m.segments[j].base })
	return nil
}

// Unmap releases the segment mapped at base
func (m *Memory) Unmap(base uint64) {
	for i, s := range m.segments {
		if s.base == base {
			m.segments = append(m.segments[:i], m.segments[i+1:]...)
			return
		}
	}
}

// Mapped reports whether size bytes at addr are addressable
func (m *Memory) Mapped(addr uint64, size int) bool {
	return m.find(addr, size) != nil
}

func (m *Memory) find(addr uint64, size int) *mapping {
	i := sort.Search(len(m.segments), func(i int) bool { return m.segments[i].base > addr })
	if i == 0 {
		return nil
	}
	if s := m.segments[i-1]; s.contains(addr, size) {
		return s
	}
	return nil
}

// Load reads a size-byte little-endian value (1, 2, 4 or 8 bytes)
func (m *Memory) Load(addr uint64, size int) (uint64, error) {
	s := m.find(addr, size)
	if s == nil {
		return 0, fmt.Errorf("load %d bytes at %#x: %w", size, addr, ErrFault)
	}
	b := s.data[addr-s.base:]
	switch size {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case 8:
		return binary.LittleEndian.Uint64(b), nil
	}
	panic(fmt.Sprintf("stacks: unsupported access size %d", size))
}

// Store writes the low size bytes of bits little-endian
func (m *Memory) Store(addr uint64, size int, bits uint64) error {
	s := m.find(addr, size)
	if s == nil {
		return fmt.Errorf("store %d bytes at %#x: %w", size, addr, ErrFault)
	}
	b := s.data[addr-s.base:]
	switch size {
	case 1:
		b[0] = byte(bits)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(bits))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(bits))
	case 8:
		binary.LittleEndian.PutUint64(b, bits)
	default:
		panic(fmt.Sprintf("stacks: unsupported access size %d", size))
	}
	return nil
}

// Copy moves n bytes from src to dst
func (m *Memory) Copy(dst, src uint64, n int) error {
	if n == 0 {
		return nil
	}
	from := m.find(src, n)
	to := m.find(dst, n)
	if from == nil || to == nil {
		return fmt.Errorf("copy %d bytes %#x -> %#x: %w", n, src, dst, ErrFault)
	}
	copy(to.data[dst-to.base:], from.data[src-from.base:src-from.base+uint64(n)])
	return nil
}
