package stacks

import (
	"errors"
	"fmt"

	"github.com/raymyers/growstack/pkg/frame"
)

var (
	// ErrOverflow is returned when a frame cannot be placed on the stack
	ErrOverflow = errors.New("stack overflow")

	// ErrUnderflow is returned when popping an empty stack
	ErrUnderflow = errors.New("stack underflow")
)

const (
	firstSegmentBase = 0x100000
	segmentGap       = 0x1000 // unmapped guard between segments
)

// Frame is one activation on a Stack
type Frame struct {
	Type    frame.Type
	FP      uint64
	SP      uint64
	ArgBase uint64 // lowest caller frame slot, FP + FixedSlotCountAboveFP*ptr
	ArgArea int32  // bytes of caller frame slots
	Segment int

	// OldFP is set for segment-start frames: the frame pointer the callee
	// would have had in the caller's segment, so that OldFP+offset
	// addresses the caller frame slots the caller reserved there.
	OldFP uint64
}

// Segment is one contiguous piece of stack memory
type Segment struct {
	Base uint64
	Size int
}

// Top returns the highest address of the segment
func (s Segment) Top() uint64 {
	return s.Base + uint64(s.Size)
}

// Stack is a growable stack made of a chain of segments. Frames grow down;
// when the current segment has no room for a frame the stack continues in a
// new segment and the frame is marked as a segment start.
type Stack struct {
	mem         *Memory
	pointerSize int32
	segmentSize int
	nextBase    uint64
	segments    []Segment
	frames      []*Frame
}

// NewStack maps the first segment of a stack in mem
func NewStack(mem *Memory, pointerSize int32, segmentSize int) (*Stack, error) {
	s := &Stack{
		mem:         mem,
		pointerSize: pointerSize,
		segmentSize: segmentSize,
		nextBase:    firstSegmentBase,
	}
	if _, err := s.grow(segmentSize); err != nil {
		return nil, err
	}
	return s, nil
}

// Memory returns the memory the stack lives in
func (s *Stack) Memory() *Memory {
	return s.mem
}

// Segments returns the live segments, oldest first
func (s *Stack) Segments() []Segment {
	return s.segments
}

// Depth returns the number of frames on the stack
func (s *Stack) Depth() int {
	return len(s.frames)
}

// Top returns the innermost frame, or nil for an empty stack
func (s *Stack) Top() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// PushFrame pushes a frame of the given type. The caller reserves argArea
// bytes of caller frame slots below its own frame; frameSize is the room
// the callee needs below FP. If the current segment is full the frame
// starts a new segment.
func (s *Stack) PushFrame(typ frame.Type, frameSize, argArea int32) (*Frame, error) {
	return s.push(typ, frameSize, argArea, false)
}

// PushSegmentStart pushes a frame into a new segment even if the current
// one has room.
func (s *Stack) PushSegmentStart(frameSize, argArea int32) (*Frame, error) {
	return s.push(frame.WasmSegmentStart, frameSize, argArea, true)
}

func (s *Stack) push(typ frame.Type, frameSize, argArea int32, forceGrow bool) (*Frame, error) {
	frameSize = max(frameSize, frame.MinFrameSize)
	ptr := uint64(s.pointerSize)
	fixed := uint64(frame.FixedSlotCountAboveFP) * ptr

	segIndex := len(s.segments) - 1
	seg := s.segments[segIndex]
	callerSP := seg.Top()
	var callerFP uint64
	if caller := s.Top(); caller != nil {
		callerSP = caller.SP
		callerFP = caller.FP
	}

	if callerSP < seg.Base+uint64(argArea) {
		return nil, fmt.Errorf("reserve %d bytes of caller frame slots: %w", argArea, ErrOverflow)
	}
	argBase := callerSP - uint64(argArea)

	f := &Frame{
		Type:    typ,
		FP:      argBase - fixed,
		ArgBase: argBase,
		ArgArea: argArea,
		Segment: segIndex,
	}
	needed := fixed + uint64(frameSize)
	if forceGrow || argBase < seg.Base+needed {
		next, err := s.grow(int(uint64(argArea) + needed))
		if err != nil {
			return nil, err
		}
		// Stack parameters are copied; the return slots stay with the caller
		f.ArgBase = next.Top() - uint64(argArea)
		f.FP = f.ArgBase - fixed
		f.Segment = len(s.segments) - 1
		f.Type = frame.WasmSegmentStart
		f.OldFP = argBase - fixed
		if err := s.mem.Copy(f.ArgBase, argBase, int(argArea)); err != nil {
			return nil, err
		}
	}
	f.SP = f.FP - uint64(frameSize)

	if err := s.mem.Store(f.FP, int(ptr), callerFP); err != nil {
		return nil, err
	}
	if err := s.writeMarker(f); err != nil {
		return nil, err
	}
	s.frames = append(s.frames, f)
	return f, nil
}

func (s *Stack) writeMarker(f *Frame) error {
	addr := uint64(int64(f.FP) + int64(frame.TypeOffset))
	return s.mem.Store(addr, 4, uint64(uint32(frame.TypeToMarker(f.Type))))
}

// Marker reads back the frame type stored in f's marker slot
func (s *Stack) Marker(f *Frame) (frame.Type, error) {
	addr := uint64(int64(f.FP) + int64(frame.TypeOffset))
	bits, err := s.mem.Load(addr, 4)
	if err != nil {
		return frame.None, err
	}
	t, ok := frame.MarkerToType(int32(uint32(bits)))
	if !ok {
		return frame.None, fmt.Errorf("frame at %#x: bad marker %#x", f.FP, bits)
	}
	return t, nil
}

// PopFrame removes the innermost frame and releases its segment if the frame
// was the segment's first.
func (s *Stack) PopFrame() error {
	f := s.Top()
	if f == nil {
		return fmt.Errorf("pop: %w", ErrUnderflow)
	}
	s.frames = s.frames[:len(s.frames)-1]
	if f.Segment > 0 && (s.Top() == nil || s.Top().Segment < f.Segment) {
		last := s.segments[f.Segment]
		s.mem.Unmap(last.Base)
		s.segments = s.segments[:f.Segment]
	}
	return nil
}

func (s *Stack) grow(size int) (Segment, error) {
	size = max(size, s.segmentSize)
	seg := Segment{Base: s.nextBase, Size: size}
	if err := s.mem.Map(seg.Base, seg.Size); err != nil {
		return Segment{}, err
	}
	s.nextBase += uint64(size) + segmentGap
	s.segments = append(s.segments, seg)
	return seg, nil
}
