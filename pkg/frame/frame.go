// Package frame holds the frame layout contract shared by compiled code and
// the stack-growth runtime: where the frame-type marker lives, how markers
// are encoded, and how caller-frame slots map to frame-pointer offsets.
package frame

import "fmt"

// Compiled frame layout (callee's view, stack grows down):
//
//	+---------------------------+
//	| caller frame slot n       |  FP + (FixedSlotCountAboveFP+n)*ptr
//	| ...                       |
//	| caller frame slot 0       |  FP + FixedSlotCountAboveFP*ptr
//	+---------------------------+
//	| return address            |  FP + ptr
//	| saved caller FP           |  FP + 0
//	+---------------------------+  <- FP
//	| frame-type marker         |  FP + TypeOffset
//	| locals / spills           |
//	+---------------------------+  <- SP
//
// Caller frame slots hold stack parameters followed by stack return values.
// They belong to the caller's frame, so they are only contiguous with the
// callee's frame when both live in the same stack segment.

const (
	// TypeOffset is the byte offset of the frame-type marker from FP
	TypeOffset int32 = -8

	// FixedSlotCountAboveFP counts the saved FP and the return address
	FixedSlotCountAboveFP = 2

	// MinFrameSize is the room below FP every compiled frame reserves for
	// its marker.
	MinFrameSize = 8
)

// Type identifies the kind of a stack frame
type Type int32

const (
	None Type = iota
	Entry
	Exit
	Wasm
	WasmToJS
	JSToWasm
	WasmExit
	WasmSegmentStart
	Interpreted
	Builtin
)

var typeNames = []string{
	"none", "entry", "exit", "wasm", "wasm-to-js", "js-to-wasm",
	"wasm-exit", "wasm-segment-start", "interpreted", "builtin",
}

func (t Type) String() string {
	if int(t) >= 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("frame-type(%d)", int32(t))
}

// TypeToMarker encodes a frame type the way prologues store it: shifted
// left by one so the marker reads as a small integer, never as a pointer.
func TypeToMarker(t Type) int32 {
	return int32(t) << 1
}

// MarkerToType decodes a marker. Odd values are pointers, not markers.
func MarkerToType(marker int32) (Type, bool) {
	if marker&1 != 0 {
		return None, false
	}
	t := Type(marker >> 1)
	if t < None || int(t) >= len(typeNames) {
		return None, false
	}
	return t, true
}

// SlotToFPOffset returns the FP-relative byte offset of caller frame slot
// number slot.
func SlotToFPOffset(slot int, pointerSize int32) int32 {
	return int32(FixedSlotCountAboveFP+slot) * pointerSize
}

// SlotsFor returns the number of caller frame slots a value of the given
// byte size occupies.
func SlotsFor(size, pointerSize int32) int {
	return int((size + pointerSize - 1) / pointerSize)
}
