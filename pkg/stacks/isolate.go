package stacks

import "github.com/raymyers/growstack/pkg/frame"

// Isolate is the execution context compiled code passes to runtime calls
type Isolate struct {
	Address uint64
	Stack   *Stack
}

// DefaultIsolateAddress is where NewIsolate places the isolate
const DefaultIsolateAddress = 0x7000

// NewIsolate creates an isolate running on stack
func NewIsolate(stack *Stack) *Isolate {
	return &Isolate{Address: DefaultIsolateAddress, Stack: stack}
}

// LoadOldFP returns the caller frame pointer of the innermost frame, which
// must be the first frame of its segment. The result is the frame pointer
// the frame would have had in the caller's segment, so caller frame slot
// offsets apply to it unchanged.
func (iso *Isolate) LoadOldFP() uint64 {
	f := iso.Stack.Top()
	if f == nil || f.Type != frame.WasmSegmentStart || f.OldFP == 0 {
		panic("stacks: LoadOldFP called for a frame that does not start a segment")
	}
	return f.OldFP
}
