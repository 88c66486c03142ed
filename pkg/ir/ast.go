// Package ir defines the backend instruction graph: an arena of operations
// referenced by opaque OpIndex handles, grouped into basic blocks that end in
// an explicit terminator. Merge points use Phi operations with one input per
// predecessor block.
package ir

import (
	"github.com/raymyers/growstack/pkg/linkage"
	"github.com/raymyers/growstack/pkg/machine"
)

// OpIndex is a handle to an operation (and the value it produces) in the
// graph that owns it.
type OpIndex int

// InvalidOp is the handle of no operation
const InvalidOp OpIndex = -1

// Valid returns true if the handle refers to an operation
func (i OpIndex) Valid() bool {
	return i >= 0
}

// BlockIndex identifies a basic block in a graph
type BlockIndex int

// InvalidBlock is the index of no block
const InvalidBlock BlockIndex = -1

// Valid returns true if the index refers to a block
func (b BlockIndex) Valid() bool {
	return b >= 0
}

// --- Operation attributes ---

// MemoryAccessKind describes the alignment and tagging of a memory access
type MemoryAccessKind int

const (
	RawAligned MemoryAccessKind = iota
	RawUnaligned
	TaggedBase
)

func (k MemoryAccessKind) String() string {
	switch k {
	case RawAligned:
		return "raw-aligned"
	case RawUnaligned:
		return "raw-unaligned"
	case TaggedBase:
		return "tagged-base"
	}
	return "?"
}

// WriteBarrier selects the bookkeeping a store performs for the collector
type WriteBarrier int

const (
	NoWriteBarrier WriteBarrier = iota
	FullWriteBarrier
)

func (w WriteBarrier) String() string {
	if w == NoWriteBarrier {
		return "no-write-barrier"
	}
	return "full-write-barrier"
}

// BranchHint marks the expected direction of a branch
type BranchHint int

const (
	HintNone BranchHint = iota
	HintLikely
	HintUnlikely
)

func (h BranchHint) String() string {
	switch h {
	case HintLikely:
		return "likely"
	case HintUnlikely:
		return "unlikely"
	}
	return ""
}

// ExternalReference names an address resolved outside compiled code
type ExternalReference struct {
	Name string
}

var (
	// WasmLoadOldFP is the runtime function returning the caller frame
	// pointer of a segment-start frame: (isolate) -> fp.
	WasmLoadOldFP = ExternalReference{Name: "wasm_load_old_fp"}

	// IsolateAddress is the address of the current execution context
	IsolateAddress = ExternalReference{Name: "isolate_address"}
)

// --- Operations ---

// Operation is the interface for graph operations
type Operation interface {
	implOperation()
}

// Parameter is incoming parameter number Index
type Parameter struct {
	Index int
	Rep   machine.Rep
}

// FramePointer is the current frame pointer
type FramePointer struct{}

// Word32Constant is a 32-bit integer constant
type Word32Constant struct {
	Value uint32
}

// Word64Constant is a 64-bit integer constant
type Word64Constant struct {
	Value uint64
}

// Float32Constant is a float32 constant
type Float32Constant struct {
	Value float32
}

// Float64Constant is a float64 constant
type Float64Constant struct {
	Value float64
}

// ExternalConstant is the address of an external reference
type ExternalConstant struct {
	Ref ExternalReference
}

// Load reads Rep from memory at Base+Offset
type Load struct {
	Base   OpIndex
	Kind   MemoryAccessKind
	Rep    machine.MemoryRep
	Offset int32
}

// Store writes Value as Rep to memory at Base+Offset
type Store struct {
	Base         OpIndex
	Value        OpIndex
	Kind         MemoryAccessKind
	Rep          machine.MemoryRep
	WriteBarrier WriteBarrier
	Offset       int32
}

// Equal compares Left and Right for equality, producing a Word32 0 or 1
type Equal struct {
	Left  OpIndex
	Right OpIndex
	Rep   machine.Rep
}

// Call calls Callee with Args using the convention of Descriptor. Calls
// produce the first return value, if any.
type Call struct {
	Callee     OpIndex
	Args       []OpIndex
	Descriptor *linkage.CallDescriptor
}

// Phi merges one input per predecessor of its block, in predecessor order
type Phi struct {
	Inputs []OpIndex
	Rep    machine.Rep
}

// Goto ends a block with an unconditional jump
type Goto struct {
	Dest BlockIndex
}

// Branch ends a block with a two-way conditional jump on a non-zero Cond
type Branch struct {
	Cond    OpIndex
	IfTrue  BlockIndex
	IfFalse BlockIndex
	Hint    BranchHint
}

// Return ends a block by returning Values. PopCount is the number of extra
// stack slots to pop. SlotsCopied means every caller-frame-slot return has
// already been stored and Values only holds the register returns.
type Return struct {
	PopCount    OpIndex
	Values      []OpIndex
	SlotsCopied bool
}

// Marker methods for Operation interface
func (Parameter) implOperation()        {}
func (FramePointer) implOperation()     {}
func (Word32Constant) implOperation()   {}
func (Word64Constant) implOperation()   {}
func (Float32Constant) implOperation()  {}
func (Float64Constant) implOperation()  {}
func (ExternalConstant) implOperation() {}
func (Load) implOperation()             {}
func (Store) implOperation()            {}
func (Equal) implOperation()            {}
func (Call) implOperation()             {}
func (Phi) implOperation()              {}
func (Goto) implOperation()             {}
func (Branch) implOperation()           {}
func (Return) implOperation()           {}

// IsTerminator reports whether op ends a block
func IsTerminator(op Operation) bool {
	switch op.(type) {
	case Goto, Branch, Return:
		return true
	}
	return false
}

// ProducesValue reports whether other operations may use op as an input
func ProducesValue(op Operation) bool {
	switch o := op.(type) {
	case Store, Goto, Branch, Return:
		return false
	case Call:
		return o.Descriptor == nil || o.Descriptor.ReturnCount() > 0
	}
	return true
}

// Inputs returns the operations op reads, in operand order
func Inputs(op Operation) []OpIndex {
	switch o := op.(type) {
	case Load:
		return []OpIndex{o.Base}
	case Store:
		return []OpIndex{o.Base, o.Value}
	case Equal:
		return []OpIndex{o.Left, o.Right}
	case Call:
		return append([]OpIndex{o.Callee}, o.Args...)
	case Phi:
		return o.Inputs
	case Branch:
		return []OpIndex{o.Cond}
	case Return:
		return append([]OpIndex{o.PopCount}, o.Values...)
	}
	return nil
}

// Successors returns the blocks a terminator may jump to
func Successors(op Operation) []BlockIndex {
	switch o := op.(type) {
	case Goto:
		return []BlockIndex{o.Dest}
	case Branch:
		return []BlockIndex{o.IfTrue, o.IfFalse}
	}
	return nil
}

// MapInputs returns a copy of op with every input replaced by f(input)
func MapInputs(op Operation, f func(OpIndex) OpIndex) Operation {
	mapAll := func(ops []OpIndex) []OpIndex {
		if ops == nil {
			return nil
		}
		out := make([]OpIndex, len(ops))
		for i, o := range ops {
			out[i] = f(o)
		}
		return out
	}

	switch o := op.(type) {
	case Load:
		o.Base = f(o.Base)
		return o
	case Store:
		o.Base = f(o.Base)
		o.Value = f(o.Value)
		return o
	case Equal:
		o.Left = f(o.Left)
		o.Right = f(o.Right)
		return o
	case Call:
		o.Callee = f(o.Callee)
		o.Args = mapAll(o.Args)
		return o
	case Phi:
		o.Inputs = mapAll(o.Inputs)
		return o
	case Branch:
		o.Cond = f(o.Cond)
		return o
	case Return:
		o.PopCount = f(o.PopCount)
		o.Values = mapAll(o.Values)
		return o
	}
	return op
}

// MapBlocks returns a copy of op with every successor replaced by f(block)
func MapBlocks(op Operation, f func(BlockIndex) BlockIndex) Operation {
	switch o := op.(type) {
	case Goto:
		o.Dest = f(o.Dest)
		return o
	case Branch:
		o.IfTrue = f(o.IfTrue)
		o.IfFalse = f(o.IfFalse)
		return o
	}
	return op
}
