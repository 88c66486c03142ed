package ir

import (
	"github.com/raymyers/growstack/pkg/linkage"
	"github.com/raymyers/growstack/pkg/machine"
)

// Assembler appends operations to a graph. Blocks are created with NewBlock
// and filled after Bind; a terminator closes the current block.
//
// The typed constructors send their operation through the route installed
// with Route (the head of a rewriting pipeline) so every stage observes
// operations created by earlier stages. Without a route they emit directly.
type Assembler struct {
	graph   *Graph
	current BlockIndex
	route   func(Operation) OpIndex
}

// NewAssembler creates an assembler writing into g
func NewAssembler(g *Graph) *Assembler {
	return &Assembler{graph: g, current: InvalidBlock}
}

// Graph returns the graph being built
func (a *Assembler) Graph() *Graph {
	return a.graph
}

// Route sends typed constructors through reduce instead of Emit
func (a *Assembler) Route(reduce func(Operation) OpIndex) {
	a.route = reduce
}

// NewBlock creates an empty, unbound block
func (a *Assembler) NewBlock() BlockIndex {
	return a.graph.newBlock()
}

// Bind makes b the current block. The previous block must be closed.
func (a *Assembler) Bind(b BlockIndex) {
	if a.current.Valid() {
		panic("ir: Bind while the current block has no terminator")
	}
	if len(a.graph.Block(b).Ops) != 0 {
		panic("ir: Bind of a block that is already filled")
	}
	a.current = b
}

// CurrentBlock returns the open block, or InvalidBlock after a terminator
func (a *Assembler) CurrentBlock() BlockIndex {
	return a.current
}

// Emit appends op to the current block as is
func (a *Assembler) Emit(op Operation) OpIndex {
	if !a.current.Valid() {
		panic("ir: Emit without a bound block")
	}
	from := a.current
	i := a.graph.append(from, op)
	if IsTerminator(op) {
		for _, succ := range Successors(op) {
			s := a.graph.Block(succ)
			s.Predecessors = append(s.Predecessors, from)
		}
		a.current = InvalidBlock
	}
	return i
}

func (a *Assembler) reduce(op Operation) OpIndex {
	if a.route != nil {
		return a.route(op)
	}
	return a.Emit(op)
}

// --- Typed constructors ---

func (a *Assembler) Parameter(index int, rep machine.Rep) OpIndex {
	return a.reduce(Parameter{Index: index, Rep: rep})
}

func (a *Assembler) FramePointer() OpIndex {
	return a.reduce(FramePointer{})
}

func (a *Assembler) Word32Constant(v uint32) OpIndex {
	return a.reduce(Word32Constant{Value: v})
}

func (a *Assembler) Word64Constant(v uint64) OpIndex {
	return a.reduce(Word64Constant{Value: v})
}

func (a *Assembler) Float32Constant(v float32) OpIndex {
	return a.reduce(Float32Constant{Value: v})
}

func (a *Assembler) Float64Constant(v float64) OpIndex {
	return a.reduce(Float64Constant{Value: v})
}

func (a *Assembler) ExternalConstant(ref ExternalReference) OpIndex {
	return a.reduce(ExternalConstant{Ref: ref})
}

func (a *Assembler) Load(base OpIndex, kind MemoryAccessKind, rep machine.MemoryRep, offset int32) OpIndex {
	return a.reduce(Load{Base: base, Kind: kind, Rep: rep, Offset: offset})
}

func (a *Assembler) Store(base, value OpIndex, kind MemoryAccessKind, rep machine.MemoryRep, wb WriteBarrier, offset int32) OpIndex {
	return a.reduce(Store{Base: base, Value: value, Kind: kind, Rep: rep, WriteBarrier: wb, Offset: offset})
}

func (a *Assembler) Equal(left, right OpIndex, rep machine.Rep) OpIndex {
	return a.reduce(Equal{Left: left, Right: right, Rep: rep})
}

func (a *Assembler) Call(callee OpIndex, args []OpIndex, desc *linkage.CallDescriptor) OpIndex {
	return a.reduce(Call{Callee: callee, Args: args, Descriptor: desc})
}

func (a *Assembler) Phi(inputs []OpIndex, rep machine.Rep) OpIndex {
	return a.reduce(Phi{Inputs: inputs, Rep: rep})
}

func (a *Assembler) Goto(dest BlockIndex) OpIndex {
	return a.reduce(Goto{Dest: dest})
}

func (a *Assembler) Branch(cond OpIndex, ifTrue, ifFalse BlockIndex, hint BranchHint) OpIndex {
	return a.reduce(Branch{Cond: cond, IfTrue: ifTrue, IfFalse: ifFalse, Hint: hint})
}

func (a *Assembler) Return(popCount OpIndex, values []OpIndex, slotsCopied bool) OpIndex {
	return a.reduce(Return{PopCount: popCount, Values: values, SlotsCopied: slotsCopied})
}
