package ir

import (
	"fmt"

	"github.com/raymyers/growstack/pkg/linkage"
)

// Block is a basic block: a run of operations ending in a terminator
type Block struct {
	Index        BlockIndex
	Ops          []OpIndex
	Predecessors []BlockIndex // in the order their edges were emitted
}

// Terminator returns the last operation of the block, or InvalidOp if the
// block is still empty.
func (b *Block) Terminator() OpIndex {
	if len(b.Ops) == 0 {
		return InvalidOp
	}
	return b.Ops[len(b.Ops)-1]
}

// Graph is the instruction graph of one function. It owns every operation
// in its arena; handles are only meaningful for the graph that issued them.
type Graph struct {
	Name   string
	Sig    linkage.Signature
	Ops    []Operation
	Blocks []*Block

	owner []BlockIndex // block containing each op
}

// NewGraph creates an empty graph
func NewGraph(name string, sig linkage.Signature) *Graph {
	return &Graph{Name: name, Sig: sig}
}

// Op returns the operation behind a handle
func (g *Graph) Op(i OpIndex) Operation {
	if int(i) < 0 || int(i) >= len(g.Ops) {
		panic(fmt.Sprintf("ir: invalid operation handle v%d", i))
	}
	return g.Ops[i]
}

// Block returns the block with index b
func (g *Graph) Block(b BlockIndex) *Block {
	if int(b) < 0 || int(b) >= len(g.Blocks) {
		panic(fmt.Sprintf("ir: invalid block B%d", b))
	}
	return g.Blocks[b]
}

// BlockOf returns the block an operation was emitted into
func (g *Graph) BlockOf(i OpIndex) BlockIndex {
	return g.owner[i]
}

// Replace overwrites the operation behind a handle in place. It is used to
// patch phi inputs that were not known when the phi was emitted.
func (g *Graph) Replace(i OpIndex, op Operation) {
	if IsTerminator(op) != IsTerminator(g.Op(i)) {
		panic("ir: Replace cannot change whether an operation is a terminator")
	}
	g.Ops[i] = op
}

func (g *Graph) newBlock() BlockIndex {
	b := &Block{Index: BlockIndex(len(g.Blocks))}
	g.Blocks = append(g.Blocks, b)
	return b.Index
}

func (g *Graph) append(b BlockIndex, op Operation) OpIndex {
	i := OpIndex(len(g.Ops))
	g.Ops = append(g.Ops, op)
	g.owner = append(g.owner, b)
	blk := g.Block(b)
	blk.Ops = append(blk.Ops, i)
	return i
}

// OpsOfType returns the handles of every operation of type T, in arena order
func OpsOfType[T Operation](g *Graph) []OpIndex {
	var result []OpIndex
	for i, op := range g.Ops {
		if _, ok := op.(T); ok {
			result = append(result, OpIndex(i))
		}
	}
	return result
}

// ReversePostorder returns the blocks reachable from the entry block in
// reverse postorder.
func (g *Graph) ReversePostorder() []BlockIndex {
	if len(g.Blocks) == 0 {
		return nil
	}

	visited := make([]bool, len(g.Blocks))
	var postorder []BlockIndex

	var dfs func(b BlockIndex)
	dfs = func(b BlockIndex) {
		if visited[b] {
			return
		}
		visited[b] = true

		if term := g.Block(b).Terminator(); term.Valid() {
			// Visit successors last-first so the first successor comes
			// first in the final order
			succs := Successors(g.Op(term))
			for i := len(succs) - 1; i >= 0; i-- {
				if succ := succs[i]; int(succ) >= 0 && int(succ) < len(g.Blocks) {
					dfs(succ)
				}
			}
		}
		postorder = append(postorder, b)
	}
	dfs(0)

	order := make([]BlockIndex, len(postorder))
	for i, b := range postorder {
		order[len(postorder)-1-i] = b
	}
	return order
}
