// Package reducer composes graph rewriting stages. A stage sees every
// operation of the graph being rebuilt, in order, and decides what to emit
// in its place before handing on to the next stage. The last stage of every
// pipeline is a Copier that appends operations to the output graph.
package reducer

import (
	"github.com/raymyers/growstack/pkg/ir"
)

// Reducer is one stage of a rewriting pipeline.
//
// Reduce receives an operation whose inputs and successors already refer to
// the output graph. It may forward the operation to the next stage as is,
// emit other operations first and forward something else, or swallow it
// entirely by returning ir.InvalidOp. The returned handle stands for the
// operation's value in the output graph.
type Reducer interface {
	Reduce(op ir.Operation) ir.OpIndex
}

// Factory creates a stage writing through a and handing on to next
type Factory func(a *ir.Assembler, next Reducer) Reducer

// Copier is the terminal stage: it appends what it receives
type Copier struct {
	a *ir.Assembler
}

// NewCopier creates the terminal stage for a
func NewCopier(a *ir.Assembler) *Copier {
	return &Copier{a: a}
}

func (c *Copier) Reduce(op ir.Operation) ir.OpIndex {
	return c.a.Emit(op)
}

// Chain builds a pipeline over a. The first factory is the head; the Copier
// always comes last.
func Chain(a *ir.Assembler, stages ...Factory) Reducer {
	var r Reducer = NewCopier(a)
	for i := len(stages) - 1; i >= 0; i-- {
		r = stages[i](a, r)
	}
	return r
}
