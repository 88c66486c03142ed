package ir

import (
	"fmt"
	"io"
	"strings"

	"github.com/samber/lo"
)

// Printer outputs a graph one block per paragraph, one operation per line
type Printer struct {
	w io.Writer
}

// NewPrinter creates a new graph printer
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// PrintGraph prints every block of g in index order
func (p *Printer) PrintGraph(g *Graph) {
	fmt.Fprintf(p.w, "func %s%s {\n", g.Name, g.Sig)
	for _, b := range g.Blocks {
		p.printBlock(g, b)
	}
	fmt.Fprintln(p.w, "}")
}

func (p *Printer) printBlock(g *Graph, b *Block) {
	fmt.Fprintf(p.w, "B%d", b.Index)
	if len(b.Predecessors) > 0 {
		fmt.Fprintf(p.w, " <- %s", joinBlocks(b.Predecessors))
	}
	fmt.Fprintln(p.w, ":")

	for _, i := range b.Ops {
		op := g.Op(i)
		if ProducesValue(op) {
			fmt.Fprintf(p.w, "  v%d = %s\n", i, FormatOperation(op))
		} else {
			fmt.Fprintf(p.w, "  %s\n", FormatOperation(op))
		}
	}
}

// FormatOperation renders one operation without its result handle
func FormatOperation(op Operation) string {
	switch o := op.(type) {
	case Parameter:
		return fmt.Sprintf("Parameter %d %s", o.Index, o.Rep)
	case FramePointer:
		return "FramePointer"
	case Word32Constant:
		return fmt.Sprintf("Word32Constant %d", o.Value)
	case Word64Constant:
		return fmt.Sprintf("Word64Constant %d", o.Value)
	case Float32Constant:
		return fmt.Sprintf("Float32Constant %v", o.Value)
	case Float64Constant:
		return fmt.Sprintf("Float64Constant %v", o.Value)
	case ExternalConstant:
		return fmt.Sprintf("ExternalConstant %q", o.Ref.Name)
	case Load:
		return fmt.Sprintf("Load %s %s %s", address(o.Base, o.Offset), o.Rep, o.Kind)
	case Store:
		return fmt.Sprintf("Store %s <- v%d %s %s %s", address(o.Base, o.Offset), o.Value, o.Rep, o.Kind, o.WriteBarrier)
	case Equal:
		return fmt.Sprintf("Equal v%d, v%d %s", o.Left, o.Right, o.Rep)
	case Call:
		s := fmt.Sprintf("Call v%d(%s)", o.Callee, joinValues(o.Args))
		if o.Descriptor != nil {
			s += " " + o.Descriptor.String()
		}
		return s
	case Phi:
		return fmt.Sprintf("Phi %s %s", joinValues(o.Inputs), o.Rep)
	case Goto:
		return fmt.Sprintf("Goto B%d", o.Dest)
	case Branch:
		s := fmt.Sprintf("Branch v%d ? B%d : B%d", o.Cond, o.IfTrue, o.IfFalse)
		if o.Hint != HintNone {
			s += " " + o.Hint.String()
		}
		return s
	case Return:
		s := fmt.Sprintf("Return pop v%d [%s]", o.PopCount, joinValues(o.Values))
		if o.SlotsCopied {
			s += " slots-copied"
		}
		return s
	default:
		return "???"
	}
}

func address(base OpIndex, offset int32) string {
	switch {
	case offset > 0:
		return fmt.Sprintf("[v%d + %d]", base, offset)
	case offset < 0:
		return fmt.Sprintf("[v%d - %d]", base, -offset)
	default:
		return fmt.Sprintf("[v%d]", base)
	}
}

func joinValues(values []OpIndex) string {
	return strings.Join(lo.Map(values, func(v OpIndex, _ int) string { return fmt.Sprintf("v%d", v) }), ", ")
}

func joinBlocks(blocks []BlockIndex) string {
	return strings.Join(lo.Map(blocks, func(b BlockIndex, _ int) string { return fmt.Sprintf("B%d", b) }), ", ")
}
