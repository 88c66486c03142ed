package reducer

import (
	"fmt"

	"github.com/raymyers/growstack/pkg/ir"
)

// Run rebuilds input through a pipeline of stages and returns the new graph.
//
// Reachable blocks are visited in reverse postorder so every definition is
// reduced before its uses. Only phis may refer to values that have not been
// visited yet (loop back-edges); their inputs are resolved after the walk,
// reordered to match the predecessor order of the output block.
func Run(input *ir.Graph, stages ...Factory) *ir.Graph {
	out := ir.NewGraph(input.Name, input.Sig)
	a := ir.NewAssembler(out)

	c := &copying{
		input:    input,
		a:        a,
		head:     Chain(a, stages...),
		opMap:    make([]ir.OpIndex, len(input.Ops)),
		blockMap: make([]ir.BlockIndex, len(input.Blocks)),
		exits:    make([]ir.BlockIndex, len(input.Blocks)),
	}
	for i := range c.opMap {
		c.opMap[i] = ir.InvalidOp
	}
	for b := range c.blockMap {
		c.blockMap[b] = ir.InvalidBlock
		c.exits[b] = ir.InvalidBlock
	}
	a.Route(c.head.Reduce)

	order := input.ReversePostorder()
	for _, b := range order {
		c.blockMap[b] = a.NewBlock()
	}
	for _, b := range order {
		c.visitBlock(b)
	}
	c.patchPhis()

	return out
}

type copying struct {
	input *ir.Graph
	a     *ir.Assembler
	head  Reducer

	opMap    []ir.OpIndex    // input op -> output value
	blockMap []ir.BlockIndex // input block -> output block it starts in
	exits    []ir.BlockIndex // input block -> output block holding its terminator
	phis     []ir.OpIndex    // input phis, in visiting order
}

func (c *copying) visitBlock(b ir.BlockIndex) {
	c.a.Bind(c.blockMap[b])

	for _, i := range c.input.Block(b).Ops {
		orig := c.input.Op(i)
		_, isPhi := orig.(ir.Phi)
		if isPhi {
			c.phis = append(c.phis, i)
		}

		op := ir.MapInputs(orig, func(in ir.OpIndex) ir.OpIndex {
			return c.mapInput(i, in, isPhi)
		})
		op = ir.MapBlocks(op, c.mapBlock)

		result := c.head.Reduce(op)
		c.opMap[i] = result
		if ir.IsTerminator(orig) && result.Valid() {
			c.exits[b] = c.a.Graph().BlockOf(result)
		}
	}

	if c.a.CurrentBlock().Valid() {
		panic(fmt.Sprintf("reducer: B%d was left without a terminator", b))
	}
}

func (c *copying) mapInput(user, in ir.OpIndex, isPhi bool) ir.OpIndex {
	if int(in) >= 0 && int(in) < len(c.opMap) && c.opMap[in].Valid() {
		return c.opMap[in]
	}
	if isPhi {
		return ir.InvalidOp
	}
	panic(fmt.Sprintf("reducer: v%d uses v%d, which has no replacement", user, in))
}

func (c *copying) mapBlock(b ir.BlockIndex) ir.BlockIndex {
	if int(b) < 0 || int(b) >= len(c.blockMap) || !c.blockMap[b].Valid() {
		panic(fmt.Sprintf("reducer: jump to unknown block B%d", b))
	}
	return c.blockMap[b]
}

func (c *copying) patchPhis() {
	out := c.a.Graph()

	for _, i := range c.phis {
		result := c.opMap[i]
		if !result.Valid() {
			continue
		}
		phi, ok := out.Op(result).(ir.Phi)
		if !ok {
			// A stage replaced the phi with something else; it owns the inputs
			continue
		}

		orig := c.input.Op(i).(ir.Phi)
		inPreds := c.input.Block(c.input.BlockOf(i)).Predecessors
		outBlock := out.BlockOf(result)
		outPreds := out.Block(outBlock).Predecessors

		used := make([]bool, len(inPreds))
		inputs := make([]ir.OpIndex, len(outPreds))
		for k, q := range outPreds {
			found := -1
			for j, p := range inPreds {
				if !used[j] && c.exits[p] == q {
					found = j
					break
				}
			}
			if found < 0 {
				panic(fmt.Sprintf("reducer: edge B%d -> B%d has no input edge", q, outBlock))
			}
			used[found] = true

			v := c.opMap[orig.Inputs[found]]
			if !v.Valid() {
				panic(fmt.Sprintf("reducer: phi v%d input v%d has no replacement", i, orig.Inputs[found]))
			}
			inputs[k] = v
		}

		phi.Inputs = inputs
		out.Replace(result, phi)
	}
}
