// Package epilogue materialises caller frame slot returns the default way:
// relative to the returning frame's own frame pointer. It runs after the
// growable-stacks lowering and leaves returns whose slots were already
// copied alone.
package epilogue

import (
	"fmt"

	"github.com/raymyers/growstack/pkg/ir"
	"github.com/raymyers/growstack/pkg/linkage"
	"github.com/raymyers/growstack/pkg/machine"
	"github.com/raymyers/growstack/pkg/reducer"
)

// New returns the epilogue stage for a function with calling convention desc
func New(desc *linkage.CallDescriptor) reducer.Factory {
	return func(a *ir.Assembler, next reducer.Reducer) reducer.Reducer {
		return &transformer{a: a, next: next, desc: desc}
	}
}

type transformer struct {
	a    *ir.Assembler
	next reducer.Reducer
	desc *linkage.CallDescriptor
}

func (t *transformer) Reduce(op ir.Operation) ir.OpIndex {
	ret, ok := op.(ir.Return)
	if !ok || ret.SlotsCopied || t.desc.StackReturnCount() == 0 {
		return t.next.Reduce(op)
	}
	if len(ret.Values) != t.desc.ReturnCount() {
		panic(fmt.Sprintf("epilogue: return has %d values, descriptor has %d", len(ret.Values), t.desc.ReturnCount()))
	}

	fp := t.a.FramePointer()
	var registers []ir.OpIndex
	for i, v := range ret.Values {
		switch loc := t.desc.ReturnLocation(i).(type) {
		case linkage.Register:
			registers = append(registers, v)
		case linkage.CallerFrameSlot:
			rep := machine.FromMachineType(t.desc.ReturnType(i), t.desc.Target.PointerSize)
			t.a.Store(fp, v, ir.RawAligned, rep, ir.NoWriteBarrier, loc.Offset)
		default:
			panic("epilogue: unknown location type")
		}
	}
	return t.next.Reduce(ir.Return{PopCount: ret.PopCount, Values: registers, SlotsCopied: true})
}
