// Package growstacks lowers function returns for code that may run on a
// segmented, growable stack.
//
// A return value the calling convention places in a caller frame slot is
// written relative to the frame pointer. When the returning frame is the
// first frame of a freshly grown segment, the caller's frame lives in the
// previous segment, so the current frame pointer is the wrong base. The
// lowering checks the frame marker at run time and, for a segment-start
// frame, asks the runtime for the caller's frame pointer before storing the
// slot-bound values. The rewritten return only carries the register-bound
// values and is flagged so later stages do not store the slots again.
package growstacks

import (
	"fmt"

	"github.com/raymyers/growstack/pkg/arch"
	"github.com/raymyers/growstack/pkg/frame"
	"github.com/raymyers/growstack/pkg/ir"
	"github.com/raymyers/growstack/pkg/linkage"
	"github.com/raymyers/growstack/pkg/machine"
	"github.com/raymyers/growstack/pkg/reducer"
)

// Stats counts what one run of the lowering did
type Stats struct {
	Returns int // returns seen
	Lowered int // returns rewritten with a frame-marker check
	Stores  int // slot stores emitted
}

// New returns the lowering stage for a function with calling convention
// desc. stats may be nil.
func New(desc *linkage.CallDescriptor, stats *Stats) reducer.Factory {
	if desc == nil {
		panic("growstacks: missing call descriptor")
	}
	lookup := linkage.SimplifiedCDescriptor(linkage.Signature{
		Params:  []machine.Type{machine.Pointer},
		Returns: []machine.Type{machine.Pointer},
	}, desc.Target)

	return func(a *ir.Assembler, next reducer.Reducer) reducer.Reducer {
		s := stats
		if s == nil {
			s = &Stats{}
		}
		return &transformer{a: a, next: next, desc: desc, lookup: lookup, stats: s}
	}
}

// Phase lowers every return of g for target. The descriptor is built from
// the graph's signature, narrowed on 32-bit targets.
func Phase(g *ir.Graph, target *arch.Target) (*ir.Graph, Stats) {
	var stats Stats
	out := reducer.Run(g, New(linkage.ForTarget(g.Sig, target), &stats))
	return out, stats
}

type transformer struct {
	a      *ir.Assembler
	next   reducer.Reducer
	desc   *linkage.CallDescriptor
	lookup *linkage.CallDescriptor // wasm_load_old_fp: (isolate) -> fp
	stats  *Stats
}

func (t *transformer) Reduce(op ir.Operation) ir.OpIndex {
	if ret, ok := op.(ir.Return); ok {
		return t.reduceReturn(ret)
	}
	return t.next.Reduce(op)
}

func (t *transformer) reduceReturn(ret ir.Return) ir.OpIndex {
	t.stats.Returns++
	if len(ret.Values) != t.desc.ReturnCount() {
		panic(fmt.Sprintf("growstacks: return has %d values, descriptor %s has %d",
			len(ret.Values), t.desc, t.desc.ReturnCount()))
	}
	if t.desc.StackReturnCount() == 0 {
		return t.next.Reduce(ret)
	}
	t.stats.Lowered++

	callerFP := t.resolveCallerFP()
	pointerSize := t.desc.Target.PointerSize

	var registers []ir.OpIndex
	for i, v := range ret.Values {
		switch loc := t.desc.ReturnLocation(i).(type) {
		case linkage.Register:
			registers = append(registers, v)
		case linkage.CallerFrameSlot:
			rep := machine.FromMachineType(t.desc.ReturnType(i), pointerSize)
			t.a.Store(callerFP, v, ir.RawAligned, rep, ir.NoWriteBarrier, loc.Offset)
			t.stats.Stores++
		default:
			panic("growstacks: unknown location type")
		}
	}

	return t.next.Reduce(ir.Return{PopCount: ret.PopCount, Values: registers, SlotsCopied: true})
}

// resolveCallerFP emits the frame-marker check and returns the frame
// pointer the caller frame slots are relative to:
//
//	marker = Load [fp - 8]
//	if marker == WasmSegmentStart (unlikely) { wasm_load_old_fp(isolate) } else { fp }
func (t *transformer) resolveCallerFP() ir.OpIndex {
	a := t.a
	marker := a.Load(a.FramePointer(), ir.RawAligned, machine.MemUint32, frame.TypeOffset)
	segmentStart := a.Word32Constant(uint32(frame.TypeToMarker(frame.WasmSegmentStart)))
	isSegmentStart := a.Equal(marker, segmentStart, machine.Word32)

	ifStart := a.NewBlock()
	ifOrdinary := a.NewBlock()
	merge := a.NewBlock()
	a.Branch(isSegmentStart, ifStart, ifOrdinary, ir.HintUnlikely)

	a.Bind(ifStart)
	callee := a.ExternalConstant(ir.WasmLoadOldFP)
	isolate := a.ExternalConstant(ir.IsolateAddress)
	oldFP := a.Call(callee, []ir.OpIndex{isolate}, t.lookup)
	a.Goto(merge)

	a.Bind(ifOrdinary)
	fp := a.FramePointer()
	a.Goto(merge)

	a.Bind(merge)
	return a.Phi([]ir.OpIndex{oldFP, fp}, machine.WordPtr(t.desc.Target.PointerSize))
}
