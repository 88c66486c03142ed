package growstacks

import (
	"math"
	"reflect"
	"testing"

	"github.com/raymyers/growstack/pkg/arch"
	"github.com/raymyers/growstack/pkg/epilogue"
	"github.com/raymyers/growstack/pkg/frame"
	"github.com/raymyers/growstack/pkg/ir"
	"github.com/raymyers/growstack/pkg/linkage"
	"github.com/raymyers/growstack/pkg/machine"
	"github.com/raymyers/growstack/pkg/reducer"
)

func sig(returns ...machine.Type) linkage.Signature {
	return linkage.Signature{Returns: returns}
}

// constant emits a distinct constant for return i of type t
func constant(a *ir.Assembler, t machine.Type, i int, pointerSize int32) ir.OpIndex {
	v := uint64(101 + i)
	switch t {
	case machine.Int64:
		return a.Word64Constant(v << 32)
	case machine.Float32:
		return a.Float32Constant(float32(v) + 0.5)
	case machine.Float64:
		return a.Float64Constant(float64(v) + 0.25)
	case machine.Pointer:
		if pointerSize == 8 {
			return a.Word64Constant(v)
		}
	}
	return a.Word32Constant(uint32(v))
}

// returnGraph returns one constant per return of desc
func returnGraph(s linkage.Signature, desc *linkage.CallDescriptor) *ir.Graph {
	g := ir.NewGraph("f", s)
	a := ir.NewAssembler(g)
	a.Bind(a.NewBlock())
	var values []ir.OpIndex
	for i, r := range desc.Returns {
		values = append(values, constant(a, r.Type, i, desc.Target.PointerSize))
	}
	a.Return(a.Word32Constant(0), values, false)
	return g
}

func lower(t *testing.T, g *ir.Graph, desc *linkage.CallDescriptor) (*ir.Graph, Stats) {
	t.Helper()
	var stats Stats
	out := reducer.Run(g, New(desc, &stats))
	if err := ir.Verify(out); err != nil {
		t.Fatalf("lowered graph is malformed: %v", err)
	}
	return out, stats
}

func onlyReturn(t *testing.T, g *ir.Graph) ir.Return {
	t.Helper()
	rets := ir.OpsOfType[ir.Return](g)
	if len(rets) != 1 {
		t.Fatalf("found %d returns, want 1", len(rets))
	}
	return g.Op(rets[0]).(ir.Return)
}

func stores(g *ir.Graph) []ir.Store {
	var out []ir.Store
	for _, i := range ir.OpsOfType[ir.Store](g) {
		out = append(out, g.Op(i).(ir.Store))
	}
	return out
}

func TestRegisterOnlyReturnIsUnchanged(t *testing.T) {
	s := sig(machine.Int32, machine.Float64)
	desc := linkage.ForTarget(s, arch.AMD64)
	if desc.StackReturnCount() != 0 {
		t.Fatalf("StackReturnCount() = %d, want 0", desc.StackReturnCount())
	}
	in := returnGraph(s, desc)
	out, stats := lower(t, in, desc)

	if len(out.Ops) != len(in.Ops) || len(out.Blocks) != len(in.Blocks) {
		t.Errorf("pass-through added operations: %d ops in %d blocks, want %d in %d",
			len(out.Ops), len(out.Blocks), len(in.Ops), len(in.Blocks))
	}
	if got, want := onlyReturn(t, out), onlyReturn(t, in); !reflect.DeepEqual(got, want) {
		t.Errorf("return = %+v, want %+v", got, want)
	}
	if n := len(ir.OpsOfType[ir.Branch](out)); n != 0 {
		t.Errorf("found %d branches, want 0", n)
	}
	if stats != (Stats{Returns: 1}) {
		t.Errorf("stats = %+v, want only one return seen", stats)
	}
}

func TestLowerStackReturns(t *testing.T) {
	desc := &linkage.CallDescriptor{
		Kind:   linkage.KindWasm,
		Target: arch.AMD64,
		Sig:    sig(machine.Int32, machine.Int64, machine.Int64),
		Returns: []linkage.Slot{
			{Type: machine.Int32, Loc: linkage.Register{Reg: arch.AMD64.GPReturns[0]}},
			{Type: machine.Int64, Loc: linkage.CallerFrameSlot{Offset: 16}},
			{Type: machine.Int64, Loc: linkage.CallerFrameSlot{Offset: 24}},
		},
		StackReturnSlots: 2,
	}
	in := returnGraph(desc.Sig, desc)
	out, stats := lower(t, in, desc)

	ret := onlyReturn(t, out)
	if len(ret.Values) != 1 {
		t.Fatalf("return carries %d values, want 1", len(ret.Values))
	}
	if c, ok := out.Op(ret.Values[0]).(ir.Word32Constant); !ok || c.Value != 101 {
		t.Errorf("forwarded value = %s, want the register-bound constant", ir.FormatOperation(out.Op(ret.Values[0])))
	}
	if !ret.SlotsCopied {
		t.Error("return should be marked as having its slots copied")
	}

	// Marker check
	loads := ir.OpsOfType[ir.Load](out)
	if len(loads) != 1 {
		t.Fatalf("found %d loads, want 1", len(loads))
	}
	load := out.Op(loads[0]).(ir.Load)
	if _, ok := out.Op(load.Base).(ir.FramePointer); !ok {
		t.Errorf("marker load base = %T, want FramePointer", out.Op(load.Base))
	}
	if load.Offset != frame.TypeOffset || load.Rep != machine.MemUint32 || load.Kind != ir.RawAligned {
		t.Errorf("marker load = %s", ir.FormatOperation(load))
	}
	eq := out.Op(ir.OpsOfType[ir.Equal](out)[0]).(ir.Equal)
	if c := out.Op(eq.Right).(ir.Word32Constant); c.Value != uint32(frame.TypeToMarker(frame.WasmSegmentStart)) {
		t.Errorf("marker compared with %d, want %d", c.Value, frame.TypeToMarker(frame.WasmSegmentStart))
	}

	// Branch shape
	branches := ir.OpsOfType[ir.Branch](out)
	if len(branches) != 1 {
		t.Fatalf("found %d branches, want 1", len(branches))
	}
	br := out.Op(branches[0]).(ir.Branch)
	if br.Hint != ir.HintUnlikely {
		t.Errorf("branch hint = %v, want unlikely", br.Hint)
	}
	phis := ir.OpsOfType[ir.Phi](out)
	if len(phis) != 1 {
		t.Fatalf("found %d phis, want 1", len(phis))
	}
	phi := out.Op(phis[0]).(ir.Phi)
	if phi.Rep != machine.Word64 {
		t.Errorf("phi rep = %v, want Word64", phi.Rep)
	}
	preds := out.Block(out.BlockOf(phis[0])).Predecessors
	if len(preds) != 2 || preds[0] != br.IfTrue || preds[1] != br.IfFalse {
		t.Errorf("merge predecessors = %v, want [B%d B%d]", preds, br.IfTrue, br.IfFalse)
	}
	call, ok := out.Op(phi.Inputs[0]).(ir.Call)
	if !ok {
		t.Fatalf("segment-start input = %T, want Call", out.Op(phi.Inputs[0]))
	}
	if out.BlockOf(phi.Inputs[0]) != br.IfTrue {
		t.Error("runtime call should be in the true arm")
	}
	if callee := out.Op(call.Callee).(ir.ExternalConstant); callee.Ref != ir.WasmLoadOldFP {
		t.Errorf("callee = %v, want wasm_load_old_fp", callee.Ref)
	}
	if len(call.Args) != 1 || out.Op(call.Args[0]).(ir.ExternalConstant).Ref != ir.IsolateAddress {
		t.Errorf("call args = %v, want the isolate address", call.Args)
	}
	if call.Descriptor.Kind != linkage.KindCFunction || call.Descriptor.String() != "c (ptr) -> (ptr)" {
		t.Errorf("call descriptor = %s", call.Descriptor)
	}
	if _, ok := out.Op(phi.Inputs[1]).(ir.FramePointer); !ok || out.BlockOf(phi.Inputs[1]) != br.IfFalse {
		t.Errorf("ordinary input = %T, want FramePointer in the false arm", out.Op(phi.Inputs[1]))
	}

	// Stores relative to the resolved frame pointer
	ss := stores(out)
	if len(ss) != 2 {
		t.Fatalf("found %d stores, want 2", len(ss))
	}
	for k, want := range []int32{16, 24} {
		s := ss[k]
		if s.Base != phis[0] || s.Offset != want {
			t.Errorf("store %d = %s, want base v%d offset %d", k, ir.FormatOperation(s), phis[0], want)
		}
		if s.Rep != machine.MemInt64 || s.Kind != ir.RawAligned || s.WriteBarrier != ir.NoWriteBarrier {
			t.Errorf("store %d = %s", k, ir.FormatOperation(s))
		}
		if c := out.Op(s.Value).(ir.Word64Constant); c.Value != uint64(102+k)<<32 {
			t.Errorf("store %d value = %d", k, c.Value)
		}
	}

	if stats != (Stats{Returns: 1, Lowered: 1, Stores: 2}) {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSlotReturnsFoundFromLocations(t *testing.T) {
	// No StackReturnSlots: the slot count comes from the return locations
	desc := &linkage.CallDescriptor{
		Kind:   linkage.KindWasm,
		Target: arch.AMD64,
		Sig:    sig(machine.Int32, machine.Int32),
		Returns: []linkage.Slot{
			{Type: machine.Int32, Loc: linkage.Register{Reg: arch.AMD64.GPReturns[0]}},
			{Type: machine.Int32, Loc: linkage.CallerFrameSlot{Offset: 16}},
		},
	}
	in := returnGraph(desc.Sig, desc)
	var stats Stats
	out := reducer.Run(in, New(desc, &stats), epilogue.New(desc))
	if err := ir.Verify(out); err != nil {
		t.Fatalf("lowered graph is malformed: %v", err)
	}

	ret := onlyReturn(t, out)
	if len(ret.Values) != 1 || !ret.SlotsCopied {
		t.Errorf("return = %s, want one register value with slots copied", ir.FormatOperation(ret))
	}
	if n := len(ir.OpsOfType[ir.Branch](out)); n != 1 {
		t.Errorf("found %d branches, want 1", n)
	}
	ss := stores(out)
	if len(ss) != 1 {
		t.Fatalf("found %d stores, want 1", len(ss))
	}
	if _, ok := out.Op(ss[0].Base).(ir.Phi); !ok || ss[0].Offset != 16 {
		t.Errorf("store = %s, want [phi + 16]", ir.FormatOperation(ss[0]))
	}
	if stats != (Stats{Returns: 1, Lowered: 1, Stores: 1}) {
		t.Errorf("stats = %+v", stats)
	}
}

func TestLoweringProperties(t *testing.T) {
	tests := []struct {
		name   string
		target *arch.Target
		sig    linkage.Signature
	}{
		{"no returns", arch.AMD64, sig()},
		{"four words", arch.AMD64, sig(machine.Int32, machine.Int32, machine.Int32, machine.Int32)},
		{"floats first", arch.AMD64, sig(machine.Float64, machine.Float64, machine.Float64, machine.Int32)},
		{"mixed", arch.ARM64, sig(machine.Int64, machine.Float32, machine.Int32, machine.Float64, machine.Float32, machine.Int64, machine.Pointer)},
		{"i64 on ia32", arch.IA32, sig(machine.Int64, machine.Int64)},
		{"pointers on arm", arch.ARM, sig(machine.Pointer, machine.Pointer, machine.Pointer, machine.Float64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := linkage.ForTarget(tt.sig, tt.target)
			in := returnGraph(tt.sig, desc)
			inRet := onlyReturn(t, in)
			out, _ := lower(t, in, desc)
			ret := onlyReturn(t, out)

			var wantValues []ir.OpIndex
			var slotOffsets []int32
			for i, r := range desc.Returns {
				switch loc := r.Loc.(type) {
				case linkage.Register:
					wantValues = append(wantValues, inRet.Values[i])
				case linkage.CallerFrameSlot:
					slotOffsets = append(slotOffsets, loc.Offset)
				}
			}
			k := len(slotOffsets)

			// Cardinality: values are copied in order, so handles match the input's
			if len(ret.Values) != desc.ReturnCount()-k {
				t.Errorf("return carries %d values, want %d", len(ret.Values), desc.ReturnCount()-k)
			}
			if k > 0 {
				for j, v := range ret.Values {
					if ir.FormatOperation(out.Op(v)) != ir.FormatOperation(in.Op(wantValues[j])) {
						t.Errorf("value %d = %s, want %s", j, ir.FormatOperation(out.Op(v)), ir.FormatOperation(in.Op(wantValues[j])))
					}
				}
			}
			if ret.SlotsCopied != (k > 0) {
				t.Errorf("SlotsCopied = %v with %d slot returns", ret.SlotsCopied, k)
			}

			wantBranches := 0
			if k > 0 {
				wantBranches = 1
			}
			if n := len(ir.OpsOfType[ir.Branch](out)); n != wantBranches {
				t.Errorf("found %d branches, want %d", n, wantBranches)
			}

			ss := stores(out)
			if len(ss) != k {
				t.Fatalf("found %d stores, want %d", len(ss), k)
			}
			for j, s := range ss {
				if s.Offset != slotOffsets[j] {
					t.Errorf("store %d offset = %d, want %d", j, s.Offset, slotOffsets[j])
				}
				if _, ok := out.Op(s.Base).(ir.Phi); !ok {
					t.Errorf("store %d base = %T, want the resolved frame pointer", j, out.Op(s.Base))
				}
			}
		})
	}
}

func TestLowerEveryReturn(t *testing.T) {
	s := sig(machine.Int32, machine.Int32, machine.Int32)
	desc := linkage.ForTarget(s, arch.AMD64)

	g := ir.NewGraph("two_returns", linkage.Signature{Params: []machine.Type{machine.Int32}, Returns: s.Returns})
	a := ir.NewAssembler(g)
	a.Bind(a.NewBlock())
	p := a.Parameter(0, machine.Word32)
	left, right := a.NewBlock(), a.NewBlock()
	a.Branch(p, left, right, ir.HintNone)
	for _, b := range []ir.BlockIndex{left, right} {
		a.Bind(b)
		a.Return(a.Word32Constant(0), []ir.OpIndex{p, p, p}, false)
	}

	out, stats := lower(t, g, desc)
	if stats != (Stats{Returns: 2, Lowered: 2, Stores: 2}) {
		t.Errorf("stats = %+v", stats)
	}
	if n := len(ir.OpsOfType[ir.Branch](out)); n != 3 {
		t.Errorf("found %d branches, want 3", n)
	}
	for _, i := range ir.OpsOfType[ir.Return](out) {
		if ret := out.Op(i).(ir.Return); len(ret.Values) != 2 || !ret.SlotsCopied {
			t.Errorf("return = %s", ir.FormatOperation(ret))
		}
	}
}

func TestReturnCountMismatchPanics(t *testing.T) {
	desc := linkage.ForTarget(sig(machine.Int32, machine.Int32, machine.Int32), arch.AMD64)
	g := ir.NewGraph("f", desc.Sig)
	a := ir.NewAssembler(g)
	a.Bind(a.NewBlock())
	a.Return(a.Word32Constant(0), []ir.OpIndex{a.Word32Constant(1)}, false)

	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	reducer.Run(g, New(desc, nil))
}

func TestNewWithoutDescriptorPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	New(nil, nil)
}

func TestNewWithoutStatsKeepsRunsApart(t *testing.T) {
	desc := linkage.ForTarget(sig(machine.Int32), arch.AMD64)
	factory := New(desc, nil)

	first := factory(ir.NewAssembler(ir.NewGraph("f", desc.Sig)), nil).(*transformer)
	second := factory(ir.NewAssembler(ir.NewGraph("g", desc.Sig)), nil).(*transformer)
	if first.stats == nil || second.stats == nil {
		t.Fatal("stats should never be nil")
	}
	if first.stats == second.stats {
		t.Error("two runs of one factory share their stats")
	}
}

func TestPhaseNarrowsOn32Bit(t *testing.T) {
	s := sig(machine.Int64, machine.Int64)
	// The graph carries the 32-bit halves, low word first
	g := ir.NewGraph("pair", s)
	a := ir.NewAssembler(g)
	a.Bind(a.NewBlock())
	var values []ir.OpIndex
	for i := 0; i < 4; i++ {
		values = append(values, a.Word32Constant(uint32(i)))
	}
	a.Return(a.Word32Constant(0), values, false)

	out, stats := Phase(g, arch.IA32)
	if stats.Stores != 2 {
		t.Fatalf("stats = %+v, want 2 stores", stats)
	}
	ss := stores(out)
	for k, want := range []int32{8, 12} {
		if ss[k].Offset != want || ss[k].Rep != machine.MemInt32 {
			t.Errorf("store %d = %s, want Int32 at +%d", k, ir.FormatOperation(ss[k]), want)
		}
	}
	phi := out.Op(ir.OpsOfType[ir.Phi](out)[0]).(ir.Phi)
	if phi.Rep != machine.Word32 {
		t.Errorf("phi rep = %v, want Word32", phi.Rep)
	}
	if ret := onlyReturn(t, out); len(ret.Values) != 2 {
		t.Errorf("return carries %d values, want 2", len(ret.Values))
	}
}

func TestPhaseFloatSlots(t *testing.T) {
	s := sig(machine.Float64, machine.Float64, machine.Float64, machine.Float32)
	desc := linkage.ForTarget(s, arch.AMD64)
	out, stats := Phase(returnGraph(s, desc), arch.AMD64)
	if stats.Stores != 2 {
		t.Fatalf("stats = %+v, want 2 stores", stats)
	}
	ss := stores(out)
	if ss[0].Rep != machine.MemFloat64 || ss[1].Rep != machine.MemFloat32 {
		t.Errorf("store reps = %v, %v, want Float64, Float32", ss[0].Rep, ss[1].Rep)
	}
	if c := out.Op(ss[0].Value).(ir.Float64Constant); math.Abs(c.Value-103.25) > 1e-9 {
		t.Errorf("stored %v, want 103.25", c.Value)
	}
}
