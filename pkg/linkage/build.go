package linkage

import (
	"github.com/raymyers/growstack/pkg/arch"
	"github.com/raymyers/growstack/pkg/frame"
	"github.com/raymyers/growstack/pkg/machine"
)

// WasmCallDescriptor builds the wasm calling convention for sig on target.
//
// Parameters take the target's wasm parameter registers (the first general
// register is reserved for the instance), returns take the return
// registers. Integer and pointer values use general registers, float values
// float registers. Once a register class runs out the value goes to the
// caller's frame. Stack returns are laid out after the stack parameters.
func WasmCallDescriptor(sig Signature, target *arch.Target) *CallDescriptor {
	return build(KindWasm, sig, target,
		target.GPParams[1:], target.FPParams,
		target.GPReturns, target.FPReturns)
}

// NarrowI64 returns the 32-bit variant of a wasm descriptor: every 64-bit
// integer parameter and return is split into two 32-bit values (low word
// first) and locations are reallocated.
func NarrowI64(desc *CallDescriptor) *CallDescriptor {
	if desc.Narrowed {
		return desc
	}
	narrowed := WasmCallDescriptor(desc.Sig.Lower32(), desc.Target)
	narrowed.Narrowed = true
	return narrowed
}

// ForTarget builds the descriptor lowering passes see for a function with
// signature sig: the wasm descriptor, narrowed on 32-bit targets.
func ForTarget(sig Signature, target *arch.Target) *CallDescriptor {
	desc := WasmCallDescriptor(sig, target)
	if target.Is32Bit() {
		desc = NarrowI64(desc)
	}
	return desc
}

// SimplifiedCDescriptor builds a plain C calling convention descriptor for
// calls into the runtime.
func SimplifiedCDescriptor(sig Signature, target *arch.Target) *CallDescriptor {
	return build(KindCFunction, sig, target, target.CParams, nil, target.CReturns, nil)
}

func build(
	kind Kind,
	sig Signature,
	target *arch.Target,
	gpParams, fpParams []arch.Reg,
	gpReturns, fpReturns []arch.Reg,
) *CallDescriptor {
	desc := &CallDescriptor{
		Kind:   kind,
		Target: target,
		Sig:    sig,
	}

	params := &allocator{gp: gpParams, fp: fpParams, pointerSize: target.PointerSize}
	for _, t := range sig.Params {
		desc.Params = append(desc.Params, Slot{Type: t, Loc: params.next(t)})
	}
	desc.StackParamSlots = params.slots

	// Return slots follow the parameter slots in the caller's frame
	returns := &allocator{
		gp:          gpReturns,
		fp:          fpReturns,
		pointerSize: target.PointerSize,
		slotBase:    params.slots,
	}
	for _, t := range sig.Returns {
		desc.Returns = append(desc.Returns, Slot{Type: t, Loc: returns.next(t)})
	}
	desc.StackReturnSlots = returns.slots

	return desc
}

// allocator hands out registers of each class in order, then caller frame
// slots.
type allocator struct {
	gp, fp      []arch.Reg
	pointerSize int32
	slotBase    int
	slots       int
}

func (a *allocator) next(t machine.Type) Location {
	regs := &a.gp
	if t.IsFloat() {
		regs = &a.fp
	}
	// A 64-bit integer never fits a single register on a 32-bit target
	fitsRegister := !(t == machine.Int64 && a.pointerSize == 4)
	if fitsRegister && len(*regs) > 0 {
		r := (*regs)[0]
		*regs = (*regs)[1:]
		return Register{Reg: r}
	}

	loc := CallerFrameSlot{Offset: frame.SlotToFPOffset(a.slotBase+a.slots, a.pointerSize)}
	a.slots += frame.SlotsFor(t.Size(a.pointerSize), a.pointerSize)
	return loc
}
