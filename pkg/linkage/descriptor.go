// Package linkage describes calling conventions: where each parameter and
// return value of a call lives, either in a register or in a slot of the
// caller's frame.
package linkage

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/raymyers/growstack/pkg/arch"
	"github.com/raymyers/growstack/pkg/machine"
)

// Location is where a parameter or return value lives
type Location interface {
	implLocation()
}

// Register is a value passed in a machine register
type Register struct {
	Reg arch.Reg
}

// CallerFrameSlot is a value passed in the caller's frame. Offset is the
// byte displacement from the callee's frame pointer.
type CallerFrameSlot struct {
	Offset int32
}

func (Register) implLocation()        {}
func (CallerFrameSlot) implLocation() {}

// IsCallerFrameSlot reports whether loc is a caller frame slot
func IsCallerFrameSlot(loc Location) bool {
	_, ok := loc.(CallerFrameSlot)
	return ok
}

// Slot pairs a value's machine type with its location
type Slot struct {
	Type machine.Type
	Loc  Location
}

// Kind is the calling convention family of a descriptor
type Kind int

const (
	KindWasm Kind = iota
	KindCFunction
)

func (k Kind) String() string {
	switch k {
	case KindWasm:
		return "wasm"
	case KindCFunction:
		return "c"
	}
	return "?"
}

// Signature lists parameter and return types in order
type Signature struct {
	Params  []machine.Type
	Returns []machine.Type
}

func (s Signature) String() string {
	return "(" + joinTypes(s.Params) + ") -> (" + joinTypes(s.Returns) + ")"
}

// Lower32 splits every 64-bit integer into its low and high 32-bit halves,
// the way 32-bit targets pass them.
func (s Signature) Lower32() Signature {
	return Signature{
		Params:  lowerTypes(s.Params),
		Returns: lowerTypes(s.Returns),
	}
}

// HasInt64 reports whether any parameter or return is a 64-bit integer
func (s Signature) HasInt64() bool {
	isInt64 := func(t machine.Type) bool { return t == machine.Int64 }
	return lo.ContainsBy(s.Params, isInt64) || lo.ContainsBy(s.Returns, isInt64)
}

func lowerTypes(types []machine.Type) []machine.Type {
	return lo.FlatMap(types, func(t machine.Type, _ int) []machine.Type {
		if t == machine.Int64 {
			return []machine.Type{machine.Int32, machine.Int32}
		}
		return []machine.Type{t}
	})
}

func joinTypes(types []machine.Type) string {
	return strings.Join(lo.Map(types, func(t machine.Type, _ int) string { return t.String() }), ", ")
}

// CallDescriptor is the calling convention of one function. It is built
// once before lowering and never mutated afterwards.
type CallDescriptor struct {
	Kind     Kind
	Target   *arch.Target
	Sig      Signature // signature the descriptor was built from
	Params   []Slot
	Returns  []Slot
	Narrowed bool // 64-bit integers were split for a 32-bit target

	// Caller frame slots used by stack parameters and stack returns
	StackParamSlots  int
	StackReturnSlots int
}

// ReturnCount returns the number of return values
func (d *CallDescriptor) ReturnCount() int {
	return len(d.Returns)
}

// ParamCount returns the number of parameters
func (d *CallDescriptor) ParamCount() int {
	return len(d.Params)
}

// ReturnLocation returns where return value i lives
func (d *CallDescriptor) ReturnLocation(i int) Location {
	return d.Returns[i].Loc
}

// ReturnType returns the machine type of return value i
func (d *CallDescriptor) ReturnType(i int) machine.Type {
	return d.Returns[i].Type
}

// ParamLocation returns where parameter i lives
func (d *CallDescriptor) ParamLocation(i int) Location {
	return d.Params[i].Loc
}

// ReturnSlotCount returns the number of caller frame slots used by returns
func (d *CallDescriptor) ReturnSlotCount() int {
	return d.StackReturnSlots
}

// StackReturnCount returns how many return values live in caller frame slots
func (d *CallDescriptor) StackReturnCount() int {
	return lo.CountBy(d.Returns, func(s Slot) bool { return IsCallerFrameSlot(s.Loc) })
}

// StackAreaSize returns the bytes a caller reserves in its own frame for
// the stack parameters and stack returns of a call.
func (d *CallDescriptor) StackAreaSize() int32 {
	return int32(d.StackParamSlots+d.StackReturnSlots) * d.Target.PointerSize
}

func (d *CallDescriptor) String() string {
	return fmt.Sprintf("%s %s", d.Kind, d.Sig)
}
