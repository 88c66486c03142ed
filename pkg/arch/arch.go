// Package arch describes the compilation targets: pointer width and the
// register assignments used by the wasm and C calling conventions.
package arch

import (
	"fmt"
	"slices"

	"github.com/samber/lo"
)

// Reg is a machine register. General-purpose registers are numbered from 0,
// float registers from floatBase.
type Reg int

const floatBase Reg = 64

// IsFloat reports whether r is a float register
func (r Reg) IsFloat() bool {
	return r >= floatBase
}

// Target is a compilation target
type Target struct {
	Name        string
	PointerSize int32

	general []string
	float   []string

	// Wasm calling convention, in allocation order. The first general
	// parameter register carries the instance and is never allocated.
	GPParams  []Reg
	FPParams  []Reg
	GPReturns []Reg
	FPReturns []Reg

	// C calling convention used for runtime calls
	CParams  []Reg
	CReturns []Reg
}

// Is32Bit reports whether the target needs the narrowed (32-bit) descriptors
func (t *Target) Is32Bit() bool {
	return t.PointerSize == 4
}

// RegName returns the assembler name of r on this target
func (t *Target) RegName(r Reg) string {
	if r.IsFloat() {
		if i := int(r - floatBase); i < len(t.float) {
			return t.float[i]
		}
	} else if int(r) < len(t.general) {
		return t.general[r]
	}
	return fmt.Sprintf("r?%d", int(r))
}

// reg looks up a register by name, panicking on typos in the tables below
func (t *Target) reg(name string) Reg {
	if i := slices.Index(t.general, name); i >= 0 {
		return Reg(i)
	}
	if i := slices.Index(t.float, name); i >= 0 {
		return floatBase + Reg(i)
	}
	panic("arch: unknown register " + name + " on " + t.Name)
}

func (t *Target) regs(names ...string) []Reg {
	return lo.Map(names, func(name string, _ int) Reg { return t.reg(name) })
}

func (t *Target) String() string {
	return t.Name
}

var (
	AMD64 = newTarget("amd64", 8,
		[]string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
			"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"},
		numbered("xmm", 16),
		func(t *Target) {
			t.GPParams = t.regs("rsi", "rax", "rdx", "rcx", "rbx", "r9")
			t.FPParams = t.regs("xmm1", "xmm2", "xmm3", "xmm4", "xmm5", "xmm6")
			t.GPReturns = t.regs("rax", "rdx")
			t.FPReturns = t.regs("xmm1", "xmm2")
			t.CParams = t.regs("rdi", "rsi", "rdx", "rcx", "r8", "r9")
			t.CReturns = t.regs("rax")
		})

	ARM64 = newTarget("arm64", 8,
		numbered("x", 31),
		numbered("d", 32),
		func(t *Target) {
			t.GPParams = t.regs("x7", "x0", "x2", "x3", "x4", "x5", "x6")
			t.FPParams = t.regs("d0", "d1", "d2", "d3", "d4", "d5", "d6", "d7")
			t.GPReturns = t.regs("x0", "x1")
			t.FPReturns = t.regs("d0", "d1")
			t.CParams = t.regs("x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7")
			t.CReturns = t.regs("x0")
		})

	IA32 = newTarget("ia32", 4,
		[]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"},
		numbered("xmm", 8),
		func(t *Target) {
			t.GPParams = t.regs("esi", "eax", "edx", "ecx")
			t.FPParams = t.regs("xmm1", "xmm2", "xmm3", "xmm4", "xmm5", "xmm6")
			t.GPReturns = t.regs("eax", "edx")
			t.FPReturns = t.regs("xmm1", "xmm2")
			// cdecl: every argument is passed on the stack
			t.CParams = nil
			t.CReturns = t.regs("eax")
		})

	ARM = newTarget("arm", 4,
		numbered("r", 16),
		numbered("d", 16),
		func(t *Target) {
			t.GPParams = t.regs("r3", "r0", "r2", "r6")
			t.FPParams = t.regs("d0", "d1", "d2", "d3", "d4", "d5", "d6", "d7")
			t.GPReturns = t.regs("r0", "r1")
			t.FPReturns = t.regs("d0", "d1")
			t.CParams = t.regs("r0", "r1", "r2", "r3")
			t.CReturns = t.regs("r0")
		})
)

var targets = map[string]*Target{
	AMD64.Name: AMD64,
	ARM64.Name: ARM64,
	IA32.Name:  IA32,
	ARM.Name:   ARM,
}

// Lookup finds a target by name
func Lookup(name string) (*Target, bool) {
	t, ok := targets[name]
	return t, ok
}

// Names returns the supported target names in sorted order
func Names() []string {
	names := lo.Keys(targets)
	slices.Sort(names)
	return names
}

func newTarget(name string, pointerSize int32, general, float []string, setup func(*Target)) *Target {
	t := &Target{
		Name:        name,
		PointerSize: pointerSize,
		general:     general,
		float:       float,
	}
	setup(t)
	return t
}

func numbered(prefix string, n int) []string {
	return lo.Times(n, func(i int) string { return fmt.Sprintf("%s%d", prefix, i) })
}
