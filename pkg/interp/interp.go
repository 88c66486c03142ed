// Package interp executes instruction graphs against stack memory. It is
// the reference semantics used to check that lowered graphs store return
// values where the caller expects them.
package interp

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/raymyers/growstack/pkg/ir"
	"github.com/raymyers/growstack/pkg/machine"
	"github.com/raymyers/growstack/pkg/stacks"
)

var (
	ErrUnboundExternal = errors.New("unbound external reference")
	ErrStepLimit       = errors.New("step limit exceeded")
	ErrArity           = errors.New("wrong number of arguments")
	ErrBadCall         = errors.New("call to unknown address")
)

// DefaultMaxSteps bounds execution when Env.MaxSteps is zero
const DefaultMaxSteps = 100000

// External is a symbol resolved outside compiled code. Call is nil for data.
type External struct {
	Address uint64
	Call    func(args []uint64) (uint64, error)
}

// Env is the machine state a graph runs in
type Env struct {
	Memory    *stacks.Memory
	FP        uint64
	Externals map[ir.ExternalReference]External
	MaxSteps  int
}

// StoreRecord is one executed store
type StoreRecord struct {
	Addr  uint64
	Rep   machine.MemoryRep
	Value uint64
}

// Result is the outcome of running a graph
type Result struct {
	Values []uint64 // register return values
	Calls  []ir.ExternalReference
	Stores []StoreRecord
	Steps  int

	SlotsCopied bool
}

// Run executes g with the given argument bits. Values are carried as raw
// bits: integers zero-extended to 64 bits, floats as their IEEE encoding.
func Run(g *ir.Graph, env *Env, args []uint64) (*Result, error) {
	m := &machineState{
		g:      g,
		env:    env,
		args:   args,
		values: make([]uint64, len(g.Ops)),
		result: &Result{},
	}
	if err := m.checkArity(); err != nil {
		return nil, err
	}
	if err := m.run(); err != nil {
		return nil, fmt.Errorf("%s: %w", g.Name, err)
	}
	return m.result, nil
}

type machineState struct {
	g      *ir.Graph
	env    *Env
	args   []uint64
	values []uint64
	result *Result
}

func (m *machineState) checkArity() error {
	want := 0
	for _, i := range ir.OpsOfType[ir.Parameter](m.g) {
		want = max(want, m.g.Op(i).(ir.Parameter).Index+1)
	}
	if len(m.args) < want {
		return fmt.Errorf("%s: got %d arguments, graph reads %d: %w", m.g.Name, len(m.args), want, ErrArity)
	}
	return nil
}

func (m *machineState) run() error {
	limit := m.env.MaxSteps
	if limit == 0 {
		limit = DefaultMaxSteps
	}

	block, prev := ir.BlockIndex(0), ir.InvalidBlock
	for {
		b := m.g.Block(block)
		if err := m.enter(b, prev); err != nil {
			return err
		}
		for _, i := range b.Ops {
			m.result.Steps++
			if m.result.Steps > limit {
				return ErrStepLimit
			}
			op := m.g.Op(i)
			switch o := op.(type) {
			case ir.Phi:
				// Assigned on block entry
			case ir.Goto:
				prev, block = block, o.Dest
			case ir.Branch:
				prev = block
				if m.values[o.Cond] != 0 {
					block = o.IfTrue
				} else {
					block = o.IfFalse
				}
			case ir.Return:
				m.result.Values = m.valuesOf(o.Values)
				m.result.SlotsCopied = o.SlotsCopied
				return nil
			default:
				v, err := m.eval(op)
				if err != nil {
					return fmt.Errorf("v%d: %w", i, err)
				}
				m.values[i] = v
			}
		}
	}
}

// enter assigns the phis of b from the edge taken out of prev. All phis
// read their inputs before any of them is written.
func (m *machineState) enter(b *ir.Block, prev ir.BlockIndex) error {
	var phis []ir.OpIndex
	for _, i := range b.Ops {
		if _, ok := m.g.Op(i).(ir.Phi); ok {
			phis = append(phis, i)
		}
	}
	if len(phis) == 0 {
		return nil
	}

	edge := slices.Index(b.Predecessors, prev)
	if edge < 0 {
		return fmt.Errorf("B%d entered from B%d, which is not a predecessor", b.Index, prev)
	}
	incoming := make([]uint64, len(phis))
	for k, i := range phis {
		phi := m.g.Op(i).(ir.Phi)
		incoming[k] = m.values[phi.Inputs[edge]]
	}
	for k, i := range phis {
		m.values[i] = incoming[k]
	}
	return nil
}

func (m *machineState) eval(op ir.Operation) (uint64, error) {
	switch o := op.(type) {
	case ir.Parameter:
		return m.args[o.Index], nil
	case ir.FramePointer:
		return m.env.FP, nil
	case ir.Word32Constant:
		return uint64(o.Value), nil
	case ir.Word64Constant:
		return o.Value, nil
	case ir.Float32Constant:
		return uint64(math.Float32bits(o.Value)), nil
	case ir.Float64Constant:
		return math.Float64bits(o.Value), nil
	case ir.ExternalConstant:
		ext, ok := m.env.Externals[o.Ref]
		if !ok {
			return 0, fmt.Errorf("%q: %w", o.Ref.Name, ErrUnboundExternal)
		}
		return ext.Address, nil
	case ir.Load:
		bits, err := m.env.Memory.Load(address(m.values[o.Base], o.Offset), o.Rep.Size())
		if err != nil {
			return 0, err
		}
		return extend(bits, o.Rep), nil
	case ir.Store:
		addr := address(m.values[o.Base], o.Offset)
		value := m.values[o.Value]
		if err := m.env.Memory.Store(addr, o.Rep.Size(), value); err != nil {
			return 0, err
		}
		m.result.Stores = append(m.result.Stores, StoreRecord{Addr: addr, Rep: o.Rep, Value: value})
		return 0, nil
	case ir.Equal:
		l, r := m.values[o.Left], m.values[o.Right]
		if o.Rep.Bits() == 32 {
			l, r = uint64(uint32(l)), uint64(uint32(r))
		}
		if l == r {
			return 1, nil
		}
		return 0, nil
	case ir.Call:
		return m.call(o)
	}
	panic(fmt.Sprintf("interp: unknown operation %T", op))
}

func (m *machineState) call(c ir.Call) (uint64, error) {
	target := m.values[c.Callee]
	for ref, ext := range m.env.Externals {
		if ext.Address != target || ext.Call == nil {
			continue
		}
		m.result.Calls = append(m.result.Calls, ref)
		return ext.Call(m.valuesOf(c.Args))
	}
	return 0, fmt.Errorf("%#x: %w", target, ErrBadCall)
}

func (m *machineState) valuesOf(ops []ir.OpIndex) []uint64 {
	out := make([]uint64, len(ops))
	for k, i := range ops {
		out[k] = m.values[i]
	}
	return out
}

func address(base uint64, offset int32) uint64 {
	return uint64(int64(base) + int64(offset))
}

// extend widens loaded bits to the register representation of rep
func extend(bits uint64, rep machine.MemoryRep) uint64 {
	if !rep.Signed() {
		return bits
	}
	switch rep.Size() {
	case 1:
		bits = uint64(int64(int8(bits)))
	case 2:
		bits = uint64(int64(int16(bits)))
	case 4:
		bits = uint64(int64(int32(bits)))
	}
	if rep.Rep() == machine.Word32 {
		bits = uint64(uint32(bits))
	}
	return bits
}
