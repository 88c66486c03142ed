package funcdef

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/raymyers/growstack/pkg/arch"
	"github.com/raymyers/growstack/pkg/ir"
	"github.com/raymyers/growstack/pkg/linkage"
	"github.com/raymyers/growstack/pkg/machine"
)

// Build creates the instruction graph of fn for target. On 32-bit targets
// every 64-bit integer parameter and return is carried as two 32-bit
// values, low word first, matching the narrowed call descriptor.
func Build(fn *Function, target *arch.Target) (*ir.Graph, error) {
	sig, err := fn.Signature()
	if err != nil {
		return nil, err
	}

	g := ir.NewGraph(fn.Name, sig)
	b := &builder{
		fn:     fn,
		sig:    sig,
		target: target,
		split:  target.Is32Bit(),
		a:      ir.NewAssembler(g),
	}
	b.a.Bind(b.a.NewBlock())
	b.emitParams()
	if err := b.body(fn.Body, "body"); err != nil {
		return nil, err
	}
	return g, nil
}

// builder holds the state of one Build
type builder struct {
	fn     *Function
	sig    linkage.Signature
	target *arch.Target
	split  bool // 64-bit integers are split into word pairs
	a      *ir.Assembler
	params [][]ir.OpIndex // values of each declared parameter
}

func (b *builder) emitParams() {
	index := 0
	for _, t := range b.sig.Params {
		var values []ir.OpIndex
		for _, rep := range b.reps(t) {
			values = append(values, b.a.Parameter(index, rep))
			index++
		}
		b.params = append(b.params, values)
	}
}

// reps returns the register representation of each word a value of type t
// is carried in.
func (b *builder) reps(t machine.Type) []machine.Rep {
	if t == machine.Int64 && b.split {
		return []machine.Rep{machine.Word32, machine.Word32}
	}
	return []machine.Rep{t.Rep(b.target.PointerSize)}
}

func (b *builder) errorf(path, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s: %s", ErrInvalidDefinition, b.fn.Name, path, fmt.Sprintf(format, args...))
}

func (b *builder) body(body Body, path string) error {
	switch {
	case body.If != nil && body.Return != nil:
		return b.errorf(path, "has both return and if")
	case body.If != nil:
		return b.ifBody(body.If, path+".if")
	case body.Return != nil:
		return b.ret(body.Return, path+".return")
	}
	return b.errorf(path, "needs a return or an if")
}

func (b *builder) ifBody(cond *IfBody, path string) error {
	c, err := b.expr(cond.Cond, machine.Int32, path+".cond")
	if err != nil {
		return err
	}

	then := b.a.NewBlock()
	els := b.a.NewBlock()
	b.a.Branch(c[0], then, els, ir.HintNone)

	b.a.Bind(then)
	if err := b.body(cond.Then, path+".then"); err != nil {
		return err
	}
	b.a.Bind(els)
	return b.body(cond.Else, path+".else")
}

func (b *builder) ret(exprs []string, path string) error {
	if len(exprs) != len(b.sig.Returns) {
		return b.errorf(path, "%d values for %d returns", len(exprs), len(b.sig.Returns))
	}

	var values []ir.OpIndex
	for i, e := range exprs {
		v, err := b.expr(e, b.sig.Returns[i], fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return err
		}
		values = append(values, v...)
	}
	b.a.Return(b.a.Word32Constant(0), values, false)
	return nil
}

// expr evaluates e as a value of type t, returning one handle per word
func (b *builder) expr(e string, t machine.Type, path string) ([]ir.OpIndex, error) {
	e = strings.TrimSpace(e)
	if rest, ok := strings.CutPrefix(e, "p"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n < 0 || n >= len(b.params) {
			return nil, b.errorf(path, "unknown parameter %q", e)
		}
		if pt := b.sig.Params[n]; pt != t {
			return nil, b.errorf(path, "%s is %s, want %s", e, pt, t)
		}
		return b.params[n], nil
	}
	return b.literal(e, t, path)
}

func (b *builder) literal(e string, t machine.Type, path string) ([]ir.OpIndex, error) {
	a := b.a
	switch t {
	case machine.Float32, machine.Float64:
		f, err := strconv.ParseFloat(e, 64)
		if err != nil {
			return nil, b.errorf(path, "bad %s literal %q", t, e)
		}
		if t == machine.Float32 {
			return []ir.OpIndex{a.Float32Constant(float32(f))}, nil
		}
		return []ir.OpIndex{a.Float64Constant(f)}, nil
	}

	bits, err := parseInt(e)
	if err != nil {
		return nil, b.errorf(path, "bad %s literal %q", t, e)
	}
	size := t.Size(b.target.PointerSize)
	if size == 4 && !fits32(bits) {
		return nil, b.errorf(path, "%s does not fit in %s", e, t)
	}

	switch {
	case size == 4:
		return []ir.OpIndex{a.Word32Constant(uint32(bits))}, nil
	case b.split:
		return []ir.OpIndex{a.Word32Constant(uint32(bits)), a.Word32Constant(uint32(bits >> 32))}, nil
	default:
		return []ir.OpIndex{a.Word64Constant(bits)}, nil
	}
}

// parseInt accepts signed and unsigned literals in any base strconv
// understands and returns their two's complement bits.
func parseInt(e string) (uint64, error) {
	if strings.HasPrefix(e, "-") {
		v, err := strconv.ParseInt(e, 0, 64)
		return uint64(v), err
	}
	return strconv.ParseUint(e, 0, 64)
}

func fits32(bits uint64) bool {
	v := int64(bits)
	return bits <= math.MaxUint32 || (v < 0 && v >= math.MinInt32)
}
