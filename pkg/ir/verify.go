package ir

import (
	"errors"
	"fmt"
)

// ErrMalformed is wrapped by every problem Verify reports
var ErrMalformed = errors.New("malformed graph")

// Verify checks the structural invariants the rewriting passes rely on:
// every reachable block ends in exactly one terminator, inputs refer to
// earlier value-producing operations (phis may refer forward), phis have
// one input per predecessor, and successors exist.
func Verify(g *Graph) error {
	var errs []error
	report := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s: %s", ErrMalformed, g.Name, fmt.Sprintf(format, args...)))
	}

	if len(g.Blocks) == 0 {
		report("no blocks")
		return errors.Join(errs...)
	}

	reachable := make([]bool, len(g.Blocks))
	for _, b := range g.ReversePostorder() {
		reachable[b] = true
	}

	for _, b := range g.Blocks {
		if !reachable[b.Index] {
			if len(b.Ops) != 0 {
				report("B%d is unreachable", b.Index)
			}
			continue
		}
		if len(b.Ops) == 0 {
			report("B%d is empty", b.Index)
			continue
		}

		for pos, i := range b.Ops {
			op := g.Op(i)
			last := pos == len(b.Ops)-1
			if IsTerminator(op) != last {
				if last {
					report("B%d does not end in a terminator", b.Index)
				} else {
					report("v%d: terminator in the middle of B%d", i, b.Index)
				}
			}

			_, isPhi := op.(Phi)
			for _, in := range Inputs(op) {
				switch {
				case int(in) < 0 || int(in) >= len(g.Ops):
					report("v%d: input v%d does not exist", i, in)
				case !ProducesValue(g.Op(in)):
					report("v%d: input v%d produces no value", i, in)
				case in >= i && !isPhi:
					report("v%d: input v%d is defined later", i, in)
				}
			}

			if phi, ok := op.(Phi); ok && len(phi.Inputs) != len(b.Predecessors) {
				report("v%d: phi has %d inputs, B%d has %d predecessors", i, len(phi.Inputs), b.Index, len(b.Predecessors))
			}

			for _, succ := range Successors(op) {
				if int(succ) < 0 || int(succ) >= len(g.Blocks) {
					report("v%d: successor B%d does not exist", i, succ)
				}
			}
		}
	}

	return errors.Join(errs...)
}
