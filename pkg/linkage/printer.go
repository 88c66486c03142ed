package linkage

import (
	"fmt"
	"io"
)

// Printer writes call descriptors in a readable table form
type Printer struct {
	w io.Writer
}

// NewPrinter creates a new descriptor printer
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// PrintDescriptor prints one descriptor, one line per parameter and return
func (p *Printer) PrintDescriptor(name string, d *CallDescriptor) {
	fmt.Fprintf(p.w, "descriptor %s: %s %s [%s", name, d.Kind, d.Sig, d.Target.Name)
	if d.Narrowed {
		fmt.Fprint(p.w, ", narrowed")
	}
	fmt.Fprintln(p.w, "]")

	for i, s := range d.Params {
		fmt.Fprintf(p.w, "  param %d: %s %s\n", i, s.Type, p.location(d, s.Loc))
	}
	for i, s := range d.Returns {
		fmt.Fprintf(p.w, "  return %d: %s %s\n", i, s.Type, p.location(d, s.Loc))
	}
	fmt.Fprintf(p.w, "  stack slots: %d param, %d return\n", d.StackParamSlots, d.StackReturnSlots)
}

func (p *Printer) location(d *CallDescriptor, loc Location) string {
	switch l := loc.(type) {
	case Register:
		return d.Target.RegName(l.Reg)
	case CallerFrameSlot:
		return fmt.Sprintf("caller-frame[fp%+d]", l.Offset)
	default:
		return "???"
	}
}
