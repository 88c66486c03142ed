package main

import (
	"fmt"
	"io"

	"github.com/raymyers/growstack/pkg/frame"
	"github.com/raymyers/growstack/pkg/interp"
	"github.com/raymyers/growstack/pkg/ir"
	"github.com/raymyers/growstack/pkg/linkage"
	"github.com/raymyers/growstack/pkg/stacks"
)

const (
	runSegmentSize = 64 * 1024
	runFrameSize   = 64
)

// runBothFrames executes g once in an ordinary frame and once in a frame
// that starts a new stack segment, reporting where each store landed
// relative to the slots the caller reserved.
func runBothFrames(g *ir.Graph, desc *linkage.CallDescriptor, w io.Writer) error {
	args := make([]uint64, desc.ParamCount())
	for i := range args {
		args[i] = uint64(i + 1)
	}

	for _, segmentStart := range []bool{false, true} {
		if err := runInFrame(g, desc, args, segmentStart, w); err != nil {
			return err
		}
	}
	return nil
}

func runInFrame(g *ir.Graph, desc *linkage.CallDescriptor, args []uint64, segmentStart bool, w io.Writer) error {
	stack, err := stacks.NewStack(stacks.NewMemory(), desc.Target.PointerSize, runSegmentSize)
	if err != nil {
		return err
	}
	caller, err := stack.PushFrame(frame.Wasm, runFrameSize, 0)
	if err != nil {
		return err
	}
	area := desc.StackAreaSize()
	reserved := caller.SP - uint64(area)

	kind := "ordinary"
	if segmentStart {
		kind = "segment-start"
		_, err = stack.PushSegmentStart(runFrameSize, area)
	} else {
		_, err = stack.PushFrame(frame.Wasm, runFrameSize, area)
	}
	if err != nil {
		return err
	}

	res, err := interp.Run(g, interp.StackEnv(stacks.NewIsolate(stack)), args)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "run %s in %s frame: %d runtime calls\n", g.Name, kind, len(res.Calls))
	for _, s := range res.Stores {
		if s.Addr >= reserved && s.Addr < caller.SP {
			fmt.Fprintf(w, "  store %s %#x -> caller slot +%d\n", s.Rep, s.Value, s.Addr-reserved)
		} else {
			fmt.Fprintf(w, "  store %s %#x -> %#x outside the caller's slots\n", s.Rep, s.Value, s.Addr)
		}
	}
	fmt.Fprintf(w, "  return [%s]\n", hexValues(res.Values))
	return nil
}
