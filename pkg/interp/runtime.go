package interp

import (
	"fmt"

	"github.com/raymyers/growstack/pkg/ir"
	"github.com/raymyers/growstack/pkg/stacks"
)

// LoadOldFPAddress is the code address RuntimeExternals binds
// wasm_load_old_fp to.
const LoadOldFPAddress = 0x5000

// RuntimeExternals binds the runtime symbols lowered returns use to iso
func RuntimeExternals(iso *stacks.Isolate) map[ir.ExternalReference]External {
	return map[ir.ExternalReference]External{
		ir.IsolateAddress: {Address: iso.Address},
		ir.WasmLoadOldFP: {
			Address: LoadOldFPAddress,
			Call: func(args []uint64) (uint64, error) {
				if len(args) != 1 || args[0] != iso.Address {
					return 0, fmt.Errorf("wasm_load_old_fp%v: expected the isolate address %#x", args, iso.Address)
				}
				return iso.LoadOldFP(), nil
			},
		},
	}
}

// StackEnv returns an environment executing in the innermost frame of the
// isolate's stack.
func StackEnv(iso *stacks.Isolate) *Env {
	return &Env{
		Memory:    iso.Stack.Memory(),
		FP:        iso.Stack.Top().FP,
		Externals: RuntimeExternals(iso),
	}
}
