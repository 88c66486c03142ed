// Package machine defines the value types seen by calling conventions and the
// register and memory representations used by the backend IR.
package machine

import "fmt"

// Type is the machine-level type of a parameter or return value
type Type int

const (
	Int32 Type = iota
	Uint32
	Int64
	Float32
	Float64
	Pointer
)

var typeNames = []string{"i32", "u32", "i64", "f32", "f64", "ptr"}

func (t Type) String() string {
	if int(t) >= 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "?"
}

// ParseType parses the short type names used in signatures (i32, i64, ...)
func ParseType(s string) (Type, error) {
	for i, name := range typeNames {
		if name == s {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("unknown machine type %q", s)
}

// IsFloat reports whether values of this type live in float registers
func (t Type) IsFloat() bool {
	return t == Float32 || t == Float64
}

// Size returns the size in bytes of a value of this type
func (t Type) Size(pointerSize int32) int32 {
	switch t {
	case Int32, Uint32, Float32:
		return 4
	case Int64, Float64:
		return 8
	case Pointer:
		return pointerSize
	default:
		panic("machine: unknown type")
	}
}

// Rep returns the register representation holding a value of this type
func (t Type) Rep(pointerSize int32) Rep {
	switch t {
	case Int32, Uint32:
		return Word32
	case Int64:
		return Word64
	case Float32:
		return Float32Rep
	case Float64:
		return Float64Rep
	case Pointer:
		return WordPtr(pointerSize)
	default:
		panic("machine: unknown type")
	}
}

// Rep is a register representation: how a value is held in a register
type Rep int

const (
	Word32 Rep = iota
	Word64
	Float32Rep
	Float64Rep
)

func (r Rep) String() string {
	switch r {
	case Word32:
		return "Word32"
	case Word64:
		return "Word64"
	case Float32Rep:
		return "Float32"
	case Float64Rep:
		return "Float64"
	}
	return "?"
}

// Bits returns the width of the representation in bits
func (r Rep) Bits() int {
	switch r {
	case Word32, Float32Rep:
		return 32
	default:
		return 64
	}
}

// WordPtr is the word representation of a pointer on a target
func WordPtr(pointerSize int32) Rep {
	if pointerSize == 4 {
		return Word32
	}
	return Word64
}
