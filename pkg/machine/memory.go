package machine

// MemoryRep describes how a value is laid out in memory by a load or store
type MemoryRep int

const (
	MemInt8 MemoryRep = iota
	MemUint8
	MemInt16
	MemUint16
	MemInt32
	MemUint32
	MemInt64
	MemUint64
	MemFloat32
	MemFloat64
)

var memoryRepNames = []string{
	"Int8", "Uint8", "Int16", "Uint16", "Int32", "Uint32",
	"Int64", "Uint64", "Float32", "Float64",
}

func (m MemoryRep) String() string {
	if int(m) >= 0 && int(m) < len(memoryRepNames) {
		return memoryRepNames[m]
	}
	return "?"
}

// Size returns the number of bytes accessed
func (m MemoryRep) Size() int {
	switch m {
	case MemInt8, MemUint8:
		return 1
	case MemInt16, MemUint16:
		return 2
	case MemInt32, MemUint32, MemFloat32:
		return 4
	default:
		return 8
	}
}

// Signed reports whether loads of this representation sign-extend
func (m MemoryRep) Signed() bool {
	return m == MemInt8 || m == MemInt16 || m == MemInt32 || m == MemInt64
}

// Rep returns the register representation a load of m produces
func (m MemoryRep) Rep() Rep {
	switch m {
	case MemInt64, MemUint64:
		return Word64
	case MemFloat32:
		return Float32Rep
	case MemFloat64:
		return Float64Rep
	default:
		return Word32
	}
}

// FromMachineType returns the exact memory representation of a value of
// type t, as reported by a call descriptor.
func FromMachineType(t Type, pointerSize int32) MemoryRep {
	switch t {
	case Int32:
		return MemInt32
	case Uint32:
		return MemUint32
	case Int64:
		return MemInt64
	case Float32:
		return MemFloat32
	case Float64:
		return MemFloat64
	case Pointer:
		if pointerSize == 4 {
			return MemUint32
		}
		return MemUint64
	default:
		panic("machine: unknown type")
	}
}
