package idx

import "fmt"

// ElementType is the IDX element type tag stored in byte 2 of the header.
type ElementType uint8

const (
	UnsignedByte ElementType = 0x08
	Byte         ElementType = 0x09
	Short        ElementType = 0x0B
	Int          ElementType = 0x0C
	Float        ElementType = 0x0D
	Double       ElementType = 0x0E
)

// Width returns the element width in bytes, or 0 for an unknown tag.
func (t ElementType) Width() int {
	switch t {
	case UnsignedByte, Byte:
		return 1
	case Short:
		return 2
	case Int, Float:
		return 4
	case Double:
		return 8
	default:
		return 0
	}
}

// Valid reports whether t is one of the documented tags.
func (t ElementType) Valid() bool {
	return t.Width() > 0
}

func (t ElementType) String() string {
	switch t {
	case UnsignedByte:
		return "ubyte"
	case Byte:
		return "byte"
	case Short:
		return "short"
	case Int:
		return "int"
	case Float:
		return "float"
	case Double:
		return "double"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(t))
	}
}
