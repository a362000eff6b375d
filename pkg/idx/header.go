package idx

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/bits"
)

// PrefixSize is the fixed part of every header: two reserved bytes, the
// type tag and the dimension count.
const PrefixSize = 4

// dimSize is the encoded width of one dimension size.
const dimSize = 4

// Header is the decoded IDX header. Dims are in host byte order.
type Header struct {
	Type ElementType
	Dims []uint32
}

// Size returns the encoded header size, which is also the payload offset.
func (h Header) Size() int {
	return PrefixSize + dimSize*len(h.Dims)
}

// NumElements returns the product of all dimension sizes.
// The result saturates at math.MaxUint64.
func (h Header) NumElements() uint64 {
	n := uint64(1)
	for _, d := range h.Dims {
		hi, lo := bits.Mul64(n, uint64(d))
		if hi != 0 {
			return math.MaxUint64
		}
		n = lo
	}
	return n
}

// PayloadSize returns the number of payload bytes the header declares.
func (h Header) PayloadSize() (int, error) {
	if !h.Type.Valid() {
		return 0, fmt.Errorf("%w: tag 0x%02x", ErrUnknownType, uint8(h.Type))
	}
	size := uint64(h.Type.Width())
	for _, d := range h.Dims {
		hi, lo := bits.Mul64(size, uint64(d))
		if hi != 0 || lo > math.MaxInt {
			return 0, fmt.Errorf("%w: payload size of shape %v overflows", ErrMalformedHeader, h.Dims)
		}
		size = lo
	}
	return int(size), nil
}

// EncodeHeader writes a header to a byte slice. The reserved bytes are zero.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, h.Size())
	buf[2] = byte(h.Type)
	buf[3] = byte(len(h.Dims))
	for i, d := range h.Dims {
		binary.BigEndian.PutUint32(buf[PrefixSize+i*dimSize:], d)
	}
	return buf
}

// DecodeHeader reads a header from the start of buf. Bytes after the header
// are ignored.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < PrefixSize {
		return Header{}, fmt.Errorf("%w: %d of %d prefix bytes", ErrMalformedHeader, len(buf), PrefixSize)
	}
	typ, n, err := decodePrefix(buf[:PrefixSize])
	if err != nil {
		return Header{}, err
	}
	want := PrefixSize + dimSize*n
	if len(buf) < want {
		return Header{}, fmt.Errorf("%w: %d of %d header bytes for %d dimensions", ErrMalformedHeader, len(buf), want, n)
	}
	return Header{Type: typ, Dims: decodeDims(buf[PrefixSize:want], n)}, nil
}

// ReadHeader reads a header from r, leaving r positioned at the first
// payload byte.
func ReadHeader(r io.Reader) (Header, error) {
	var prefix [PrefixSize]byte
	if n, err := io.ReadFull(r, prefix[:]); err != nil {
		return Header{}, fmt.Errorf("%w: %d of %d prefix bytes: %w", ErrMalformedHeader, n, PrefixSize, err)
	}
	typ, n, err := decodePrefix(prefix[:])
	if err != nil {
		return Header{}, err
	}
	dims := make([]byte, dimSize*n)
	if got, err := io.ReadFull(r, dims); err != nil {
		return Header{}, fmt.Errorf("%w: %d of %d dimension bytes: %w", ErrMalformedHeader, got, len(dims), err)
	}
	return Header{Type: typ, Dims: decodeDims(dims, n)}, nil
}

// decodePrefix validates the type tag and dimension count. Bytes 0-1 are
// reserved and not checked.
func decodePrefix(prefix []byte) (ElementType, int, error) {
	typ := ElementType(prefix[2])
	if !typ.Valid() {
		return 0, 0, fmt.Errorf("%w: tag 0x%02x", ErrUnknownType, prefix[2])
	}
	n := int(prefix[3])
	if n == 0 {
		return 0, 0, fmt.Errorf("%w: zero dimensions", ErrMalformedHeader)
	}
	return typ, n, nil
}

func decodeDims(buf []byte, n int) []uint32 {
	dims := make([]uint32, n)
	for i := range dims {
		dims[i] = binary.BigEndian.Uint32(buf[i*dimSize:])
	}
	return dims
}
