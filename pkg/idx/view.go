package idx

import (
	"bytes"
	"fmt"
)

// layout is the immutable shape metadata shared by a Dataset and all of its
// views.
type layout struct {
	typ   ElementType
	width int
	dims  []uint32
	// spans[d] is the byte length of a sub-array at depth d.
	// spans[len(dims)] == width.
	spans []int
}

// newLayout assumes h has already passed PayloadSize, so no span overflows.
func newLayout(h Header) *layout {
	dims := make([]uint32, len(h.Dims))
	copy(dims, h.Dims)

	width := h.Type.Width()
	spans := make([]int, len(dims)+1)
	spans[len(dims)] = width
	for d := len(dims) - 1; d >= 0; d-- {
		spans[d] = spans[d+1] * int(dims[d])
	}
	return &layout{typ: h.Type, width: width, dims: dims, spans: spans}
}

func (l *layout) rank() int {
	return len(l.dims)
}

// View is a read-only window onto the sub-array selected by a prefix of
// indices. Views are small values; copying one is cheap and never copies
// the underlying bytes.
//
// Thread Safety: a View never mutates shared state, so views may be used
// from multiple goroutines. A view of a memory-mapped Dataset must not be
// used after the Dataset is closed.
type View struct {
	layout *layout
	buf    []byte
	depth  int
	offset int
}

// Type returns the element type.
func (v View) Type() ElementType {
	return v.layout.typ
}

// Depth returns how many leading dimensions have been consumed.
func (v View) Depth() int {
	return v.depth
}

// Offset returns the absolute byte offset of the view in the dataset buffer.
func (v View) Offset() int {
	return v.offset
}

// Len returns the number of bytes covered by the view.
func (v View) Len() int {
	return v.layout.spans[v.depth]
}

// NumElements returns the number of elements covered by the view.
func (v View) NumElements() int {
	return v.Len() / v.layout.width
}

// Shape returns the sizes of the dimensions not yet indexed.
func (v View) Shape() []uint32 {
	rest := v.layout.dims[v.depth:]
	out := make([]uint32, len(rest))
	copy(out, rest)
	return out
}

// IsScalar reports whether every dimension has been indexed.
func (v View) IsScalar() bool {
	return v.depth == v.layout.rank()
}

// Index selects entry i of the next dimension and returns the narrower view.
// v itself is unchanged.
func (v View) Index(i int) (View, error) {
	if v.IsScalar() {
		return View{}, fmt.Errorf("%w: view already at depth %d", ErrOverIndexed, v.depth)
	}
	size := v.layout.dims[v.depth]
	if i < 0 || uint64(i) >= uint64(size) {
		return View{}, fmt.Errorf("%w: index %d in dimension %d of size %d", ErrIndexOutOfRange, i, v.depth, size)
	}
	return View{
		layout: v.layout,
		buf:    v.buf,
		depth:  v.depth + 1,
		offset: v.offset + i*v.layout.spans[v.depth+1],
	}, nil
}

// Bytes returns the raw big-endian bytes of the view without copying.
// The slice capacity is clipped so appends cannot reach past the view.
// Callers must not modify the returned bytes.
func (v View) Bytes() []byte {
	end := v.offset + v.Len()
	return v.buf[v.offset:end:end]
}

// CopyBytes returns an owned copy of the view's bytes.
func (v View) CopyBytes() []byte {
	return bytes.Clone(v.Bytes())
}

// Scalar decodes the single element of a fully indexed view. The dynamic
// type is uint8, int8, int16, int32, float32 or float64 depending on Type.
func (v View) Scalar() (any, error) {
	if !v.IsScalar() {
		return nil, fmt.Errorf("%w: %d dimensions remain", ErrNotScalar, v.layout.rank()-v.depth)
	}
	return decodeScalar(v.layout.typ, v.Bytes()), nil
}

// Float64 decodes the single element of a fully indexed view, widened to
// float64. Every IDX element type converts exactly.
func (v View) Float64() (float64, error) {
	if !v.IsScalar() {
		return 0, fmt.Errorf("%w: %d dimensions remain", ErrNotScalar, v.layout.rank()-v.depth)
	}
	return decodeFloat64(v.layout.typ, v.Bytes()), nil
}

// AppendFloat64s decodes every element in the view, in row-major order, and
// appends them to dst.
func (v View) AppendFloat64s(dst []float64) []float64 {
	w := v.layout.width
	b := v.Bytes()
	dst = growFloat64s(dst, len(b)/w)
	for off := 0; off < len(b); off += w {
		dst = append(dst, decodeFloat64(v.layout.typ, b[off:off+w]))
	}
	return dst
}

func growFloat64s(dst []float64, n int) []float64 {
	if cap(dst)-len(dst) >= n {
		return dst
	}
	grown := make([]float64, len(dst), len(dst)+n)
	copy(grown, dst)
	return grown
}
