package idx

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/eunmann/idxgo/internal/logctx"
	"github.com/eunmann/idxgo/pkg/logging"
	"github.com/eunmann/idxgo/pkg/membudget"
)

// Options configures how a Dataset is loaded.
type Options struct {
	// Mmap maps the file read-only instead of reading the payload into the
	// heap. Only honored by Open.
	Mmap bool

	// Budget, if set, must have room for the payload before it is
	// allocated. The reservation is returned by Close. Mapped payloads are
	// backed by the page cache and do not reserve.
	Budget *membudget.Budget
}

// Dataset is a decoded IDX file: its header plus one flat payload buffer
// in row-major order.
//
// Thread Safety: the payload is never modified after construction, so a
// Dataset and its views are safe for concurrent read access from multiple
// goroutines. Close should only be called once, after all reads have
// completed.
type Dataset struct {
	layout *layout
	buf    []byte

	mapped   []byte
	budget   *membudget.Budget
	reserved uint64

	closeOnce sync.Once
	closeErr  error
}

// Open reads the IDX file at path.
func Open(ctx context.Context, path string, opts Options) (*Dataset, error) {
	start := time.Now()
	log := logctx.FromContext(logctx.WithDataset(ctx, path))

	var (
		ds  *Dataset
		err error
	)
	if opts.Mmap {
		ds, err = openMapped(path)
	} else {
		ds, err = openFile(path, opts)
	}
	if err != nil {
		log.Debug().Err(err).Msg("open dataset failed")
		return nil, err
	}

	logging.FileOpened(log, "open", time.Since(start)).
		Str("type", ds.Type().String()).
		Interface("shape", ds.layout.dims).
		Bytes("payload_bytes", int64(len(ds.buf))).
		Str("mode", ds.mode()).
		LogDebug("dataset opened")
	return ds, nil
}

func openFile(path string, opts Options) (*Dataset, error) {
	f, _, err := openRegular(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ds, err := Decode(bufio.NewReader(f), opts)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return ds, nil
}

// openRegular opens path for reading. Directories fail with ErrFileOpen.
func openRegular(path string) (*os.File, os.FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrFileOpen, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: stat %s: %w", ErrFileOpen, path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %s is a directory", ErrFileOpen, path)
	}
	return f, info, nil
}

// Decode reads a header and exactly the declared number of payload bytes
// from r. Bytes after the payload are left unread.
func Decode(r io.Reader, opts Options) (*Dataset, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	size, err := h.PayloadSize()
	if err != nil {
		return nil, err
	}

	if opts.Budget != nil {
		if !opts.Budget.TryReserve(uint64(size)) {
			return nil, fmt.Errorf("%w: payload of %d bytes, %d available",
				ErrBudgetExceeded, size, opts.Budget.Available())
		}
	}

	buf := make([]byte, size)
	if n, err := io.ReadFull(r, buf); err != nil {
		if opts.Budget != nil {
			opts.Budget.Release(uint64(size))
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %d of %d bytes", ErrTruncatedPayload, n, size)
		}
		return nil, fmt.Errorf("read payload: %w", err)
	}

	ds := &Dataset{layout: newLayout(h), buf: buf}
	if opts.Budget != nil {
		ds.budget = opts.Budget
		ds.reserved = uint64(size)
	}
	return ds, nil
}

// FromBytes decodes an in-memory IDX file image. The payload aliases data,
// which the caller must not modify afterwards.
func FromBytes(data []byte) (*Dataset, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	size, err := h.PayloadSize()
	if err != nil {
		return nil, err
	}
	start := h.Size()
	if avail := len(data) - start; avail < size {
		return nil, fmt.Errorf("%w: %d of %d bytes", ErrTruncatedPayload, avail, size)
	}
	end := start + size
	return &Dataset{layout: newLayout(h), buf: data[start:end:end]}, nil
}

// Close releases the memory mapping and any budget reservation. Views of a
// mapped dataset are invalid afterwards.
func (d *Dataset) Close() error {
	d.closeOnce.Do(func() {
		if d.budget != nil {
			d.budget.Release(d.reserved)
		}
		if d.mapped != nil {
			d.closeErr = unmap(d.mapped)
			d.mapped = nil
		}
	})
	return d.closeErr
}

// Header returns a copy of the decoded header.
func (d *Dataset) Header() Header {
	return Header{Type: d.layout.typ, Dims: d.Shape()}
}

// Type returns the element type.
func (d *Dataset) Type() ElementType {
	return d.layout.typ
}

// Shape returns a copy of the dimension sizes.
func (d *Dataset) Shape() []uint32 {
	out := make([]uint32, len(d.layout.dims))
	copy(out, d.layout.dims)
	return out
}

// Rank returns the number of dimensions.
func (d *Dataset) Rank() int {
	return d.layout.rank()
}

// Rows returns the size of dimension 0.
func (d *Dataset) Rows() uint32 {
	return d.layout.dims[0]
}

// Columns returns the number of elements per row: the product of every
// dimension after the first, or 1 for a rank-1 dataset. It is a reporting
// convenience; Shape keeps the individual dimension boundaries.
func (d *Dataset) Columns() uint64 {
	return uint64(d.layout.spans[1] / d.layout.width)
}

// NumElements returns the total number of elements.
func (d *Dataset) NumElements() int {
	return len(d.buf) / d.layout.width
}

// Len returns the payload size in bytes.
func (d *Dataset) Len() int {
	return len(d.buf)
}

// Mapped reports whether the payload is memory-mapped.
func (d *Dataset) Mapped() bool {
	return d.mapped != nil
}

func (d *Dataset) mode() string {
	if d.Mapped() {
		return "mmap"
	}
	return "heap"
}

// View returns the view of the whole dataset (depth 0).
func (d *Dataset) View() View {
	return View{layout: d.layout, buf: d.buf}
}

// Index selects entry i of dimension 0.
func (d *Dataset) Index(i int) (View, error) {
	return d.View().Index(i)
}

// At applies Index once per argument, left to right.
func (d *Dataset) At(indices ...int) (View, error) {
	v := d.View()
	for _, i := range indices {
		next, err := v.Index(i)
		if err != nil {
			return View{}, err
		}
		v = next
	}
	return v, nil
}

// Offset computes the byte offset of the sub-array selected by indices
// directly from the row-major formula, with the same validation as At.
func (d *Dataset) Offset(indices ...int) (int, error) {
	l := d.layout
	if len(indices) > l.rank() {
		return 0, fmt.Errorf("%w: %d indices for rank %d", ErrOverIndexed, len(indices), l.rank())
	}
	off := 0
	for dim, i := range indices {
		if i < 0 || uint64(i) >= uint64(l.dims[dim]) {
			return 0, fmt.Errorf("%w: index %d in dimension %d of size %d", ErrIndexOutOfRange, i, dim, l.dims[dim])
		}
		off += i * l.spans[dim+1]
	}
	return off, nil
}
