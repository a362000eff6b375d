// Package rowindex finds rows with identical content within and across
// IDX datasets, for example test images that also appear in a training set.
//
// Rows are keyed by a 64-bit hash of their bytes and placed with a minimal
// perfect hash function. A second, independent hash is stored per slot as a
// fingerprint so that most misses are rejected without touching the
// dataset, and hits are confirmed by comparing the row bytes.
package rowindex

import (
	"bytes"
	"errors"
	"fmt"
	"hash/fnv"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/eunmann/idxgo/pkg/idx"
	"github.com/relab/bbhash"
)

// ErrShapeMismatch is returned when two datasets do not share an element
// type and row shape.
var ErrShapeMismatch = errors.New("datasets have different row layouts")

// Index maps row content to the first row of a dataset holding it.
// It reads row bytes from the dataset, which must stay open while the
// Index is in use.
type Index struct {
	ds     *idx.Dataset
	rowLen int

	mph          *bbhash.BBHash2
	rows         []int
	fingerprints []uint64

	// overflow holds rows whose key collides with a different row's key.
	overflow map[uint64][]int

	duplicates *roaring.Bitmap
}

// Build indexes every dimension-0 row of ds.
func Build(ds *idx.Dataset) (*Index, error) {
	ix := &Index{
		ds:         ds,
		overflow:   make(map[uint64][]int),
		duplicates: roaring.New(),
	}

	n := int(ds.Rows())
	first := make(map[uint64]int, n)
	keys := make([]uint64, 0, n)

	for i := range n {
		row, err := ix.row(i)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			ix.rowLen = len(row)
		}

		key := hashKey(row)
		r, seen := first[key]
		switch {
		case !seen:
			first[key] = i
			keys = append(keys, key)
		case ix.equal(row, r):
			ix.duplicates.Add(uint32(i))
		default:
			ix.addOverflow(key, row, i)
		}
	}

	if len(keys) == 0 {
		return ix, nil
	}

	mph, err := bbhash.New(keys, bbhash.Gamma(2.0))
	if err != nil {
		return nil, fmt.Errorf("build MPHF: %w", err)
	}
	ix.mph = mph
	ix.rows = make([]int, len(keys))
	ix.fingerprints = make([]uint64, len(keys))

	// bbhash positions are 1-based.
	for _, key := range keys {
		pos := mph.Find(key)
		if pos == 0 || pos > uint64(len(keys)) {
			return nil, fmt.Errorf("MPHF lookup failed for key %#x", key)
		}
		r := first[key]
		row, _ := ix.row(r)
		ix.rows[pos-1] = r
		ix.fingerprints[pos-1] = fingerprint(row)
	}

	return ix, nil
}

func (ix *Index) addOverflow(key uint64, row []byte, i int) {
	for _, r := range ix.overflow[key] {
		if ix.equal(row, r) {
			ix.duplicates.Add(uint32(i))
			return
		}
	}
	ix.overflow[key] = append(ix.overflow[key], i)
}

func (ix *Index) row(i int) ([]byte, error) {
	v, err := ix.ds.Index(i)
	if err != nil {
		return nil, err
	}
	return v.Bytes(), nil
}

func (ix *Index) equal(row []byte, r int) bool {
	other, err := ix.row(r)
	return err == nil && bytes.Equal(row, other)
}

// Lookup returns the first row whose bytes equal row.
func (ix *Index) Lookup(row []byte) (int, bool) {
	if ix.mph == nil || len(row) != ix.rowLen {
		return -1, false
	}

	key := hashKey(row)
	if pos := ix.mph.Find(key); pos != 0 && pos <= uint64(len(ix.rows)) {
		slot := pos - 1
		if ix.fingerprints[slot] == fingerprint(row) && ix.equal(row, ix.rows[slot]) {
			return ix.rows[slot], true
		}
	}

	for _, r := range ix.overflow[key] {
		if ix.equal(row, r) {
			return r, true
		}
	}
	return -1, false
}

// Len returns the number of distinct rows.
func (ix *Index) Len() int {
	n := len(ix.rows)
	for _, rows := range ix.overflow {
		n += len(rows)
	}
	return n
}

// Duplicates returns the rows whose content already appeared at a lower
// row index.
func (ix *Index) Duplicates() *roaring.Bitmap {
	return ix.duplicates.Clone()
}

// Overlap returns the rows of b whose content also appears somewhere in a.
func Overlap(a, b *idx.Dataset) (*roaring.Bitmap, error) {
	if err := compatible(a, b); err != nil {
		return nil, err
	}

	ix, err := Build(a)
	if err != nil {
		return nil, fmt.Errorf("index first dataset: %w", err)
	}

	out := roaring.New()
	for i := range int(b.Rows()) {
		v, err := b.Index(i)
		if err != nil {
			return nil, err
		}
		if _, ok := ix.Lookup(v.Bytes()); ok {
			out.Add(uint32(i))
		}
	}
	return out, nil
}

func compatible(a, b *idx.Dataset) error {
	if a.Type() != b.Type() {
		return fmt.Errorf("%w: element types %s and %s", ErrShapeMismatch, a.Type(), b.Type())
	}
	if sa, sb := a.Shape()[1:], b.Shape()[1:]; !slices.Equal(sa, sb) {
		return fmt.Errorf("%w: row shapes %v and %v", ErrShapeMismatch, sa, sb)
	}
	return nil
}

// hashKey computes the MPHF key of a row.
var hashKey = fnvKey

func fnvKey(b []byte) uint64 {
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}

// fingerprint uses a different hash function than hashKey.
func fingerprint(b []byte) uint64 {
	h := fnv.New64()
	h.Write(b)
	return h.Sum64()
}
