// Package idx reads IDX files, the container used by the MNIST family of
// handwritten-digit datasets.
//
// An IDX file is a 4-byte prefix (two reserved zero bytes, an element type
// tag and a dimension count n), n big-endian uint32 dimension sizes, and a
// row-major payload of fixed-width big-endian elements:
//
//	offset  size  field
//	0       2     reserved
//	2       1     type tag (0x08 ubyte, 0x09 byte, 0x0B short, 0x0C int, 0x0D float, 0x0E double)
//	3       1     dimension count n
//	4       4n    dimension sizes
//	4+4n    ...   payload
//
// A Dataset owns the payload. Indexing never copies it: each call to Index
// narrows a View by one dimension, advancing its byte offset by the index
// times the size of everything below that dimension.
//
//	ds, err := idx.Open(ctx, "train-images-idx3-ubyte", idx.Options{})
//	if err != nil {
//		return err
//	}
//	defer ds.Close()
//
//	img, err := ds.Index(0)      // 28x28 sub-array
//	px, err := img.Index(14)     // one row of 28 pixels
//	v, err := px.Index(14)       // scalar
//	value, err := v.Float64()
package idx
