package idx

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// openMapped maps the whole file read-only and decodes it in place.
func openMapped(path string) (*Dataset, error) {
	f, info, err := openRegular(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	size := info.Size()
	if size < PrefixSize {
		// Mmap rejects empty files; report the short header instead.
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrMalformedHeader, path, size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	ds, err := FromBytes(data)
	if err != nil {
		_ = unix.Munmap(data)
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	ds.mapped = data
	return ds, nil
}

func unmap(data []byte) error {
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}
