//go:build linux || darwin

package cache

import (
	"os"

	"golang.org/x/sys/unix"
)

// mapping is a read/write memory mapping of a region of an on-disk file.
type mapping struct {
	data []byte
}

// newMapping memory-maps the first length bytes of file for read/write
// access. The caller owns the file exclusively for the lifetime of the
// mapping.
func newMapping(file *os.File, length int64) (*mapping, error) {
	data, err := unix.Mmap(int(file.Fd()), 0, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return &mapping{data: data}, nil
}

func (m *mapping) bytes() []byte {
	return m.data
}

func (m *mapping) close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}
