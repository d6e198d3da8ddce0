//go:build windows

package cache

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

// mapping is a read/write memory mapping of a region of an on-disk file.
type mapping struct {
	handle windows.Handle
	data   []byte
}

// newMapping memory-maps the first length bytes of file for read/write
// access via CreateFileMapping/MapViewOfFile, the idiomatic Windows
// equivalent of POSIX mmap.
func newMapping(file *os.File, length int64) (*mapping, error) {
	h, err := windows.CreateFileMapping(windows.Handle(file.Fd()), nil, windows.PAGE_READWRITE,
		uint32(length>>32), uint32(length&0xffffffff), nil)
	if err != nil {
		return nil, err
	}

	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_WRITE, 0, 0, uintptr(length))
	if err != nil {
		windows.CloseHandle(h)
		return nil, err
	}

	var data []byte
	sh := (*sliceHeader)(unsafe.Pointer(&data))
	sh.Data = addr
	sh.Len = int(length)
	sh.Cap = int(length)

	return &mapping{handle: h, data: data}, nil
}

type sliceHeader struct {
	Data uintptr
	Len  int
	Cap  int
}

func (m *mapping) bytes() []byte {
	return m.data
}

func (m *mapping) close() error {
	if m.data == nil {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&m.data[0]))
	m.data = nil
	if err := windows.UnmapViewOfFile(addr); err != nil {
		return err
	}
	return windows.CloseHandle(m.handle)
}
