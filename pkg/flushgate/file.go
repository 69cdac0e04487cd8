package flushgate

import (
	"fmt"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
)

// File is the handle contract the roles rely on. Writes through Write always land
// at the end of the file; Sync forces prior writes on the same storage to stable
// media.
type File interface {
	io.Writer
	io.ReaderAt
	Sync() error
	Size() (int64, error)
	// Map returns a read-only view over [off, off+n).
	Map(off, n int64) (MappedView, error)
	Name() string
	Close() error
}

// MappedView is a read view over a mapped byte range.
type MappedView interface {
	Bytes() []byte
	Unmap() error
}

// FileOpener opens another handle on the storage at path.
type FileOpener func(path string, flag int, perm os.FileMode) (File, error)

// Handle flags per role. Only the appender handle carries O_APPEND; the sync
// handle is opened read-write because some platforms refuse to flush read-only handles.
const (
	appendFlags = os.O_CREATE | os.O_RDWR | os.O_APPEND
	syncFlags   = os.O_RDWR
	readFlags   = os.O_RDONLY
)

// OpenOSFile is the default FileOpener backed by *os.File and mmap-go.
func OpenOSFile(path string, flag int, perm os.FileMode) (File, error) {
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}
	return &osFile{f: f}, nil
}

type osFile struct {
	f *os.File
}

func (o *osFile) Write(p []byte) (int, error) { return o.f.Write(p) }

func (o *osFile) ReadAt(p []byte, off int64) (int, error) { return o.f.ReadAt(p, off) }

func (o *osFile) Sync() error { return o.f.Sync() }

func (o *osFile) Name() string { return o.f.Name() }

func (o *osFile) Close() error { return o.f.Close() }

func (o *osFile) Size() (int64, error) {
	st, err := o.f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

func (o *osFile) Map(off, n int64) (MappedView, error) {
	if n <= 0 {
		return nil, fmt.Errorf("map %s: invalid length %d", o.f.Name(), n)
	}
	m, err := mmap.MapRegion(o.f, int(n), mmap.RDONLY, 0, off)
	if err != nil {
		return nil, fmt.Errorf("map %s [%d,%d): %w", o.f.Name(), off, off+n, err)
	}
	return mappedRegion(m), nil
}

type mappedRegion mmap.MMap

func (m mappedRegion) Bytes() []byte { return m }

func (m mappedRegion) Unmap() error {
	mm := mmap.MMap(m)
	return mm.Unmap()
}
