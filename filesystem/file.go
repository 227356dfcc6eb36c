package filesystem

import (
	"slices"

	"github.com/brettbedarf/ramfs"
)

// File is a growable byte buffer. len(data) is the logical size.
type File struct {
	data []byte
}

func (*File) kind() ramfs.Kind { return ramfs.KindFile }

func (f *File) Size() int64 {
	return int64(len(f.data))
}

// Read returns a copy of up to maxLength bytes starting at offset.
// Reading at or past the end returns an empty slice, never an error.
func (f *File) Read(offset int64, maxLength int) []byte {
	if offset >= f.Size() || maxLength <= 0 {
		return []byte{}
	}
	end := min(offset+int64(maxLength), f.Size())
	return slices.Clone(f.data[offset:end])
}

// Write copies p at offset, growing the buffer when the write ends past the
// current size. Any gap between the old size and offset reads back as zeros.
// Always returns len(p).
func (f *File) Write(offset int64, p []byte) int {
	end := offset + int64(len(p))
	f.resize(max(end, f.Size()))
	copy(f.data[offset:], p)
	return len(p)
}

// Truncate sets the size to exactly size, zero-filling when extending
func (f *File) Truncate(size int64) {
	f.resize(size)
}

func (f *File) resize(size int64) {
	old := len(f.data)
	if size <= int64(old) {
		f.data = f.data[:size]
		return
	}
	// Bytes beyond len may be stale from an earlier truncate
	f.data = slices.Grow(f.data, int(size)-old)[:size]
	clear(f.data[old:])
}
