package nfs

import (
	"errors"
	"io"
	"os"
	"path"
	"sync"
	"syscall"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"
	billyutil "github.com/go-git/go-billy/v5/util"
	nfsfile "github.com/willscott/go-nfs/file"

	"github.com/brettbedarf/ramfs"
)

// BillyFS adapts the handle-based engine to the path-based billy.Filesystem
// that go-nfs serves. Every path is resolved from the root on each call.
type BillyFS struct {
	fs  ramfs.Operator
	mu  sync.Locker // serializes every call into fs
	uid uint32      // cached os.Getuid(); avoids a syscall per FileInfo.Sys()
	gid uint32
}

func NewBillyFS(fs ramfs.Operator, mu sync.Locker) *BillyFS {
	return &BillyFS{
		fs:  fs,
		mu:  mu,
		uid: uint32(os.Getuid()),
		gid: uint32(os.Getgid()),
	}
}

// pathError wraps an engine error so os.IsNotExist and friends work on it
func pathError(op, name string, err error) error {
	if err == nil {
		return nil
	}
	return &os.PathError{Op: op, Path: name, Err: ramfs.Errno(err)}
}

func writable(flag int) bool {
	return flag&(os.O_WRONLY|os.O_RDWR) != 0
}

func (b *BillyFS) Create(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
}

func (b *BillyFS) Open(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_RDONLY, 0)
}

func (b *BillyFS) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, err := b.fs.Resolve(filename)
	switch {
	case errors.Is(err, ramfs.ErrNotFound) && flag&os.O_CREATE != 0:
		parent, name, perr := b.fs.ResolveParent(filename)
		if perr != nil {
			return nil, pathError("open", filename, perr)
		}
		if h, err = b.fs.CreateFile(parent, name, uint32(perm.Perm())); err != nil {
			return nil, pathError("open", filename, err)
		}
	case err != nil:
		return nil, pathError("open", filename, err)
	case flag&os.O_CREATE != 0 && flag&os.O_EXCL != 0:
		return nil, pathError("open", filename, ramfs.ErrAlreadyExists)
	}

	attr, err := b.fs.GetAttributes(h)
	if err != nil {
		return nil, pathError("open", filename, err)
	}
	if attr.IsDir() && writable(flag) {
		return nil, pathError("open", filename, ramfs.ErrIsDirectory)
	}
	if flag&os.O_TRUNC != 0 && writable(flag) {
		if err := b.fs.Truncate(h, 0); err != nil {
			return nil, pathError("open", filename, err)
		}
	}
	return &billyFile{fs: b, handle: h, name: filename, flag: flag}, nil
}

func (b *BillyFS) stat(op, filename string) (os.FileInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, err := b.fs.Resolve(filename)
	if err != nil {
		return nil, pathError(op, filename, err)
	}
	attr, err := b.fs.GetAttributes(h)
	if err != nil {
		return nil, pathError(op, filename, err)
	}
	return b.fileInfo(path.Base(path.Clean("/"+filename)), attr), nil
}

func (b *BillyFS) Stat(filename string) (os.FileInfo, error) {
	return b.stat("stat", filename)
}

// Lstat is Stat; there are no symlinks
func (b *BillyFS) Lstat(filename string) (os.FileInfo, error) {
	return b.stat("lstat", filename)
}

// Rename follows rename(2): an existing destination of the same kind is
// replaced, a non-empty destination directory is refused.
func (b *BillyFS) Rename(oldpath, newpath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	srcParent, name, err := b.fs.ResolveParent(oldpath)
	if err != nil {
		return pathError("rename", oldpath, err)
	}
	dstParent, newName, err := b.fs.ResolveParent(newpath)
	if err != nil {
		return pathError("rename", newpath, err)
	}
	return pathError("rename", oldpath, ramfs.Rename(b.fs, srcParent, name, dstParent, newName, 0))
}

// Remove deletes a file or an empty directory
func (b *BillyFS) Remove(filename string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	parent, name, err := b.fs.ResolveParent(filename)
	if err != nil {
		return pathError("remove", filename, err)
	}
	return pathError("remove", filename, ramfs.Unlink(b.fs, parent, name, 0))
}

func (b *BillyFS) Join(elem ...string) string {
	return path.Join(elem...)
}

func (b *BillyFS) TempFile(dir, prefix string) (billy.File, error) {
	if dir == "" {
		dir = "/"
	}
	return billyutil.TempFile(b, dir, prefix)
}

func (b *BillyFS) ReadDir(dirname string) ([]os.FileInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, err := b.fs.Resolve(dirname)
	if err != nil {
		return nil, pathError("readdir", dirname, err)
	}
	entries, err := b.fs.ListChildren(h)
	if err != nil {
		return nil, pathError("readdir", dirname, err)
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		attr, err := b.fs.GetAttributes(e.Handle)
		if err != nil {
			return nil, pathError("readdir", dirname, err)
		}
		infos = append(infos, b.fileInfo(e.Name, attr))
	}
	return infos, nil
}

// MkdirAll creates filename and any missing parents. Existing directories
// along the way are left alone.
func (b *BillyFS) MkdirAll(filename string, perm os.FileMode) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := ramfs.RootHandle
	for _, name := range ramfs.SplitPath(filename) {
		h, err := b.fs.Lookup(cur, name)
		switch {
		case errors.Is(err, ramfs.ErrNotFound):
			if h, err = b.fs.CreateDirectory(cur, name, uint32(perm.Perm())); err != nil {
				return pathError("mkdir", filename, err)
			}
		case err != nil:
			return pathError("mkdir", filename, err)
		}
		attr, err := b.fs.GetAttributes(h)
		if err != nil {
			return pathError("mkdir", filename, err)
		}
		if !attr.IsDir() {
			return pathError("mkdir", filename, ramfs.ErrNotADirectory)
		}
		cur = h
	}
	return nil
}

func (b *BillyFS) Symlink(target, link string) error {
	return &os.PathError{Op: "symlink", Path: link, Err: billy.ErrNotSupported}
}

func (b *BillyFS) Readlink(link string) (string, error) {
	return "", &os.PathError{Op: "readlink", Path: link, Err: billy.ErrNotSupported}
}

func (b *BillyFS) Chroot(p string) (billy.Filesystem, error) {
	fi, err := b.Stat(p)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, pathError("chroot", p, ramfs.ErrNotADirectory)
	}
	return chroot.New(b, path.Clean("/"+p)), nil
}

func (b *BillyFS) Root() string {
	return "/"
}

// billy.Change interface

func (b *BillyFS) Chmod(name string, mode os.FileMode) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, err := b.fs.Resolve(name)
	if err != nil {
		return pathError("chmod", name, err)
	}
	return pathError("chmod", name, b.fs.SetMode(h, uint32(mode.Perm())))
}

func (b *BillyFS) Lchown(name string, uid, gid int) error            { return nil }
func (b *BillyFS) Chown(name string, uid, gid int) error             { return nil }
func (b *BillyFS) Chtimes(name string, atime, mtime time.Time) error { return nil }

func (b *BillyFS) Capabilities() billy.Capability {
	return billy.WriteCapability | billy.ReadCapability |
		billy.ReadAndWriteCapability | billy.SeekCapability | billy.TruncateCapability
}

func (b *BillyFS) fileInfo(name string, attr ramfs.Attr) *fileInfo {
	return &fileInfo{name: name, attr: attr, uid: b.uid, gid: b.gid}
}

// billyFile is an open file: a handle plus a cursor
type billyFile struct {
	fs     *BillyFS
	handle ramfs.Handle
	name   string
	flag   int
	offset int64
	closed bool
}

func (f *billyFile) Name() string {
	return f.name
}

func (f *billyFile) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, f.offset)
	f.offset += int64(n)
	if n > 0 && err == io.EOF {
		err = nil
	}
	return n, err
}

// ReadAt returns io.EOF whenever fewer than len(p) bytes are available
func (f *billyFile) ReadAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	f.fs.mu.Lock()
	data, err := f.fs.fs.ReadContent(f.handle, off, len(p))
	f.fs.mu.Unlock()
	if err != nil {
		return 0, pathError("read", f.name, err)
	}
	n := copy(p, data)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *billyFile) Write(p []byte) (int, error) {
	if f.flag&os.O_APPEND != 0 {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			return 0, err
		}
	}
	n, err := f.WriteAt(p, f.offset)
	f.offset += int64(n)
	return n, err
}

func (f *billyFile) WriteAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	if !writable(f.flag) {
		return 0, &os.PathError{Op: "write", Path: f.name, Err: syscall.EBADF}
	}
	f.fs.mu.Lock()
	n, err := f.fs.fs.WriteContent(f.handle, off, p)
	f.fs.mu.Unlock()
	return n, pathError("write", f.name, err)
}

func (f *billyFile) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += f.offset
	case io.SeekEnd:
		f.fs.mu.Lock()
		attr, err := f.fs.fs.GetAttributes(f.handle)
		f.fs.mu.Unlock()
		if err != nil {
			return 0, pathError("seek", f.name, err)
		}
		offset += int64(attr.Size)
	default:
		return 0, &os.PathError{Op: "seek", Path: f.name, Err: syscall.EINVAL}
	}
	if offset < 0 {
		return 0, &os.PathError{Op: "seek", Path: f.name, Err: syscall.EINVAL}
	}
	f.offset = offset
	return offset, nil
}

func (f *billyFile) Close() error {
	if f.closed {
		return os.ErrClosed
	}
	f.closed = true
	return nil
}

func (f *billyFile) Lock() error   { return nil }
func (f *billyFile) Unlock() error { return nil }

func (f *billyFile) Truncate(size int64) error {
	if !writable(f.flag) {
		return &os.PathError{Op: "truncate", Path: f.name, Err: syscall.EBADF}
	}
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	return pathError("truncate", f.name, f.fs.fs.Truncate(f.handle, size))
}

// fileInfo is an os.FileInfo over engine attributes
type fileInfo struct {
	name string
	attr ramfs.Attr
	uid  uint32
	gid  uint32
}

func (fi *fileInfo) Name() string {
	return fi.name
}

func (fi *fileInfo) Size() int64 {
	return int64(fi.attr.Size)
}

func (fi *fileInfo) Mode() os.FileMode {
	mode := os.FileMode(fi.attr.Perm() & 0o777)
	if fi.attr.IsDir() {
		mode |= os.ModeDir
	}
	return mode
}

func (fi *fileInfo) ModTime() time.Time {
	return fi.attr.Mtime
}

func (fi *fileInfo) IsDir() bool {
	return fi.attr.IsDir()
}

// Sys returns the go-nfs file info; go-nfs only reads the file id, link
// count and ownership from this type.
func (fi *fileInfo) Sys() any {
	return &nfsfile.FileInfo{
		Nlink:  fi.attr.Nlink,
		UID:    fi.uid,
		GID:    fi.gid,
		Fileid: uint64(fi.attr.Handle),
	}
}

var (
	_ billy.Filesystem = (*BillyFS)(nil)
	_ billy.Change     = (*BillyFS)(nil)
	_ billy.Capable    = (*BillyFS)(nil)
	_ billy.File       = (*billyFile)(nil)
	_ io.WriterAt      = (*billyFile)(nil)
)
