package fuse

import (
	"errors"
	"sync"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/brettbedarf/ramfs"
	"github.com/brettbedarf/ramfs/config"
	"github.com/brettbedarf/ramfs/filesystem"
	"github.com/brettbedarf/ramfs/internal/mocks"
)

func newTestRaw(t *testing.T) (*FuseRaw, *filesystem.FileSystem) {
	t.Helper()
	cfg := config.NewDefaultConfig()
	fs := filesystem.NewFS(cfg)
	return NewFuseRaw(fs, &sync.Mutex{}, cfg), fs
}

func header(node ramfs.Handle) fuse.InHeader {
	return fuse.InHeader{NodeId: uint64(node)}
}

// create makes a file under parent and returns its handle and open fh
func create(t *testing.T, r *FuseRaw, parent ramfs.Handle, name string) (ramfs.Handle, uint64) {
	t.Helper()
	var out fuse.CreateOut
	status := r.Create(nil, &fuse.CreateIn{InHeader: header(parent), Flags: syscall.O_RDWR, Mode: 0o644}, name, &out)
	require.Equal(t, fuse.OK, status)
	return ramfs.Handle(out.NodeId), out.Fh
}

func mkdir(t *testing.T, r *FuseRaw, parent ramfs.Handle, name string) ramfs.Handle {
	t.Helper()
	var out fuse.EntryOut
	status := r.Mkdir(nil, &fuse.MkdirIn{InHeader: header(parent), Mode: 0o755}, name, &out)
	require.Equal(t, fuse.OK, status)
	return ramfs.Handle(out.NodeId)
}

func TestFuseRaw_LookupAndGetAttr(t *testing.T) {
	t.Parallel()
	r, _ := newTestRaw(t)
	h, _ := create(t, r, ramfs.RootHandle, "hello.txt")

	var entry fuse.EntryOut
	require.Equal(t, fuse.OK, r.Lookup(nil, &fuse.InHeader{NodeId: fuse.FUSE_ROOT_ID}, "hello.txt", &entry))
	assert.Equal(t, uint64(h), entry.NodeId)
	assert.Equal(t, uint64(h), entry.Attr.Ino)
	assert.Equal(t, uint32(syscall.S_IFREG|0o644), entry.Attr.Mode)

	// Misses are negative entries: OK with a zero NodeId and an entry timeout
	var missing fuse.EntryOut
	assert.Equal(t, fuse.OK, r.Lookup(nil, &fuse.InHeader{NodeId: fuse.FUSE_ROOT_ID}, "nope", &missing))
	assert.Zero(t, missing.NodeId)
	assert.NotZero(t, missing.EntryValid+uint64(missing.EntryValidNsec))

	// Other failures are still errors
	assert.Equal(t, fuse.ENOTDIR, r.Lookup(nil, &fuse.InHeader{NodeId: uint64(h)}, "x", &missing))

	var attr fuse.AttrOut
	require.Equal(t, fuse.OK, r.GetAttr(nil, &fuse.GetAttrIn{InHeader: header(ramfs.RootHandle)}, &attr))
	assert.Equal(t, uint32(syscall.S_IFDIR|config.DefaultRootMode), attr.Mode)
	assert.Equal(t, fuse.ENOENT, r.GetAttr(nil, &fuse.GetAttrIn{InHeader: header(999)}, &attr))
}

func TestFuseRaw_WriteRead(t *testing.T) {
	t.Parallel()
	r, _ := newTestRaw(t)
	h, fh := create(t, r, ramfs.RootHandle, "f")

	n, status := r.Write(nil, &fuse.WriteIn{InHeader: header(h), Fh: fh, Offset: 0}, []byte("hello world"))
	require.Equal(t, fuse.OK, status)
	assert.Equal(t, uint32(11), n)

	res, status := r.Read(nil, &fuse.ReadIn{InHeader: header(h), Fh: fh, Offset: 6, Size: 64}, make([]byte, 64))
	require.Equal(t, fuse.OK, status)
	data, _ := res.Bytes(nil)
	assert.Equal(t, []byte("world"), data)

	// Past EOF reads are empty, not errors
	res, status = r.Read(nil, &fuse.ReadIn{InHeader: header(h), Fh: fh, Offset: 100, Size: 8}, make([]byte, 8))
	require.Equal(t, fuse.OK, status)
	data, _ = res.Bytes(nil)
	assert.Empty(t, data)

	r.Release(nil, &fuse.ReleaseIn{InHeader: header(h), Fh: fh})
	_, ok := r.files.Load(fh)
	assert.False(t, ok)
}

func TestFuseRaw_OpenAppendAndTrunc(t *testing.T) {
	t.Parallel()
	r, fs := newTestRaw(t)
	h, fh := create(t, r, ramfs.RootHandle, "log")
	_, status := r.Write(nil, &fuse.WriteIn{InHeader: header(h), Fh: fh}, []byte("abc"))
	require.Equal(t, fuse.OK, status)

	var open fuse.OpenOut
	require.Equal(t, fuse.OK, r.Open(nil, &fuse.OpenIn{InHeader: header(h), Flags: syscall.O_WRONLY | syscall.O_APPEND}, &open))
	_, status = r.Write(nil, &fuse.WriteIn{InHeader: header(h), Fh: open.Fh, Offset: 0}, []byte("def"))
	require.Equal(t, fuse.OK, status)
	data, err := fs.ReadContent(h, 0, 16)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcdef"), data)

	require.Equal(t, fuse.OK, r.Open(nil, &fuse.OpenIn{InHeader: header(h), Flags: syscall.O_WRONLY | syscall.O_TRUNC}, &open))
	attr, err := fs.GetAttributes(h)
	require.NoError(t, err)
	assert.Zero(t, attr.Size)

	assert.Equal(t, fuse.Status(syscall.EISDIR), r.Open(nil, &fuse.OpenIn{InHeader: header(ramfs.RootHandle)}, &open))
}

func TestFuseRaw_OpenHandleWrapSkipsLiveHandles(t *testing.T) {
	t.Parallel()
	cfg := config.NewDefaultConfig()
	cfg.MaxFH = 2
	fs := filesystem.NewFS(cfg)
	r := NewFuseRaw(fs, &sync.Mutex{}, cfg)

	h, err := fs.CreateFile(ramfs.RootHandle, "f", 0o644)
	require.NoError(t, err)
	_, err = fs.WriteContent(h, 0, []byte("0123"))
	require.NoError(t, err)

	open := func(flags uint32) (uint64, fuse.Status) {
		var out fuse.OpenOut
		status := r.Open(nil, &fuse.OpenIn{InHeader: header(h), Flags: flags}, &out)
		return out.Fh, status
	}

	appendFh, status := open(syscall.O_WRONLY | syscall.O_APPEND)
	require.Equal(t, fuse.OK, status)
	readFh, status := open(syscall.O_RDONLY)
	require.Equal(t, fuse.OK, status)
	assert.NotEqual(t, appendFh, readFh)

	// Both handles up to MaxFH are live
	_, status = open(syscall.O_RDWR)
	assert.Equal(t, fuse.Status(syscall.EMFILE), status)
	assert.Equal(t, 2, r.files.Size())

	// The append handle keeps its flags and writes at EOF
	_, status = r.Write(nil, &fuse.WriteIn{InHeader: header(h), Fh: appendFh, Offset: 0}, []byte("X"))
	require.Equal(t, fuse.OK, status)
	data, err := fs.ReadContent(h, 0, 16)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123X"), data)

	// A released fh is reused after the wrap
	r.Release(nil, &fuse.ReleaseIn{InHeader: header(h), Fh: readFh})
	rdwrFh, status := open(syscall.O_RDWR)
	require.Equal(t, fuse.OK, status)
	assert.Equal(t, readFh, rdwrFh)
	of, ok := r.files.Load(appendFh)
	require.True(t, ok)
	assert.NotZero(t, of.flags&syscall.O_APPEND)
}

func TestFuseRaw_OpenHandleConcurrent(t *testing.T) {
	t.Parallel()
	r, fs := newTestRaw(t)
	h, err := fs.CreateFile(ramfs.RootHandle, "f", 0o644)
	require.NoError(t, err)

	const n = 64
	fhs := make(chan uint64, n)
	var wg sync.WaitGroup
	for range n {
		wg.Go(func() {
			var out fuse.OpenOut
			if r.Open(nil, &fuse.OpenIn{InHeader: header(h), Flags: syscall.O_RDONLY}, &out).Ok() {
				fhs <- out.Fh
			}
		})
	}
	wg.Wait()
	close(fhs)

	seen := map[uint64]bool{}
	for fh := range fhs {
		assert.False(t, seen[fh], "fh %d issued twice", fh)
		seen[fh] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, n, r.files.Size())
}

func TestFuseRaw_SetAttr(t *testing.T) {
	t.Parallel()
	r, _ := newTestRaw(t)
	h, fh := create(t, r, ramfs.RootHandle, "f")
	_, status := r.Write(nil, &fuse.WriteIn{InHeader: header(h), Fh: fh}, []byte("0123456789"))
	require.Equal(t, fuse.OK, status)

	in := &fuse.SetAttrIn{SetAttrInCommon: fuse.SetAttrInCommon{
		InHeader: header(h),
		Valid:    fuse.FATTR_MODE | fuse.FATTR_SIZE,
		Mode:     syscall.S_IFREG | 0o600,
		Size:     4,
	}}
	var out fuse.AttrOut
	require.Equal(t, fuse.OK, r.SetAttr(nil, in, &out))
	assert.Equal(t, uint64(4), out.Size)
	assert.Equal(t, uint32(syscall.S_IFREG|0o600), out.Mode)

	dir := mkdir(t, r, ramfs.RootHandle, "d")
	in = &fuse.SetAttrIn{SetAttrInCommon: fuse.SetAttrInCommon{InHeader: header(dir), Valid: fuse.FATTR_SIZE}}
	assert.Equal(t, fuse.Status(syscall.EISDIR), r.SetAttr(nil, in, &out))
}

func TestFuseRaw_Mknod(t *testing.T) {
	t.Parallel()
	r, _ := newTestRaw(t)

	var out fuse.EntryOut
	assert.Equal(t, fuse.OK, r.Mknod(nil, &fuse.MknodIn{InHeader: header(ramfs.RootHandle), Mode: syscall.S_IFREG | 0o644}, "plain", &out))
	assert.Equal(t, fuse.EPERM, r.Mknod(nil, &fuse.MknodIn{InHeader: header(ramfs.RootHandle), Mode: syscall.S_IFIFO | 0o644}, "fifo", &out))
}

func TestFuseRaw_UnlinkRmdir(t *testing.T) {
	t.Parallel()
	r, fs := newTestRaw(t)
	create(t, r, ramfs.RootHandle, "f")
	d := mkdir(t, r, ramfs.RootHandle, "d")
	create(t, r, d, "inner")

	root := &fuse.InHeader{NodeId: fuse.FUSE_ROOT_ID}
	assert.Equal(t, fuse.Status(syscall.EISDIR), r.Unlink(nil, root, "d"))
	assert.Equal(t, fuse.ENOTDIR, r.Rmdir(nil, root, "f"))
	assert.Equal(t, fuse.Status(syscall.ENOTEMPTY), r.Rmdir(nil, root, "d"))
	assert.Equal(t, fuse.ENOENT, r.Unlink(nil, root, "missing"))

	require.Equal(t, fuse.OK, r.Unlink(nil, &fuse.InHeader{NodeId: uint64(d)}, "inner"))
	require.Equal(t, fuse.OK, r.Rmdir(nil, root, "d"))
	require.Equal(t, fuse.OK, r.Unlink(nil, root, "f"))
	assert.Equal(t, uint64(1), fs.Stats().Nodes)
	require.NoError(t, fs.Verify())
}

func TestFuseRaw_Rename(t *testing.T) {
	t.Parallel()
	r, fs := newTestRaw(t)
	a, _ := create(t, r, ramfs.RootHandle, "a")
	create(t, r, ramfs.RootHandle, "b")
	d := mkdir(t, r, ramfs.RootHandle, "d")

	in := &fuse.RenameIn{InHeader: header(ramfs.RootHandle), Newdir: uint64(ramfs.RootHandle), Flags: unix.RENAME_NOREPLACE}
	assert.Equal(t, fuse.Status(syscall.EEXIST), r.Rename(nil, in, "a", "b"))

	in.Flags = unix.RENAME_EXCHANGE
	assert.Equal(t, fuse.EINVAL, r.Rename(nil, in, "a", "b"))

	in.Flags = 0
	require.Equal(t, fuse.OK, r.Rename(nil, in, "a", "b"))
	h, err := fs.Lookup(ramfs.RootHandle, "b")
	require.NoError(t, err)
	assert.Equal(t, a, h, "destination was replaced by the source node")

	in.Newdir = uint64(d)
	require.Equal(t, fuse.OK, r.Rename(nil, in, "b", "moved"))
	h, err = fs.Resolve("/d/moved")
	require.NoError(t, err)
	assert.Equal(t, a, h)

	// Directory into itself
	assert.Equal(t, fuse.EINVAL, r.Rename(nil, &fuse.RenameIn{InHeader: header(ramfs.RootHandle), Newdir: uint64(d)}, "d", "self"))
	require.NoError(t, fs.Verify())
}

func TestFuseRaw_ReadDir(t *testing.T) {
	t.Parallel()
	r, _ := newTestRaw(t)
	for _, name := range []string{"c", "a", "b"} {
		create(t, r, ramfs.RootHandle, name)
	}

	var open fuse.OpenOut
	require.Equal(t, fuse.OK, r.OpenDir(nil, &fuse.OpenIn{InHeader: header(ramfs.RootHandle)}, &open))

	out := fuse.NewDirEntryList(make([]byte, 4096), 0)
	require.Equal(t, fuse.OK, r.ReadDir(nil, &fuse.ReadIn{InHeader: header(ramfs.RootHandle), Fh: open.Fh}, out))
	assert.Equal(t, uint64(5), out.Offset, "., .. and three children")

	// Resuming at the end yields nothing more
	rest := fuse.NewDirEntryList(make([]byte, 4096), 5)
	require.Equal(t, fuse.OK, r.ReadDir(nil, &fuse.ReadIn{InHeader: header(ramfs.RootHandle), Fh: open.Fh, Offset: 5}, rest))
	assert.Equal(t, uint64(5), rest.Offset)

	// A tiny buffer stops early and the offset says where to resume
	small := fuse.NewDirEntryList(make([]byte, 40), 0)
	require.Equal(t, fuse.OK, r.ReadDir(nil, &fuse.ReadIn{InHeader: header(ramfs.RootHandle), Fh: open.Fh}, small))
	assert.Less(t, small.Offset, uint64(5))

	plus := fuse.NewDirEntryList(make([]byte, 8192), 0)
	require.Equal(t, fuse.OK, r.ReadDirPlus(nil, &fuse.ReadIn{InHeader: header(ramfs.RootHandle), Fh: open.Fh}, plus))
	assert.Equal(t, uint64(5), plus.Offset)

	r.ReleaseDir(&fuse.ReleaseIn{InHeader: header(ramfs.RootHandle), Fh: open.Fh})
	_, ok := r.files.Load(open.Fh)
	assert.False(t, ok)
}

func TestFuseRaw_OpenDirOnFile(t *testing.T) {
	t.Parallel()
	r, _ := newTestRaw(t)
	h, _ := create(t, r, ramfs.RootHandle, "f")

	var open fuse.OpenOut
	assert.Equal(t, fuse.ENOTDIR, r.OpenDir(nil, &fuse.OpenIn{InHeader: header(h)}, &open))
	out := fuse.NewDirEntryList(make([]byte, 4096), 0)
	assert.Equal(t, fuse.ENOTDIR, r.ReadDir(nil, &fuse.ReadIn{InHeader: header(h)}, out))
}

func TestFuseRaw_StatFs(t *testing.T) {
	t.Parallel()
	r, _ := newTestRaw(t)
	h, fh := create(t, r, ramfs.RootHandle, "f")
	_, status := r.Write(nil, &fuse.WriteIn{InHeader: header(h), Fh: fh}, make([]byte, blockSize+1))
	require.Equal(t, fuse.OK, status)

	var out fuse.StatfsOut
	require.Equal(t, fuse.OK, r.StatFs(nil, &fuse.InHeader{}, &out))
	assert.Equal(t, uint32(blockSize), out.Bsize)
	assert.Equal(t, uint64(2+freeBlocks), out.Blocks)
	assert.Equal(t, uint64(2+freeFiles), out.Files)
	assert.Equal(t, uint32(nameMax), out.NameLen)
}

func TestFuseRaw_Xattr(t *testing.T) {
	t.Parallel()
	r, _ := newTestRaw(t)

	_, status := r.GetXAttr(nil, &fuse.InHeader{NodeId: fuse.FUSE_ROOT_ID}, "user.x", nil)
	assert.Equal(t, fuse.ENOSYS, status)
	_, status = r.ListXAttr(nil, &fuse.InHeader{NodeId: fuse.FUSE_ROOT_ID}, nil)
	assert.Equal(t, fuse.ENOSYS, status)
	assert.Equal(t, fuse.ENOSYS, r.SetXAttr(nil, &fuse.SetXAttrIn{InHeader: header(ramfs.RootHandle)}, "user.x", []byte("v")))
	assert.Equal(t, fuse.ENOSYS, r.RemoveXAttr(nil, &fuse.InHeader{NodeId: fuse.FUSE_ROOT_ID}, "user.x"))
}

func TestFuseRaw_ListXAttrBuffer(t *testing.T) {
	t.Parallel()
	op := &mocks.MockOperator{}
	op.On("ListXattr", ramfs.RootHandle).Return([]string{"user.a", "user.bc"}, nil)
	r := NewFuseRaw(op, &sync.Mutex{}, nil)

	size, status := r.ListXAttr(nil, &fuse.InHeader{NodeId: fuse.FUSE_ROOT_ID}, nil)
	assert.Equal(t, fuse.ERANGE, status)
	assert.Equal(t, uint32(15), size)

	dest := make([]byte, size)
	size, status = r.ListXAttr(nil, &fuse.InHeader{NodeId: fuse.FUSE_ROOT_ID}, dest)
	require.Equal(t, fuse.OK, status)
	assert.Equal(t, "user.a\x00user.bc\x00", string(dest[:size]))
	op.AssertExpectations(t)
}

func TestFuseRaw_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want fuse.Status
	}{
		{"not found", ramfs.ErrNotFound, fuse.ENOENT},
		{"wrapped", errors.Join(errors.New("ctx"), ramfs.ErrAlreadyExists), fuse.Status(syscall.EEXIST)},
		{"too large", ramfs.ErrFileTooLarge, fuse.Status(syscall.EFBIG)},
		{"unknown", errors.New("boom"), fuse.EIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			op := &mocks.MockOperator{}
			op.On("CreateDirectory", ramfs.RootHandle, "x", mock.Anything).Return(ramfs.Handle(0), tt.err)
			r := NewFuseRaw(op, &sync.Mutex{}, nil)

			var out fuse.EntryOut
			assert.Equal(t, tt.want, r.Mkdir(nil, &fuse.MkdirIn{InHeader: header(ramfs.RootHandle), Mode: 0o755}, "x", &out))
			op.AssertExpectations(t)
		})
	}
}
