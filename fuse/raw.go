package fuse

import (
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/sys/unix"

	"github.com/brettbedarf/ramfs"
	"github.com/brettbedarf/ramfs/config"
	"github.com/brettbedarf/ramfs/internal/util"
)

const (
	blockSize = 4096
	nameMax   = 255
	// Free space reported by statfs, in blocks. Content is only bounded by memory.
	freeBlocks = 1 << 28
	freeFiles  = 1 << 32
)

// openFile is the state behind one FUSE file handle
type openFile struct {
	handle ramfs.Handle
	flags  uint32
	dir    bool
}

// FuseRaw implements the low-level FUSE wire protocol
// It serves as protocol adapter between the FUSE and core filesystem.
// FUSE node ids are engine handles, and the root node id equals [ramfs.RootHandle].
// See https://www.man7.org/linux//man-pages/man4/fuse.4.html
type FuseRaw struct {
	fuse.RawFileSystem
	fs     ramfs.Operator
	mu     sync.Locker // serializes every call into fs
	cfg    *config.Config
	server *fuse.Server

	owner  fuse.Owner
	lastFh atomic.Uint64
	files  *xsync.Map[uint64, openFile] // open file handles
}

// NewFuseRaw wraps fs. mu must be shared with any other adapter serving the
// same engine.
func NewFuseRaw(fs ramfs.Operator, mu sync.Locker, cfg *config.Config) *FuseRaw {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	return &FuseRaw{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),
		fs:            fs,
		mu:            mu,
		cfg:           cfg,
		owner: fuse.Owner{
			Uid: uint32(os.Getuid()),
			Gid: uint32(os.Getgid()),
		},
		files: xsync.NewMap[uint64, openFile](),
	}
}

func (r *FuseRaw) Init(s *fuse.Server) {
	logger := util.GetLogger("Fuse.Init")
	logger.Debug().Msg("FUSE initialized")
	r.server = s
}

func (r *FuseRaw) OnUnmount() {
	logger := util.GetLogger("Fuse.OnUnmount")
	logger.Info().Int("openHandles", r.files.Size()).Msg("FUSE unmounted")
	r.files.Clear()
}

func (r *FuseRaw) String() string {
	return "FuseRaw"
}

// toStatus maps an engine error onto a FUSE status
func toStatus(err error) fuse.Status {
	return fuse.Status(ramfs.Errno(err))
}

func (r *FuseRaw) attrTimeout() time.Duration {
	return time.Duration(r.cfg.AttrTimeout * float64(time.Second))
}

func (r *FuseRaw) entryTimeout() time.Duration {
	return time.Duration(r.cfg.EntryTimeout * float64(time.Second))
}

// fillAttr copies engine attributes into the wire format
func (r *FuseRaw) fillAttr(a ramfs.Attr, out *fuse.Attr) {
	out.Ino = uint64(a.Handle)
	out.Size = a.Size
	out.Blocks = (a.Size + 511) / 512
	out.Mode = a.Mode
	out.Nlink = a.Nlink
	out.Owner = r.owner
	out.Blksize = blockSize
	out.SetTimes(&a.Mtime, &a.Mtime, &a.Ctime)
}

// fillEntry fills out for handle h. Caller holds mu.
func (r *FuseRaw) fillEntry(h ramfs.Handle, out *fuse.EntryOut) fuse.Status {
	attr, err := r.fs.GetAttributes(h)
	if err != nil {
		return toStatus(err)
	}
	out.NodeId = uint64(h)
	out.Generation = 1
	r.fillAttr(attr, &out.Attr)
	out.SetEntryTimeout(r.entryTimeout())
	out.SetAttrTimeout(r.attrTimeout())
	return fuse.OK
}

// openHandle claims the next free fh for h. Candidates wrap at MaxFH and
// skip handles still open; EMFILE means every fh up to MaxFH is in use.
func (r *FuseRaw) openHandle(h ramfs.Handle, flags uint32, dir bool) (uint64, fuse.Status) {
	of := openFile{handle: h, flags: flags, dir: dir}
	limit := uint64(r.cfg.MaxFH)
	for range limit {
		fh := r.nextFh(limit)
		if _, loaded := r.files.LoadOrStore(fh, of); !loaded {
			return fh, fuse.OK
		}
	}
	return 0, fuse.Status(syscall.EMFILE)
}

// nextFh advances lastFh in 1..limit
func (r *FuseRaw) nextFh(limit uint64) uint64 {
	for {
		cur := r.lastFh.Load()
		next := cur + 1
		if next > limit {
			next = 1
		}
		if r.lastFh.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// Access called when the kernel wants to know if the user has permission to access the node.
// If the 'default_permissions' mount option is given, this method is not called.
func (r *FuseRaw) Access(cancel <-chan struct{}, input *fuse.AccessIn) fuse.Status {
	logger := util.GetLogger("Fuse.Access")
	logger.Trace().Uint64("node", input.NodeId).Uint32("mask", input.Mask).Msg("Access called")

	r.mu.Lock()
	defer r.mu.Unlock()
	// Permission bits are enforced by the kernel through default_permissions
	_, err := r.fs.GetAttributes(ramfs.Handle(input.NodeId))
	return toStatus(err)
}

// Lookup is called by the kernel when the VFS wants to know
// about a file inside a directory. Many lookup calls can
// occur in parallel, but only one call happens for each (dir,
// name) pair.
func (r *FuseRaw) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	logger := util.GetLogger("Fuse.Lookup")
	logger.Trace().Uint64("parent", header.NodeId).Str("name", name).Msg("Lookup called")

	r.mu.Lock()
	defer r.mu.Unlock()
	h, err := r.fs.Lookup(ramfs.Handle(header.NodeId), name)
	if err != nil {
		// A zero NodeId with OK is a negative entry the kernel caches for
		// the entry timeout
		if ramfs.Errno(err) == syscall.ENOENT {
			out.NodeId = 0
			out.SetEntryTimeout(r.entryTimeout())
			return fuse.OK
		}
		return toStatus(err)
	}
	return r.fillEntry(h, out)
}

// Forget is called when the kernel discards entries from its
// dentry cache. Handles stay valid until their node is removed, so
// there is no lookup count to maintain.
func (r *FuseRaw) Forget(nodeid, nlookup uint64) {}

func (r *FuseRaw) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	logger := util.GetLogger("Fuse.GetAttr")
	logger.Trace().Uint64("node", input.NodeId).Msg("GetAttr called")

	r.mu.Lock()
	defer r.mu.Unlock()
	attr, err := r.fs.GetAttributes(ramfs.Handle(input.NodeId))
	if err != nil {
		return toStatus(err)
	}
	r.fillAttr(attr, &out.Attr)
	out.SetTimeout(r.attrTimeout())
	return fuse.OK
}

// SetAttr applies size and permission changes. Ownership and timestamp
// changes are accepted and ignored.
func (r *FuseRaw) SetAttr(cancel <-chan struct{}, input *fuse.SetAttrIn, out *fuse.AttrOut) fuse.Status {
	logger := util.GetLogger("Fuse.SetAttr")
	logger.Trace().Uint64("node", input.NodeId).Uint32("valid", input.Valid).Msg("SetAttr called")

	r.mu.Lock()
	defer r.mu.Unlock()
	h := ramfs.Handle(input.NodeId)
	if mode, ok := input.GetMode(); ok {
		if err := r.fs.SetMode(h, mode&ramfs.PermMask); err != nil {
			return toStatus(err)
		}
	}
	if size, ok := input.GetSize(); ok {
		if err := r.fs.Truncate(h, int64(size)); err != nil {
			return toStatus(err)
		}
	}
	attr, err := r.fs.GetAttributes(h)
	if err != nil {
		return toStatus(err)
	}
	r.fillAttr(attr, &out.Attr)
	out.SetTimeout(r.attrTimeout())
	return fuse.OK
}

func (r *FuseRaw) Mkdir(cancel <-chan struct{}, input *fuse.MkdirIn, name string, out *fuse.EntryOut) fuse.Status {
	logger := util.GetLogger("Fuse.Mkdir")
	logger.Debug().Uint64("parent", input.NodeId).Str("name", name).Msgf("Mkdir %#o", input.Mode&ramfs.PermMask)

	r.mu.Lock()
	defer r.mu.Unlock()
	h, err := r.fs.CreateDirectory(ramfs.Handle(input.NodeId), name, input.Mode&ramfs.PermMask)
	if err != nil {
		return toStatus(err)
	}
	return r.fillEntry(h, out)
}

// Mknod only supports regular files
func (r *FuseRaw) Mknod(cancel <-chan struct{}, input *fuse.MknodIn, name string, out *fuse.EntryOut) fuse.Status {
	logger := util.GetLogger("Fuse.Mknod")
	logger.Debug().Uint64("parent", input.NodeId).Str("name", name).Msgf("Mknod %#o", input.Mode)

	if input.Mode&syscall.S_IFMT != syscall.S_IFREG {
		return fuse.EPERM
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	h, err := r.fs.CreateFile(ramfs.Handle(input.NodeId), name, input.Mode&ramfs.PermMask)
	if err != nil {
		return toStatus(err)
	}
	return r.fillEntry(h, out)
}

func (r *FuseRaw) Create(cancel <-chan struct{}, input *fuse.CreateIn, name string, out *fuse.CreateOut) fuse.Status {
	logger := util.GetLogger("Fuse.Create")
	logger.Debug().Uint64("parent", input.NodeId).Str("name", name).Msgf("Create %#o", input.Mode&ramfs.PermMask)

	r.mu.Lock()
	defer r.mu.Unlock()
	h, err := r.fs.CreateFile(ramfs.Handle(input.NodeId), name, input.Mode&ramfs.PermMask)
	if err != nil {
		return toStatus(err)
	}
	if status := r.fillEntry(h, &out.EntryOut); !status.Ok() {
		return status
	}
	fh, status := r.openHandle(h, input.Flags, false)
	if !status.Ok() {
		return status
	}
	out.Fh = fh
	if r.cfg.DirectIO {
		out.OpenFlags |= fuse.FOPEN_DIRECT_IO
	}
	return fuse.OK
}

// Unlink removes a file. Directories must go through Rmdir.
func (r *FuseRaw) Unlink(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	logger := util.GetLogger("Fuse.Unlink")
	logger.Debug().Uint64("parent", header.NodeId).Str("name", name).Msg("Unlink called")

	r.mu.Lock()
	defer r.mu.Unlock()
	return toStatus(ramfs.Unlink(r.fs, ramfs.Handle(header.NodeId), name, ramfs.KindFile))
}

// Rmdir removes an empty directory
func (r *FuseRaw) Rmdir(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	logger := util.GetLogger("Fuse.Rmdir")
	logger.Debug().Uint64("parent", header.NodeId).Str("name", name).Msg("Rmdir called")

	r.mu.Lock()
	defer r.mu.Unlock()
	return toStatus(ramfs.Unlink(r.fs, ramfs.Handle(header.NodeId), name, ramfs.KindDir))
}

// Rename applies the rename(2) rules, then moves the node. RENAME_EXCHANGE
// is refused with EINVAL.
func (r *FuseRaw) Rename(cancel <-chan struct{}, input *fuse.RenameIn, oldName string, newName string) fuse.Status {
	logger := util.GetLogger("Fuse.Rename")
	logger.Debug().
		Uint64("from", input.NodeId).
		Str("oldName", oldName).
		Uint64("to", input.Newdir).
		Str("newName", newName).
		Uint32("flags", input.Flags).
		Msg("Rename called")

	var flags ramfs.RenameFlags
	if input.Flags&unix.RENAME_NOREPLACE != 0 {
		flags |= ramfs.RenameNoReplace
	}
	if input.Flags&unix.RENAME_EXCHANGE != 0 {
		flags |= ramfs.RenameExchange
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return toStatus(ramfs.Rename(r.fs, ramfs.Handle(input.NodeId), oldName, ramfs.Handle(input.Newdir), newName, flags))
}

func (r *FuseRaw) Open(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	logger := util.GetLogger("Fuse.Open")
	logger.Trace().Uint64("node", input.NodeId).Uint32("flags", input.Flags).Msg("Open called")

	r.mu.Lock()
	defer r.mu.Unlock()
	h := ramfs.Handle(input.NodeId)
	attr, err := r.fs.GetAttributes(h)
	if err != nil {
		return toStatus(err)
	}
	if attr.IsDir() {
		return fuse.Status(syscall.EISDIR)
	}
	if input.Flags&syscall.O_TRUNC != 0 && input.Flags&syscall.O_ACCMODE != syscall.O_RDONLY {
		if err := r.fs.Truncate(h, 0); err != nil {
			return toStatus(err)
		}
	}
	fh, status := r.openHandle(h, input.Flags, false)
	if !status.Ok() {
		return status
	}
	out.Fh = fh
	if r.cfg.DirectIO {
		out.OpenFlags |= fuse.FOPEN_DIRECT_IO
	}
	return fuse.OK
}

func (r *FuseRaw) Read(cancel <-chan struct{}, input *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	logger := util.GetLogger("Fuse.Read")
	logger.Trace().Uint64("node", input.NodeId).Uint64("offset", input.Offset).Uint32("size", input.Size).Msg("Read called")

	r.mu.Lock()
	defer r.mu.Unlock()
	data, err := r.fs.ReadContent(ramfs.Handle(input.NodeId), int64(input.Offset), len(buf))
	if err != nil {
		return nil, toStatus(err)
	}
	return fuse.ReadResultData(data), fuse.OK
}

func (r *FuseRaw) Write(cancel <-chan struct{}, input *fuse.WriteIn, data []byte) (uint32, fuse.Status) {
	logger := util.GetLogger("Fuse.Write")
	logger.Trace().Uint64("node", input.NodeId).Uint64("offset", input.Offset).Int("size", len(data)).Msg("Write called")

	r.mu.Lock()
	defer r.mu.Unlock()
	h := ramfs.Handle(input.NodeId)
	offset := int64(input.Offset)
	if of, ok := r.files.Load(input.Fh); ok && of.flags&syscall.O_APPEND != 0 {
		attr, err := r.fs.GetAttributes(h)
		if err != nil {
			return 0, toStatus(err)
		}
		offset = int64(attr.Size)
	}
	n, err := r.fs.WriteContent(h, offset, data)
	if err != nil {
		return 0, toStatus(err)
	}
	return uint32(n), fuse.OK
}

// Content lives in memory; there is nothing to flush
func (r *FuseRaw) Flush(cancel <-chan struct{}, input *fuse.FlushIn) fuse.Status {
	return fuse.OK
}

func (r *FuseRaw) Fsync(cancel <-chan struct{}, input *fuse.FsyncIn) fuse.Status {
	return fuse.OK
}

func (r *FuseRaw) Release(cancel <-chan struct{}, input *fuse.ReleaseIn) {
	r.files.Delete(input.Fh)
}

func (r *FuseRaw) OpenDir(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	logger := util.GetLogger("Fuse.OpenDir")
	logger.Trace().Uint64("node", input.NodeId).Msg("OpenDir called")

	r.mu.Lock()
	defer r.mu.Unlock()
	h := ramfs.Handle(input.NodeId)
	attr, err := r.fs.GetAttributes(h)
	if err != nil {
		return toStatus(err)
	}
	if !attr.IsDir() {
		return fuse.ENOTDIR
	}
	fh, status := r.openHandle(h, input.Flags, true)
	if !status.Ok() {
		return status
	}
	out.Fh = fh
	return fuse.OK
}

// dirStream returns ".", ".." and the children of h. Caller holds mu.
func (r *FuseRaw) dirStream(h ramfs.Handle) ([]ramfs.DirEntry, error) {
	children, err := r.fs.ListChildren(h)
	if err != nil {
		return nil, err
	}
	parent, err := r.fs.Lookup(h, "..")
	if err != nil {
		return nil, err
	}
	entries := make([]ramfs.DirEntry, 0, len(children)+2)
	entries = append(entries,
		ramfs.DirEntry{Name: ".", Handle: h, Kind: ramfs.KindDir},
		ramfs.DirEntry{Name: "..", Handle: parent, Kind: ramfs.KindDir},
	)
	return append(entries, children...), nil
}

// ReadDir lists entries starting at input.Offset. Each entry's offset is its
// position plus one, so the kernel resumes right after the last entry it got.
func (r *FuseRaw) ReadDir(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	logger := util.GetLogger("Fuse.ReadDir")
	logger.Trace().Uint64("node", input.NodeId).Uint64("offset", input.Offset).Msg("ReadDir called")

	r.mu.Lock()
	defer r.mu.Unlock()
	entries, err := r.dirStream(ramfs.Handle(input.NodeId))
	if err != nil {
		return toStatus(err)
	}
	for i := int(input.Offset); i < len(entries); i++ {
		e := entries[i]
		if !out.AddDirEntry(fuse.DirEntry{
			Name: e.Name,
			Mode: e.Kind.TypeBits(),
			Ino:  uint64(e.Handle),
			Off:  uint64(i + 1),
		}) {
			// Buffer is full; the kernel will call again with a new offset
			break
		}
	}
	return fuse.OK
}

// ReadDirPlus is ReadDir with a lookup result for every real child
func (r *FuseRaw) ReadDirPlus(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	logger := util.GetLogger("Fuse.ReadDirPlus")
	logger.Trace().Uint64("node", input.NodeId).Uint64("offset", input.Offset).Msg("ReadDirPlus called")

	r.mu.Lock()
	defer r.mu.Unlock()
	entries, err := r.dirStream(ramfs.Handle(input.NodeId))
	if err != nil {
		return toStatus(err)
	}
	for i := int(input.Offset); i < len(entries); i++ {
		e := entries[i]
		entryOut := out.AddDirLookupEntry(fuse.DirEntry{
			Name: e.Name,
			Mode: e.Kind.TypeBits(),
			Ino:  uint64(e.Handle),
			Off:  uint64(i + 1),
		})
		if entryOut == nil {
			break
		}
		// "." and ".." keep a zero entry so the kernel takes no reference
		if e.Name == "." || e.Name == ".." {
			continue
		}
		if status := r.fillEntry(e.Handle, entryOut); !status.Ok() {
			return status
		}
	}
	return fuse.OK
}

func (r *FuseRaw) ReleaseDir(input *fuse.ReleaseIn) {
	r.files.Delete(input.Fh)
}

func (r *FuseRaw) FsyncDir(cancel <-chan struct{}, input *fuse.FsyncIn) fuse.Status {
	return fuse.OK
}

func (r *FuseRaw) StatFs(cancel <-chan struct{}, input *fuse.InHeader, out *fuse.StatfsOut) fuse.Status {
	r.mu.Lock()
	stats := r.fs.Stats()
	r.mu.Unlock()

	used := (stats.ContentBytes + blockSize - 1) / blockSize
	out.Bsize = blockSize
	out.Frsize = blockSize
	out.Blocks = used + freeBlocks
	out.Bfree = freeBlocks
	out.Bavail = freeBlocks
	out.Files = stats.Nodes + freeFiles
	out.Ffree = freeFiles
	out.NameLen = nameMax
	return fuse.OK
}

func (r *FuseRaw) GetXAttr(cancel <-chan struct{}, header *fuse.InHeader, attr string, dest []byte) (uint32, fuse.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, err := r.fs.GetXattr(ramfs.Handle(header.NodeId), attr)
	if err != nil {
		return 0, toStatus(err)
	}
	if len(dest) < len(data) {
		return uint32(len(data)), fuse.ERANGE
	}
	return uint32(copy(dest, data)), fuse.OK
}

func (r *FuseRaw) ListXAttr(cancel <-chan struct{}, header *fuse.InHeader, dest []byte) (uint32, fuse.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	names, err := r.fs.ListXattr(ramfs.Handle(header.NodeId))
	if err != nil {
		return 0, toStatus(err)
	}
	var size int
	for _, n := range names {
		size += len(n) + 1
	}
	if len(dest) < size {
		return uint32(size), fuse.ERANGE
	}
	off := 0
	for _, n := range names {
		off += copy(dest[off:], n)
		dest[off] = 0
		off++
	}
	return uint32(size), fuse.OK
}

func (r *FuseRaw) SetXAttr(cancel <-chan struct{}, input *fuse.SetXAttrIn, attr string, data []byte) fuse.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return toStatus(r.fs.SetXattr(ramfs.Handle(input.NodeId), attr, data))
}

func (r *FuseRaw) RemoveXAttr(cancel <-chan struct{}, header *fuse.InHeader, attr string) fuse.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return toStatus(r.fs.RemoveXattr(ramfs.Handle(header.NodeId), attr))
}
