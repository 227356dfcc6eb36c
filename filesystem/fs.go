package filesystem

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brettbedarf/ramfs"
	"github.com/brettbedarf/ramfs/config"
	"github.com/brettbedarf/ramfs/internal/util"
)

// MaxFileSize bounds the end offset of any write or truncate
const MaxFileSize int64 = 1 << 40

// FileSystem is the in-memory engine: a registry of nodes rooted at
// [ramfs.RootHandle]. It implements [ramfs.Operator].
//
// Every mutating operation validates all of its inputs before changing
// anything, so a returned error always means the tree is unchanged.
//
// FileSystem is not safe for concurrent use.
type FileSystem struct {
	id       string
	cfg      *config.Config
	registry *Registry
	root     *Node
}

var _ ramfs.Operator = (*FileSystem)(nil)

// NewFS returns an engine holding only the root directory. A nil cfg uses
// [config.NewDefaultConfig].
func NewFS(cfg *config.Config) *FileSystem {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	registry := NewRegistry()
	root := registry.Allocate(ramfs.KindDir, "", cfg.RootMode)
	if root.handle != ramfs.RootHandle {
		panic(fmt.Sprintf("ramfs: root allocated handle %d", root.handle))
	}
	if cfg.RootMode == 0 {
		root.mode = ramfs.KindDir.TypeBits()
	}

	fs := &FileSystem{
		id:       uuid.NewString(),
		cfg:      cfg,
		registry: registry,
		root:     root,
	}
	logger := util.GetLogger("FS")
	logger.Debug().Str("id", fs.id).Msgf("Created filesystem with root mode %#o", root.mode&ramfs.PermMask)
	return fs
}

// ID identifies this engine instance in logs
func (fs *FileSystem) ID() string {
	return fs.id
}

// Root returns the root node
func (fs *FileSystem) Root() *Node {
	return fs.root
}

// Node returns the live node for h
func (fs *FileSystem) Node(h ramfs.Handle) (*Node, bool) {
	return fs.registry.Find(h)
}

func (fs *FileSystem) find(h ramfs.Handle) (*Node, error) {
	n, ok := fs.registry.Find(h)
	if !ok {
		return nil, fmt.Errorf("%w: handle %d", ramfs.ErrNotFound, h)
	}
	return n, nil
}

// mustFind is used for handles read out of a directory. A miss means the
// registry and the tree disagree, which is unrecoverable.
func (fs *FileSystem) mustFind(h ramfs.Handle) *Node {
	n, ok := fs.registry.Find(h)
	if !ok {
		panic(fmt.Sprintf("ramfs: child handle %d missing from registry", h))
	}
	return n
}

// parentDir returns the directory a name-addressed operation acts within.
// A handle that is missing or names a file both yield ErrNotFound.
func (fs *FileSystem) parentDir(h ramfs.Handle) (*Node, *Directory, error) {
	n, err := fs.find(h)
	if err != nil {
		return nil, nil, err
	}
	dir, ok := n.Dir()
	if !ok {
		return nil, nil, fmt.Errorf("%w: parent %d is not a directory", ramfs.ErrNotFound, h)
	}
	return n, dir, nil
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsRune(name, '/') {
		return fmt.Errorf("%w: %q", ramfs.ErrInvalidName, name)
	}
	return nil
}

// Lookup resolves one name within parent. "." and ".." are understood;
// the root is its own parent.
func (fs *FileSystem) Lookup(parent ramfs.Handle, name string) (ramfs.Handle, error) {
	p, err := fs.find(parent)
	if err != nil {
		return 0, err
	}
	dir, ok := p.Dir()
	if !ok {
		return 0, fmt.Errorf("%w: handle %d", ramfs.ErrNotADirectory, parent)
	}
	switch name {
	case ".":
		return p.handle, nil
	case "..":
		if p.parent == 0 {
			return p.handle, nil
		}
		return p.parent, nil
	}
	h, ok := dir.Lookup(name)
	if !ok {
		return 0, fmt.Errorf("%w: %q in %d", ramfs.ErrNotFound, name, parent)
	}
	return h, nil
}

func (fs *FileSystem) GetAttributes(h ramfs.Handle) (ramfs.Attr, error) {
	n, err := fs.find(h)
	if err != nil {
		return ramfs.Attr{}, err
	}
	return n.Attr(), nil
}

// ListChildren returns the entries of directory h sorted by name
func (fs *FileSystem) ListChildren(h ramfs.Handle) ([]ramfs.DirEntry, error) {
	n, err := fs.find(h)
	if err != nil {
		return nil, err
	}
	dir, ok := n.Dir()
	if !ok {
		return nil, fmt.Errorf("%w: handle %d", ramfs.ErrNotADirectory, h)
	}
	names := dir.Names()
	entries := make([]ramfs.DirEntry, 0, len(names))
	for _, name := range names {
		ch, _ := dir.Lookup(name)
		child := fs.mustFind(ch)
		entries = append(entries, ramfs.DirEntry{Name: name, Handle: ch, Kind: child.Kind()})
	}
	return entries, nil
}

// CreateFile creates an empty file named name under parent. A zero mode
// selects [ramfs.DefaultFilePerm].
func (fs *FileSystem) CreateFile(parent ramfs.Handle, name string, mode uint32) (ramfs.Handle, error) {
	return fs.create("FS.CreateFile", parent, name, ramfs.KindFile, mode)
}

// CreateDirectory creates an empty directory named name under parent. A zero
// mode selects [ramfs.DefaultDirPerm].
func (fs *FileSystem) CreateDirectory(parent ramfs.Handle, name string, mode uint32) (ramfs.Handle, error) {
	return fs.create("FS.CreateDirectory", parent, name, ramfs.KindDir, mode)
}

func (fs *FileSystem) create(component string, parent ramfs.Handle, name string, kind ramfs.Kind, mode uint32) (ramfs.Handle, error) {
	logger := util.GetLogger(component)

	if err := validateName(name); err != nil {
		return 0, err
	}
	p, dir, err := fs.parentDir(parent)
	if err != nil {
		return 0, err
	}
	if _, exists := dir.Lookup(name); exists {
		return 0, fmt.Errorf("%w: %q in %d", ramfs.ErrAlreadyExists, name, parent)
	}

	n := fs.registry.Allocate(kind, name, mode)
	n.parent = p.handle
	dir.InsertChild(name, n.handle)
	p.touch(n.ctime)

	logger.Trace().Uint64("parent", uint64(parent)).Str("name", name).Uint64("handle", uint64(n.handle)).Msgf("Created %s", kind)
	return n.handle, nil
}

// Remove unlinks name from parent and erases it from the registry. Removing
// a directory erases its whole subtree.
func (fs *FileSystem) Remove(parent ramfs.Handle, name string) error {
	logger := util.GetLogger("FS.Remove")

	p, dir, err := fs.parentDir(parent)
	if err != nil {
		return err
	}
	h, ok := dir.RemoveChild(name)
	if !ok {
		return fmt.Errorf("%w: %q in %d", ramfs.ErrNotFound, name, parent)
	}
	erased := fs.erase(h)
	p.touch(time.Now())

	logger.Trace().Uint64("parent", uint64(parent)).Str("name", name).Int("erased", erased).Msg("Removed node")
	return nil
}

// erase unregisters h and everything below it, returning the node count.
// h must already be detached from its parent.
func (fs *FileSystem) erase(h ramfs.Handle) int {
	n := fs.mustFind(h)
	count := 1
	if dir, ok := n.Dir(); ok {
		for _, ch := range dir.children {
			count += fs.erase(ch)
		}
	}
	fs.registry.Erase(h)
	return count
}

// Rename changes the name of a child within the same directory. An existing
// sibling named newName is replaced, exactly as with [FileSystem.Move].
func (fs *FileSystem) Rename(parent ramfs.Handle, name, newName string) error {
	return fs.move("FS.Rename", parent, name, parent, newName)
}

// Move detaches name from srcParent and attaches it to dstParent as newName.
//
// If dstParent already has a child called newName, that child (and its
// subtree, for a directory) is erased and replaced. This happens regardless
// of kind; callers needing POSIX rename checks apply them first.
//
// Moving a directory into itself or one of its descendants fails with
// [ramfs.ErrInvalidMove].
func (fs *FileSystem) Move(srcParent ramfs.Handle, name string, dstParent ramfs.Handle, newName string) error {
	return fs.move("FS.Move", srcParent, name, dstParent, newName)
}

func (fs *FileSystem) move(component string, srcParent ramfs.Handle, name string, dstParent ramfs.Handle, newName string) error {
	logger := util.GetLogger(component)

	if err := validateName(newName); err != nil {
		return err
	}
	src, srcDir, err := fs.parentDir(srcParent)
	if err != nil {
		return err
	}
	h, ok := srcDir.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q in %d", ramfs.ErrNotFound, name, srcParent)
	}
	dst, dstDir, err := fs.parentDir(dstParent)
	if err != nil {
		return err
	}
	node := fs.mustFind(h)
	if node.Kind() == ramfs.KindDir && fs.isAncestor(h, dstParent) {
		return fmt.Errorf("%w: %d into %d", ramfs.ErrInvalidMove, h, dstParent)
	}
	if srcParent == dstParent && name == newName {
		return nil
	}

	// Nothing below can fail
	srcDir.RemoveChild(name)
	evicted := 0
	if victim, ok := dstDir.RemoveChild(newName); ok {
		evicted = fs.erase(victim)
	}
	now := time.Now()
	node.name = newName
	node.parent = dst.handle
	node.ctime = now
	dstDir.InsertChild(newName, h)
	src.touch(now)
	dst.touch(now)

	logger.Trace().
		Uint64("handle", uint64(h)).
		Uint64("from", uint64(srcParent)).
		Uint64("to", uint64(dstParent)).
		Str("name", newName).
		Int("evicted", evicted).
		Msg("Moved node")
	return nil
}

// isAncestor reports whether anc is h or lies on the path from h to the root
func (fs *FileSystem) isAncestor(anc, h ramfs.Handle) bool {
	for h != 0 {
		if h == anc {
			return true
		}
		h = fs.mustFind(h).parent
	}
	return false
}

func (fs *FileSystem) file(h ramfs.Handle) (*Node, *File, error) {
	n, err := fs.find(h)
	if err != nil {
		return nil, nil, err
	}
	f, ok := n.File()
	if !ok {
		return nil, nil, fmt.Errorf("%w: handle %d", ramfs.ErrIsDirectory, h)
	}
	return n, f, nil
}

// ReadContent returns up to maxLength bytes of file h starting at offset.
// Reads at or past the end return an empty slice.
func (fs *FileSystem) ReadContent(h ramfs.Handle, offset int64, maxLength int) ([]byte, error) {
	_, f, err := fs.file(h)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: %d", ramfs.ErrInvalidOffset, offset)
	}
	return f.Read(offset, maxLength), nil
}

// WriteContent writes data into file h at offset, growing the file as
// needed. Skipped-over bytes read back as zeros.
func (fs *FileSystem) WriteContent(h ramfs.Handle, offset int64, data []byte) (int, error) {
	n, f, err := fs.file(h)
	if err != nil {
		return 0, err
	}
	if offset < 0 {
		return 0, fmt.Errorf("%w: %d", ramfs.ErrInvalidOffset, offset)
	}
	if offset > MaxFileSize-int64(len(data)) {
		return 0, fmt.Errorf("%w: write ending past %d", ramfs.ErrFileTooLarge, MaxFileSize)
	}
	written := f.Write(offset, data)
	n.touch(time.Now())
	return written, nil
}

// Truncate sets the size of file h, zero-filling when it grows
func (fs *FileSystem) Truncate(h ramfs.Handle, size int64) error {
	n, f, err := fs.file(h)
	if err != nil {
		return err
	}
	if size < 0 {
		return fmt.Errorf("%w: size %d", ramfs.ErrInvalidOffset, size)
	}
	if size > MaxFileSize {
		return fmt.Errorf("%w: size %d", ramfs.ErrFileTooLarge, size)
	}
	f.Truncate(size)
	n.touch(time.Now())
	return nil
}

// SetMode replaces the permission bits of h, keeping its type bits
func (fs *FileSystem) SetMode(h ramfs.Handle, perm uint32) error {
	n, err := fs.find(h)
	if err != nil {
		return err
	}
	n.mode = n.Kind().TypeBits() | (perm & ramfs.PermMask)
	n.ctime = time.Now()
	return nil
}

// Extended attributes are not supported

func (fs *FileSystem) GetXattr(h ramfs.Handle, name string) ([]byte, error) {
	return nil, fmt.Errorf("%w: getxattr", ramfs.ErrNotImplemented)
}

func (fs *FileSystem) ListXattr(h ramfs.Handle) ([]string, error) {
	return nil, fmt.Errorf("%w: listxattr", ramfs.ErrNotImplemented)
}

func (fs *FileSystem) SetXattr(h ramfs.Handle, name string, value []byte) error {
	return fmt.Errorf("%w: setxattr", ramfs.ErrNotImplemented)
}

func (fs *FileSystem) RemoveXattr(h ramfs.Handle, name string) error {
	return fmt.Errorf("%w: removexattr", ramfs.ErrNotImplemented)
}

// Stats counts live nodes and bytes of file content
func (fs *FileSystem) Stats() ramfs.Stats {
	stats := ramfs.Stats{Nodes: uint64(fs.registry.Len())}
	for _, n := range fs.registry.nodes {
		if f, ok := n.File(); ok {
			stats.ContentBytes += uint64(f.Size())
		}
	}
	return stats
}
