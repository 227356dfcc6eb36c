package filesystem

import (
	"errors"
	iofs "io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/brettbedarf/ramfs"
	"github.com/brettbedarf/ramfs/config"
	"github.com/brettbedarf/ramfs/internal/util"
)

func createTestConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.LogLvl = util.InfoLevel
	return cfg
}

func newTestFS(t *testing.T) *FileSystem {
	t.Helper()
	fs := NewFS(createTestConfig())
	require.NoError(t, fs.Verify())
	return fs
}

// mustVerify asserts the registry and tree still agree after a mutation
func mustVerify(t *testing.T, fs *FileSystem) {
	t.Helper()
	require.NoError(t, fs.Verify())
}

func TestNewFS_Root(t *testing.T) {
	fs := newTestFS(t)

	attr, err := fs.GetAttributes(ramfs.RootHandle)
	require.NoError(t, err)
	assert.Equal(t, ramfs.KindDir, attr.Kind)
	assert.Equal(t, uint32(unix.S_IFDIR|config.DefaultRootMode), attr.Mode)

	entries, err := fs.ListChildren(ramfs.RootHandle)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NotEmpty(t, fs.ID())
}

func TestNewFS_Independent(t *testing.T) {
	a := newTestFS(t)
	b := newTestFS(t)

	_, err := a.CreateFile(ramfs.RootHandle, "only-in-a", 0)
	require.NoError(t, err)

	_, err = b.Resolve("/only-in-a")
	assert.ErrorIs(t, err, ramfs.ErrNotFound)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestScenario_CreateWriteRename(t *testing.T) {
	fs := newTestFS(t)

	h1, err := fs.CreateFile(ramfs.RootHandle, "a.txt", 0)
	require.NoError(t, err)

	n, err := fs.WriteContent(h1, 0, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	data, err := fs.ReadContent(h1, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	require.NoError(t, fs.Rename(ramfs.RootHandle, "a.txt", "b.txt"))
	mustVerify(t, fs)

	h, err := fs.Resolve("/b.txt")
	require.NoError(t, err)
	assert.Equal(t, h1, h)

	_, err = fs.Resolve("/a.txt")
	assert.ErrorIs(t, err, ramfs.ErrNotFound)
}

func TestScenario_MoveMissingSource(t *testing.T) {
	fs := newTestFS(t)

	h2, err := fs.CreateDirectory(ramfs.RootHandle, "d", 0)
	require.NoError(t, err)
	_, err = fs.CreateFile(h2, "x", 0)
	require.NoError(t, err)

	err = fs.Move(ramfs.RootHandle, "missing", h2, "y")
	assert.ErrorIs(t, err, ramfs.ErrNotFound)

	entries, err := fs.ListChildren(h2)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "x", entries[0].Name)
	mustVerify(t, fs)
}

func TestScenario_DuplicateCreate(t *testing.T) {
	fs := newTestFS(t)

	h4, err := fs.CreateFile(ramfs.RootHandle, "a", 0)
	require.NoError(t, err)

	_, err = fs.CreateFile(ramfs.RootHandle, "a", 0)
	assert.ErrorIs(t, err, ramfs.ErrAlreadyExists)
	assert.ErrorIs(t, err, iofs.ErrExist)

	_, err = fs.CreateDirectory(ramfs.RootHandle, "a", 0)
	assert.ErrorIs(t, err, ramfs.ErrAlreadyExists)

	h, err := fs.Resolve("/a")
	require.NoError(t, err)
	assert.Equal(t, h4, h)
	mustVerify(t, fs)
}

func TestCreate_Errors(t *testing.T) {
	fs := newTestFS(t)
	file, err := fs.CreateFile(ramfs.RootHandle, "f", 0)
	require.NoError(t, err)

	tests := []struct {
		name    string
		parent  ramfs.Handle
		child   string
		wantErr error
	}{
		{"missing parent", 999, "x", ramfs.ErrNotFound},
		{"parent is a file", file, "x", ramfs.ErrNotFound},
		{"empty name", ramfs.RootHandle, "", ramfs.ErrInvalidName},
		{"dot", ramfs.RootHandle, ".", ramfs.ErrInvalidName},
		{"dotdot", ramfs.RootHandle, "..", ramfs.ErrInvalidName},
		{"slash", ramfs.RootHandle, "a/b", ramfs.ErrInvalidName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := fs.registry.Len()
			_, err := fs.CreateFile(tt.parent, tt.child, 0)
			assert.ErrorIs(t, err, tt.wantErr)
			_, err = fs.CreateDirectory(tt.parent, tt.child, 0)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, before, fs.registry.Len())
			mustVerify(t, fs)
		})
	}
}

func TestCreate_HandlesUniqueAcrossRemoval(t *testing.T) {
	fs := newTestFS(t)
	seen := map[ramfs.Handle]bool{ramfs.RootHandle: true}

	for range 5 {
		h, err := fs.CreateFile(ramfs.RootHandle, "tmp", 0)
		require.NoError(t, err)
		assert.False(t, seen[h], "handle %d reused", h)
		seen[h] = true

		require.NoError(t, fs.Remove(ramfs.RootHandle, "tmp"))
		_, err = fs.GetAttributes(h)
		assert.ErrorIs(t, err, ramfs.ErrNotFound)
	}
	mustVerify(t, fs)
}

func TestLookup(t *testing.T) {
	fs := newTestFS(t)
	d, err := fs.CreateDirectory(ramfs.RootHandle, "d", 0)
	require.NoError(t, err)
	f, err := fs.CreateFile(d, "f", 0)
	require.NoError(t, err)

	h, err := fs.Lookup(d, "f")
	require.NoError(t, err)
	assert.Equal(t, f, h)

	h, err = fs.Lookup(d, ".")
	require.NoError(t, err)
	assert.Equal(t, d, h)

	h, err = fs.Lookup(d, "..")
	require.NoError(t, err)
	assert.Equal(t, ramfs.RootHandle, h)

	h, err = fs.Lookup(ramfs.RootHandle, "..")
	require.NoError(t, err)
	assert.Equal(t, ramfs.RootHandle, h)

	_, err = fs.Lookup(d, "nope")
	assert.ErrorIs(t, err, ramfs.ErrNotFound)
	assert.ErrorIs(t, err, iofs.ErrNotExist)

	_, err = fs.Lookup(f, "x")
	assert.ErrorIs(t, err, ramfs.ErrNotADirectory)

	_, err = fs.Lookup(999, "x")
	assert.ErrorIs(t, err, ramfs.ErrNotFound)
}

func TestListChildren_Sorted(t *testing.T) {
	fs := newTestFS(t)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, err := fs.CreateFile(ramfs.RootHandle, name, 0)
		require.NoError(t, err)
	}
	d, err := fs.CreateDirectory(ramfs.RootHandle, "beta", 0)
	require.NoError(t, err)

	entries, err := fs.ListChildren(ramfs.RootHandle)
	require.NoError(t, err)

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	assert.Equal(t, []string{"alpha", "beta", "mid", "zeta"}, names)
	assert.Equal(t, d, entries[1].Handle)
	assert.Equal(t, ramfs.KindDir, entries[1].Kind)
	assert.Equal(t, ramfs.KindFile, entries[0].Kind)

	file := entries[0].Handle
	_, err = fs.ListChildren(file)
	assert.ErrorIs(t, err, ramfs.ErrNotADirectory)
}

func TestRemove_File(t *testing.T) {
	fs := newTestFS(t)
	h, err := fs.CreateFile(ramfs.RootHandle, "f", 0)
	require.NoError(t, err)

	require.NoError(t, fs.Remove(ramfs.RootHandle, "f"))
	mustVerify(t, fs)

	_, err = fs.GetAttributes(h)
	assert.ErrorIs(t, err, ramfs.ErrNotFound)
	_, err = fs.Lookup(ramfs.RootHandle, "f")
	assert.ErrorIs(t, err, ramfs.ErrNotFound)

	err = fs.Remove(ramfs.RootHandle, "f")
	assert.ErrorIs(t, err, ramfs.ErrNotFound)
	err = fs.Remove(999, "f")
	assert.ErrorIs(t, err, ramfs.ErrNotFound)
}

func TestRemove_DirectoryErasesSubtree(t *testing.T) {
	fs := newTestFS(t)
	d, _ := fs.CreateDirectory(ramfs.RootHandle, "d", 0)
	sub, _ := fs.CreateDirectory(d, "sub", 0)
	leaf, _ := fs.CreateFile(sub, "leaf", 0)
	_, err := fs.WriteContent(leaf, 0, []byte("data"))
	require.NoError(t, err)

	require.NoError(t, fs.Remove(ramfs.RootHandle, "d"))
	mustVerify(t, fs)

	for _, h := range []ramfs.Handle{d, sub, leaf} {
		_, err := fs.GetAttributes(h)
		assert.ErrorIs(t, err, ramfs.ErrNotFound, "handle %d", h)
	}
	assert.Equal(t, ramfs.Stats{Nodes: 1}, fs.Stats())
}

func TestRename_EvictsSibling(t *testing.T) {
	fs := newTestFS(t)
	a, _ := fs.CreateFile(ramfs.RootHandle, "a", 0)
	b, _ := fs.CreateFile(ramfs.RootHandle, "b", 0)

	require.NoError(t, fs.Rename(ramfs.RootHandle, "a", "b"))
	mustVerify(t, fs)

	h, err := fs.Resolve("/b")
	require.NoError(t, err)
	assert.Equal(t, a, h)
	_, err = fs.GetAttributes(b)
	assert.ErrorIs(t, err, ramfs.ErrNotFound)
}

func TestRename_SameName(t *testing.T) {
	fs := newTestFS(t)
	a, _ := fs.CreateFile(ramfs.RootHandle, "a", 0)

	require.NoError(t, fs.Rename(ramfs.RootHandle, "a", "a"))
	mustVerify(t, fs)

	h, err := fs.Resolve("/a")
	require.NoError(t, err)
	assert.Equal(t, a, h)
}

func TestRename_Errors(t *testing.T) {
	fs := newTestFS(t)
	_, _ = fs.CreateFile(ramfs.RootHandle, "a", 0)

	assert.ErrorIs(t, fs.Rename(ramfs.RootHandle, "missing", "x"), ramfs.ErrNotFound)
	assert.ErrorIs(t, fs.Rename(999, "a", "x"), ramfs.ErrNotFound)
	assert.ErrorIs(t, fs.Rename(ramfs.RootHandle, "a", ""), ramfs.ErrInvalidName)
	assert.ErrorIs(t, fs.Rename(ramfs.RootHandle, "a", "x/y"), ramfs.ErrInvalidName)

	_, err := fs.Resolve("/a")
	assert.NoError(t, err)
	mustVerify(t, fs)
}

func TestMove_AcrossDirectories(t *testing.T) {
	fs := newTestFS(t)
	src, _ := fs.CreateDirectory(ramfs.RootHandle, "src", 0)
	dst, _ := fs.CreateDirectory(ramfs.RootHandle, "dst", 0)
	f, _ := fs.CreateFile(src, "f", 0)
	_, err := fs.WriteContent(f, 0, []byte("payload"))
	require.NoError(t, err)

	require.NoError(t, fs.Move(src, "f", dst, "g"))
	mustVerify(t, fs)

	h, err := fs.Resolve("/dst/g")
	require.NoError(t, err)
	assert.Equal(t, f, h)
	_, err = fs.Resolve("/src/f")
	assert.ErrorIs(t, err, ramfs.ErrNotFound)

	data, err := fs.ReadContent(h, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	node, _ := fs.Node(f)
	assert.Equal(t, dst, node.Parent())
	assert.Equal(t, "g", node.Name())
}

func TestMove_OverwritesDestination(t *testing.T) {
	fs := newTestFS(t)
	d, _ := fs.CreateDirectory(ramfs.RootHandle, "d", 0)
	victim, _ := fs.CreateDirectory(d, "target", 0)
	victimChild, _ := fs.CreateFile(victim, "inner", 0)
	mover, _ := fs.CreateFile(ramfs.RootHandle, "mover", 0)

	require.NoError(t, fs.Move(ramfs.RootHandle, "mover", d, "target"))
	mustVerify(t, fs)

	h, err := fs.Resolve("/d/target")
	require.NoError(t, err)
	assert.Equal(t, mover, h)

	for _, gone := range []ramfs.Handle{victim, victimChild} {
		_, err := fs.GetAttributes(gone)
		assert.ErrorIs(t, err, ramfs.ErrNotFound)
	}
}

func TestMove_IntoOwnSubtree(t *testing.T) {
	fs := newTestFS(t)
	a, _ := fs.CreateDirectory(ramfs.RootHandle, "a", 0)
	b, _ := fs.CreateDirectory(a, "b", 0)

	err := fs.Move(ramfs.RootHandle, "a", b, "a")
	assert.ErrorIs(t, err, ramfs.ErrInvalidMove)

	err = fs.Move(ramfs.RootHandle, "a", a, "self")
	assert.ErrorIs(t, err, ramfs.ErrInvalidMove)

	h, err := fs.Resolve("/a/b")
	require.NoError(t, err)
	assert.Equal(t, b, h)
	mustVerify(t, fs)
}

func TestMove_FailureLeavesTreeUnchanged(t *testing.T) {
	fs := newTestFS(t)
	d, _ := fs.CreateDirectory(ramfs.RootHandle, "d", 0)
	f, _ := fs.CreateFile(ramfs.RootHandle, "f", 0)
	existing, _ := fs.CreateFile(d, "existing", 0)

	// Destination missing: the source must stay where it was
	err := fs.Move(ramfs.RootHandle, "f", 999, "f")
	assert.ErrorIs(t, err, ramfs.ErrNotFound)
	// Destination is a file
	err = fs.Move(ramfs.RootHandle, "f", existing, "f")
	assert.ErrorIs(t, err, ramfs.ErrNotFound)
	// Bad new name: the would-be victim must survive
	err = fs.Move(ramfs.RootHandle, "f", d, "")
	assert.ErrorIs(t, err, ramfs.ErrInvalidName)

	h, err := fs.Resolve("/f")
	require.NoError(t, err)
	assert.Equal(t, f, h)
	h, err = fs.Resolve("/d/existing")
	require.NoError(t, err)
	assert.Equal(t, existing, h)
	mustVerify(t, fs)
}

func TestContent_Errors(t *testing.T) {
	fs := newTestFS(t)
	d, _ := fs.CreateDirectory(ramfs.RootHandle, "d", 0)
	f, _ := fs.CreateFile(ramfs.RootHandle, "f", 0)

	_, err := fs.ReadContent(d, 0, 10)
	assert.ErrorIs(t, err, ramfs.ErrIsDirectory)
	_, err = fs.WriteContent(d, 0, []byte("x"))
	assert.ErrorIs(t, err, ramfs.ErrIsDirectory)
	_, err = fs.ReadContent(999, 0, 10)
	assert.ErrorIs(t, err, ramfs.ErrNotFound)

	_, err = fs.ReadContent(f, -1, 10)
	assert.ErrorIs(t, err, ramfs.ErrInvalidOffset)
	_, err = fs.WriteContent(f, -1, []byte("x"))
	assert.ErrorIs(t, err, ramfs.ErrInvalidOffset)
	_, err = fs.WriteContent(f, MaxFileSize, []byte("x"))
	assert.ErrorIs(t, err, ramfs.ErrFileTooLarge)
	assert.Equal(t, unix.EFBIG, ramfs.Errno(err))

	attr, err := fs.GetAttributes(f)
	require.NoError(t, err)
	assert.Zero(t, attr.Size)
}

func TestWriteContent_GrowsWithZeros(t *testing.T) {
	fs := newTestFS(t)
	f, _ := fs.CreateFile(ramfs.RootHandle, "f", 0)

	n, err := fs.WriteContent(f, 4, []byte("ab"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	attr, _ := fs.GetAttributes(f)
	assert.Equal(t, uint64(6), attr.Size)

	data, err := fs.ReadContent(f, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 'a', 'b'}, data)

	data, err = fs.ReadContent(f, 6, 10)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestTruncate(t *testing.T) {
	fs := newTestFS(t)
	f, _ := fs.CreateFile(ramfs.RootHandle, "f", 0)
	_, err := fs.WriteContent(f, 0, []byte("0123456789"))
	require.NoError(t, err)

	require.NoError(t, fs.Truncate(f, 3))
	data, _ := fs.ReadContent(f, 0, 100)
	assert.Equal(t, []byte("012"), data)

	require.NoError(t, fs.Truncate(f, 5))
	data, _ = fs.ReadContent(f, 0, 100)
	assert.Equal(t, []byte("012\x00\x00"), data)

	assert.ErrorIs(t, fs.Truncate(f, -1), ramfs.ErrInvalidOffset)
	assert.ErrorIs(t, fs.Truncate(ramfs.RootHandle, 0), ramfs.ErrIsDirectory)
	assert.Equal(t, ramfs.Stats{Nodes: 2, ContentBytes: 5}, fs.Stats())
}

func TestSetMode(t *testing.T) {
	fs := newTestFS(t)
	f, _ := fs.CreateFile(ramfs.RootHandle, "f", 0o644)

	require.NoError(t, fs.SetMode(f, 0o600))
	attr, _ := fs.GetAttributes(f)
	assert.Equal(t, uint32(unix.S_IFREG|0o600), attr.Mode)
	assert.Equal(t, uint32(0o600), attr.Perm())

	assert.ErrorIs(t, fs.SetMode(999, 0o600), ramfs.ErrNotFound)
}

func TestXattr_NotImplemented(t *testing.T) {
	fs := newTestFS(t)

	_, err := fs.GetXattr(ramfs.RootHandle, "user.x")
	assert.ErrorIs(t, err, ramfs.ErrNotImplemented)
	assert.False(t, errors.Is(err, ramfs.ErrNotFound))
	_, err = fs.ListXattr(ramfs.RootHandle)
	assert.ErrorIs(t, err, ramfs.ErrNotImplemented)
	assert.ErrorIs(t, fs.SetXattr(ramfs.RootHandle, "user.x", nil), ramfs.ErrNotImplemented)
	assert.ErrorIs(t, fs.RemoveXattr(ramfs.RootHandle, "user.x"), ramfs.ErrNotImplemented)
	assert.Equal(t, unix.ENOSYS, ramfs.Errno(err))
}

func TestVerify_DetectsCorruption(t *testing.T) {
	fs := newTestFS(t)
	d, _ := fs.CreateDirectory(ramfs.RootHandle, "d", 0)

	// Orphan: registered but unreachable
	orphan := fs.registry.Allocate(ramfs.KindFile, "orphan", 0)
	assert.Error(t, fs.Verify())
	fs.registry.Erase(orphan.Handle())
	require.NoError(t, fs.Verify())

	// Entry whose node disagrees about its parent
	node, _ := fs.Node(d)
	node.parent = 999
	assert.Error(t, fs.Verify())
}
