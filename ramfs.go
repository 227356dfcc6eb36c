// Package ramfs contains core domain types and interfaces for the in-memory
// filesystem: handles, node kinds, attributes and the error taxonomy shared
// by the engine and its protocol adapters.
package ramfs

import (
	"time"

	"golang.org/x/sys/unix"
)

// Handle is the stable numeric identifier of a node. Handles are assigned
// in increasing order and never reused, so a stale handle can only ever
// resolve to "not found".
type Handle uint64

// RootHandle is the reserved handle of the root directory. It matches the
// FUSE root node id so the handle-addressed adapter can pass it straight through.
const RootHandle Handle = 1

// Kind is the variant of a node
type Kind uint8

const (
	KindDir Kind = iota + 1
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindDir:
		return "dir"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// TypeBits returns the S_IFMT bits for the kind
func (k Kind) TypeBits() uint32 {
	switch k {
	case KindDir:
		return unix.S_IFDIR
	case KindFile:
		return unix.S_IFREG
	default:
		return 0
	}
}

// Permission masks and defaults applied when a create request passes mode 0
const (
	PermMask        uint32 = 0o7777
	DefaultFilePerm uint32 = 0o666
	DefaultDirPerm  uint32 = 0o755
)

// Attr is a snapshot of a node's attributes
type Attr struct {
	Handle Handle
	Kind   Kind
	Mode   uint32 // type bits | permission bits
	Size   uint64
	Nlink  uint32
	Mtime  time.Time // last content modification
	Ctime  time.Time // last attribute or name change
}

// IsDir reports whether the attributes describe a directory
func (a Attr) IsDir() bool {
	return a.Kind == KindDir
}

// Perm returns only the permission bits of Mode
func (a Attr) Perm() uint32 {
	return a.Mode & PermMask
}

// DirEntry is one child of a directory listing
type DirEntry struct {
	Name   string
	Handle Handle
	Kind   Kind
}
