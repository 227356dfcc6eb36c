package filesystem

import (
	"time"

	"github.com/brettbedarf/ramfs"
)

// content is the sealed variant held by a Node: *Directory or *File.
type content interface {
	kind() ramfs.Kind
}

// Node is a directory or file owned by the [Registry].
type Node struct {
	handle  ramfs.Handle // immutable after creation
	name    string       // last path component; unique among siblings
	parent  ramfs.Handle // 0 for the root and for detached nodes
	mode    uint32       // type bits | permission bits
	mtime   time.Time
	ctime   time.Time
	content content
}

func (n *Node) Handle() ramfs.Handle {
	return n.handle
}

func (n *Node) Name() string {
	return n.name
}

// Parent returns the handle of the containing directory; 0 for the root
func (n *Node) Parent() ramfs.Handle {
	return n.parent
}

func (n *Node) Kind() ramfs.Kind {
	return n.content.kind()
}

// Dir returns the directory variant
func (n *Node) Dir() (*Directory, bool) {
	d, ok := n.content.(*Directory)
	return d, ok
}

// File returns the file variant
func (n *Node) File() (*File, bool) {
	f, ok := n.content.(*File)
	return f, ok
}

// Attr returns a snapshot of the node's attributes
func (n *Node) Attr() ramfs.Attr {
	attr := ramfs.Attr{
		Handle: n.handle,
		Mode:   n.mode,
		Nlink:  1,
		Mtime:  n.mtime,
		Ctime:  n.ctime,
	}
	switch c := n.content.(type) {
	case *Directory:
		attr.Kind = ramfs.KindDir
	case *File:
		attr.Kind = ramfs.KindFile
		attr.Size = uint64(c.Size())
	}
	return attr
}

// touch records a content change at t
func (n *Node) touch(t time.Time) {
	n.mtime = t
	n.ctime = t
}
