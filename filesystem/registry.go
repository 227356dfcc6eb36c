package filesystem

import (
	"time"

	"github.com/brettbedarf/ramfs"
)

// Registry is the single owner of every live node, keyed by handle.
// Directories only hold handles into it.
type Registry struct {
	// INVARIANT: for all keys h, nodes[h].handle == h
	// INVARIANT: for all keys h, 0 < h <= last
	nodes map[ramfs.Handle]*Node

	// Last handle issued. Handles are never reused.
	last ramfs.Handle
}

func NewRegistry() *Registry {
	return &Registry{nodes: make(map[ramfs.Handle]*Node)}
}

// Allocate creates a detached node of the requested kind, assigns it the
// next handle and registers it. A zero perm selects the kind's default.
// The caller links the node into its parent directory.
func (r *Registry) Allocate(kind ramfs.Kind, name string, perm uint32) *Node {
	var c content
	switch kind {
	case ramfs.KindDir:
		c = newDirectory()
		if perm == 0 {
			perm = ramfs.DefaultDirPerm
		}
	case ramfs.KindFile:
		c = &File{}
		if perm == 0 {
			perm = ramfs.DefaultFilePerm
		}
	default:
		panic("ramfs: allocate with unknown node kind")
	}

	r.last++
	now := time.Now()
	n := &Node{
		handle:  r.last,
		name:    name,
		mode:    kind.TypeBits() | (perm & ramfs.PermMask),
		mtime:   now,
		ctime:   now,
		content: c,
	}
	r.nodes[n.handle] = n
	return n
}

// Find returns the node for h; ok is false for handles never issued or already erased.
func (r *Registry) Find(h ramfs.Handle) (n *Node, ok bool) {
	n, ok = r.nodes[h]
	return
}

// Erase unregisters h. The caller must already have detached the node
// from its parent.
func (r *Registry) Erase(h ramfs.Handle) {
	delete(r.nodes, h)
}

// Len returns the number of live nodes, root included
func (r *Registry) Len() int {
	return len(r.nodes)
}

// Last returns the most recently issued handle
func (r *Registry) Last() ramfs.Handle {
	return r.last
}
