package filesystem

import (
	"slices"

	"github.com/brettbedarf/ramfs"
)

// Directory maps child names to handles. It never owns the child nodes.
type Directory struct {
	children map[string]ramfs.Handle
}

func newDirectory() *Directory {
	return &Directory{children: make(map[string]ramfs.Handle)}
}

func (*Directory) kind() ramfs.Kind { return ramfs.KindDir }

// Lookup returns the handle stored under name
func (d *Directory) Lookup(name string) (h ramfs.Handle, ok bool) {
	h, ok = d.children[name]
	return
}

// InsertChild maps name to h, silently replacing any existing mapping.
// Callers that need the previous occupant deleted must erase it themselves.
func (d *Directory) InsertChild(name string, h ramfs.Handle) {
	d.children[name] = h
}

// RemoveChild unmaps name and returns the handle it pointed to
func (d *Directory) RemoveChild(name string) (h ramfs.Handle, ok bool) {
	h, ok = d.children[name]
	if ok {
		delete(d.children, name)
	}
	return
}

// Names returns the child names in lexicographic order
func (d *Directory) Names() []string {
	names := make([]string, 0, len(d.children))
	for name := range d.children {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (d *Directory) Len() int {
	return len(d.children)
}
