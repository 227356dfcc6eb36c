package filesystem

import (
	"fmt"
	"strings"

	"github.com/brettbedarf/ramfs"
)

// Resolve walks p from the root one segment at a time. A missing segment
// yields ErrNotFound; descending through a file yields ErrNotADirectory.
func (fs *FileSystem) Resolve(p string) (ramfs.Handle, error) {
	n, err := fs.walk(ramfs.SplitPath(p))
	if err != nil {
		return 0, fmt.Errorf("resolve %q: %w", p, err)
	}
	return n.handle, nil
}

// ResolveParent resolves every segment of p but the last, which must name a
// directory, and returns that directory with the final segment. The root has
// no parent, so "/" yields ErrInvalidName.
func (fs *FileSystem) ResolveParent(p string) (ramfs.Handle, string, error) {
	segs := ramfs.SplitPath(p)
	if len(segs) == 0 {
		return 0, "", fmt.Errorf("resolve parent %q: %w", p, ramfs.ErrInvalidName)
	}
	parent, err := fs.walk(segs[:len(segs)-1])
	if err != nil {
		return 0, "", fmt.Errorf("resolve parent %q: %w", p, err)
	}
	if _, ok := parent.Dir(); !ok {
		return 0, "", fmt.Errorf("resolve parent %q: %w", p, ramfs.ErrNotADirectory)
	}
	return parent.handle, segs[len(segs)-1], nil
}

func (fs *FileSystem) walk(segs []string) (*Node, error) {
	cur := fs.root
	for i, seg := range segs {
		dir, ok := cur.Dir()
		if !ok {
			return nil, fmt.Errorf("%w: /%s", ramfs.ErrNotADirectory, strings.Join(segs[:i], "/"))
		}
		h, ok := dir.Lookup(seg)
		if !ok {
			return nil, fmt.Errorf("%w: /%s", ramfs.ErrNotFound, strings.Join(segs[:i+1], "/"))
		}
		cur = fs.mustFind(h)
	}
	return cur, nil
}
