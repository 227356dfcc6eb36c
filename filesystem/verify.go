package filesystem

import (
	"fmt"

	"github.com/brettbedarf/ramfs"
)

// Verify checks that the registry and the directory tree agree: every
// registered node is reachable from the root exactly once, every directory
// entry names a live node whose name and parent match the entry, and there
// are no cycles. It returns the first violation found.
func (fs *FileSystem) Verify() error {
	root, ok := fs.registry.Find(ramfs.RootHandle)
	if !ok || root != fs.root {
		return fmt.Errorf("root %d is not registered", ramfs.RootHandle)
	}
	if root.Kind() != ramfs.KindDir {
		return fmt.Errorf("root is a %s", root.Kind())
	}
	if root.parent != 0 {
		return fmt.Errorf("root has parent %d", root.parent)
	}

	for h, n := range fs.registry.nodes {
		if n.handle != h {
			return fmt.Errorf("registry key %d holds node %d", h, n.handle)
		}
		if h > fs.registry.last {
			return fmt.Errorf("handle %d beyond last issued %d", h, fs.registry.last)
		}
	}

	seen := make(map[ramfs.Handle]bool, fs.registry.Len())
	stack := []ramfs.Handle{ramfs.RootHandle}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[h] {
			return fmt.Errorf("handle %d reachable more than once", h)
		}
		seen[h] = true

		dir, ok := fs.registry.nodes[h].Dir()
		if !ok {
			continue
		}
		for name, ch := range dir.children {
			child, ok := fs.registry.Find(ch)
			if !ok {
				return fmt.Errorf("entry %q in %d names unregistered handle %d", name, h, ch)
			}
			if child.name != name {
				return fmt.Errorf("entry %q in %d names node called %q", name, h, child.name)
			}
			if child.parent != h {
				return fmt.Errorf("node %d listed in %d has parent %d", ch, h, child.parent)
			}
			stack = append(stack, ch)
		}
	}
	if len(seen) != fs.registry.Len() {
		return fmt.Errorf("%d of %d registered nodes reachable from root", len(seen), fs.registry.Len())
	}
	return nil
}
