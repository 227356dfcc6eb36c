package ramfs

import (
	"path"
	"strings"
)

// SplitPath cleans p as an absolute path and returns its segments.
// "", "/" and "." all yield no segments.
func SplitPath(p string) []string {
	p = path.Clean("/" + p)
	if p == "/" {
		return nil
	}
	return strings.Split(p[1:], "/")
}
