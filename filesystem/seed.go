package filesystem

import (
	"errors"
	"fmt"
	"path"

	"github.com/brettbedarf/ramfs"
	"github.com/brettbedarf/ramfs/internal/util"
)

// AddFileNode adds a new file node to the filesystem. It will add any missing
// directories in the path and return the newly created leaf's handle.
// If a node already exists at the requested path, it will return an error.
func (fs *FileSystem) AddFileNode(req *ramfs.FileCreateRequest) (ramfs.Handle, error) {
	logger := util.GetLogger("AddFileNode").With().Str("uuid", req.UUID).Logger()

	dirPath, name := path.Split(path.Clean("/" + req.Path))
	if name == "" {
		err := fmt.Errorf("%w: file path %q", ramfs.ErrInvalidName, req.Path)
		logger.Error().Err(err).Msg("Failed to create file")
		return 0, err
	}

	// Implicit dir requests are the same embedded NodeRequest with a different
	// path. Ancestors get the default dir mode, not the file's perms.
	dirReq := ramfs.DirCreateRequest{NodeRequest: req.NodeRequest}
	dirReq.Path = dirPath
	dirReq.Perms = 0
	parent, err := fs.AddDirNode(&dirReq)
	if err != nil {
		logger.Error().Err(err).Str("path", dirReq.Path).Msg("Failed to create file's ancestor directory(s)")
		return 0, err
	}

	h, err := fs.CreateFile(parent, name, req.Perms)
	if err != nil {
		logger.Error().Err(err).Str("path", req.Path).Msg("Failed to create file")
		return 0, err
	}
	if len(req.Content) > 0 {
		if _, err := fs.WriteContent(h, 0, req.Content); err != nil {
			// Leave no half-seeded file behind
			_ = fs.Remove(parent, name)
			logger.Error().Err(err).Str("path", req.Path).Msg("Failed to write file content")
			return 0, err
		}
	}
	logger.Debug().Str("path", req.Path).Int("size", len(req.Content)).Msg("Added new file node")
	return h, nil
}

// AddDirNode adds all missing directories in the request's path starting at
// the root and returns the leaf.
// It is equivalent to calling `mkdir -p` from a shell and similarly will only create
// directories that do not already exist and will not error if the leaf already exists.
func (fs *FileSystem) AddDirNode(req *ramfs.DirCreateRequest) (ramfs.Handle, error) {
	logger := util.GetLogger("AddDirNode").With().Str("uuid", req.UUID).Logger()

	cur := ramfs.RootHandle
	newCnt := 0
	// Traverse the path until we get to existing dir and make
	// any missing along the way
	for _, name := range ramfs.SplitPath(req.Path) {
		h, err := fs.Lookup(cur, name)
		switch {
		case err == nil:
			if n := fs.mustFind(h); n.Kind() != ramfs.KindDir {
				return 0, fmt.Errorf("%w: %q in %s", ramfs.ErrNotADirectory, name, req.Path)
			}
			cur = h
		case errors.Is(err, ramfs.ErrNotFound):
			if h, err = fs.CreateDirectory(cur, name, req.Perms); err != nil {
				return 0, err
			}
			newCnt++
			cur = h
		default:
			return 0, err
		}
	}
	if newCnt > 0 {
		logger.Info().Str("path", req.Path).Msg(fmt.Sprintf("Created %d new dir(s)", newCnt))
	}

	return cur, nil
}
