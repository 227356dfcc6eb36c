package server

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/brettbedarf/ramfs"
	"github.com/brettbedarf/ramfs/config"
	"github.com/brettbedarf/ramfs/filesystem"
	rfuse "github.com/brettbedarf/ramfs/fuse"
	"github.com/brettbedarf/ramfs/internal/util"
	rnfs "github.com/brettbedarf/ramfs/nfs"
	"github.com/brettbedarf/ramfs/requests"
)

// RamFs owns one engine and the protocol servers exporting it. All engine
// access from the servers and the seeding helpers goes through mu.
type RamFs struct {
	fs  *filesystem.FileSystem
	cfg *config.Config
	mu  sync.Mutex

	server    *fuse.Server
	nfsServer *rnfs.Server
}

// New creates a RamFs instance given your config.
func New(cfg *config.Config) *RamFs {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	return &RamFs{
		fs:  filesystem.NewFS(cfg),
		cfg: cfg,
	}
}

// FileSystem returns the engine. Callers must not use it while serving.
func (r *RamFs) FileSystem() *filesystem.FileSystem {
	return r.fs
}

// AddDirNode creates a directory and any missing ancestors
func (r *RamFs) AddDirNode(req *ramfs.DirCreateRequest) (ramfs.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fs.AddDirNode(req)
}

// AddFileNode creates a file with initial content and any missing ancestors
func (r *RamFs) AddFileNode(req *ramfs.FileCreateRequest) (ramfs.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fs.AddFileNode(req)
}

// LoadManifest applies dirs before files and returns how many of each were
// added. Remote sources are fetched first, without holding the lock.
// Failed requests are logged and skipped.
func (r *RamFs) LoadManifest(ctx context.Context, m *requests.Manifest) (dirs, files int) {
	logger := util.GetLogger("Server.LoadManifest")

	fetched := make([]*ramfs.FileCreateRequest, 0, len(m.Files))
	for _, req := range m.Files {
		if req.Source == nil {
			fetched = append(fetched, req)
			continue
		}
		data, err := req.Source.Fetch(ctx)
		if err != nil {
			logger.Warn().Str("uuid", req.UUID).Str("path", req.Path).Err(err).Msg("Failed to fetch file source")
			continue
		}
		resolved := *req
		resolved.Content = data
		resolved.Source = nil
		fetched = append(fetched, &resolved)
	}

	for _, req := range m.Dirs {
		if _, err := r.AddDirNode(req); err != nil {
			logger.Warn().Str("uuid", req.UUID).Str("path", req.Path).Err(err).Msg("Failed to add directory request")
			continue
		}
		dirs++
	}
	for _, req := range fetched {
		if _, err := r.AddFileNode(req); err != nil {
			logger.Warn().Str("uuid", req.UUID).Str("path", req.Path).Err(err).Msg("Failed to add file request")
			continue
		}
		files++
	}
	logger.Info().Int("directories", dirs).Int("files", files).Msg("Added new nodes to filesystem")
	return dirs, files
}

// Serve mounts and serves the filesystem at the given mountPoint. It returns
// once the kernel has acknowledged the mount.
func (r *RamFs) Serve(mountPoint string) error {
	raw := rfuse.NewFuseRaw(r.fs, &r.mu, r.cfg)
	opts := r.cfg.MountOptions
	srv, err := fuse.NewServer(raw, mountPoint, &fuse.MountOptions{
		Name:       opts.Name,
		FsName:     opts.FsName,
		AllowOther: opts.AllowOther,
		MaxWrite:   r.cfg.MaxWrite,
		Debug:      opts.Debug || r.cfg.LogLvl == util.TraceLevel,
		Logger:     util.NewLogLogger("FuseServer", util.DebugLevel),
		Options:    []string{"default_permissions"},
	})
	if err != nil {
		return err
	}
	r.server = srv

	go srv.Serve()
	return srv.WaitMount()
}

func (r *RamFs) ServeAsync(mountPoint string) <-chan error {
	done := make(chan error, 1)

	go func() {
		done <- r.Serve(mountPoint)
		close(done)
	}()

	return done
}

// NFSServer returns the NFS server exporting the same engine, creating it
// on first use. Unmount shuts it down.
func (r *RamFs) NFSServer() *rnfs.Server {
	if r.nfsServer == nil {
		r.nfsServer = rnfs.NewServer(r.fs, &r.mu, r.cfg)
	}
	return r.nfsServer
}

// Unmount cleanly unmounts the filesystem, retrying while the mount is busy.
func (r *RamFs) Unmount() error {
	logger := util.GetLogger("Server.Unmount")

	if r.nfsServer != nil {
		r.nfsServer.Shutdown()
	}
	if r.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return retry.Do(
		r.server.Unmount,
		retry.Attempts(5),
		retry.Delay(100*time.Millisecond),
		retry.MaxDelay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Debug().Uint("attempt", n+1).Err(err).Msg("Unmount failed, retrying")
		}),
	)
}

// ForceUnmount detaches a stale mount left behind by a previous process.
// A mountpoint that is not mounted is not an error.
func ForceUnmount(mountPoint string) error {
	logger := util.GetLogger("Server.ForceUnmount")

	out, err := exec.Command("fusermount", "-u", mountPoint).CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			logger.Debug().Str("output", string(out)).Msg("fusermount -u did not unmount")
			return nil
		}
		return err
	}
	logger.Info().Str("mountpoint", mountPoint).Msg("Unmounted stale mount")
	return nil
}
