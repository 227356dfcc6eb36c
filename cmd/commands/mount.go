package commands

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/brettbedarf/ramfs/internal/util"
	"github.com/brettbedarf/ramfs/server"
)

var (
	umount  bool
	nfsAddr string
)

var mountCmd = &cobra.Command{
	Use:   "mount <mount-point>",
	Short: "Mount the filesystem with FUSE",
	Long: `Mounts an empty or manifest-seeded in-memory filesystem at the mount
point and serves it until interrupted.

Examples:
  ramfs mount /mnt/ram
  ramfs mount /mnt/ram -n nodes.yaml -v 4
  ramfs mount /mnt/ram --nfs-addr 127.0.0.1:2049`,
	Args: cobra.ExactArgs(1),
	RunE: runMount,
}

func init() {
	mountCmd.Flags().BoolVarP(&umount, "umount", "u", false,
		"Unmount the fs first if needed before mounting again. Useful for debuggers that don't exit properly.")
	mountCmd.Flags().StringVar(&nfsAddr, "nfs-addr", "", "Also export the tree over NFS on this address")
}

func runMount(cmd *cobra.Command, args []string) error {
	logger := util.GetLogger("main")

	mnt, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if nfsAddr != "" {
		cfg.NFS.Addr = nfsAddr
	}
	logger.Info().Int("verbose", verbose).Str("nodes", nodesDef).Str("mnt", mnt).Msg("ramfs server initializing")

	lock, err := acquireLock(mnt)
	if err != nil {
		return err
	}
	defer lock.Unlock() // nolint:errcheck

	// Try unmount if requested
	if umount {
		if err := server.ForceUnmount(mnt); err != nil {
			logger.Warn().Err(err).Msg("Failed to unmount stale mount")
		}
	}

	fs, err := newSeeded(cmd, cfg)
	if err != nil {
		return err
	}

	if err := fs.Serve(mnt); err != nil {
		logger.Error().Err(err).Msg("Failed to mount filesystem")
		return err
	}
	logger.Info().Str("mountpoint", mnt).Msg("Filesystem mounted successfully")

	if cfg.NFS.Addr != "" {
		srv := fs.NFSServer()
		if err := srv.Listen(cfg.NFS.Addr); err != nil {
			logger.Error().Err(err).Msg("Failed to start NFS server")
		} else {
			go func() {
				if err := srv.Serve(cfg.NFS.Addr); err != nil {
					logger.Error().Err(err).Msg("NFS server failed")
				}
			}()
		}
	}

	sig := <-signalChan()
	logger.Info().Str("signal", sig.String()).Msg("Received signal, unmounting filesystem")

	if err := fs.Unmount(); err != nil {
		logger.Error().Err(err).Msg("Failed to unmount filesystem")
		return err
	}
	logger.Info().Msg("Filesystem unmounted successfully")
	return nil
}
