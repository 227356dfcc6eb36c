package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/brettbedarf/ramfs/internal/util"
)

var nfsListenAddr string

var nfsCmd = &cobra.Command{
	Use:   "nfs",
	Short: "Serve the filesystem over NFSv3 only",
	Long: `Serves the in-memory filesystem as an NFSv3 server without a FUSE mount.

Examples:
  ramfs nfs --addr 127.0.0.1:2049
  mount -t nfs -o port=2049,mountport=2049,nfsvers=3,tcp 127.0.0.1:/ /mnt/ram`,
	Args: cobra.NoArgs,
	RunE: runNFS,
}

func init() {
	nfsCmd.Flags().StringVar(&nfsListenAddr, "addr", "", "Listen address (defaults to the config's nfs_addr)")
}

func runNFS(cmd *cobra.Command, args []string) error {
	logger := util.GetLogger("main")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if nfsListenAddr != "" {
		cfg.NFS.Addr = nfsListenAddr
	}
	if cfg.NFS.Addr == "" {
		return errors.New("no listen address: pass --addr or set nfs_addr in the config")
	}

	lock, err := acquireLock("nfs:" + cfg.NFS.Addr)
	if err != nil {
		return err
	}
	defer lock.Unlock() // nolint:errcheck

	fs, err := newSeeded(cmd, cfg)
	if err != nil {
		return err
	}

	srv := fs.NFSServer()
	if err := srv.Listen(cfg.NFS.Addr); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(cfg.NFS.Addr) }()

	select {
	case err := <-done:
		return err
	case sig := <-signalChan():
		logger.Info().Str("signal", sig.String()).Msg("Received signal, stopping NFS server")
	}
	if err := fs.Unmount(); err != nil {
		return err
	}
	return <-done
}
