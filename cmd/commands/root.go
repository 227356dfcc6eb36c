package commands

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/brettbedarf/ramfs/adapters"
	"github.com/brettbedarf/ramfs/config"
	"github.com/brettbedarf/ramfs/internal/util"
	"github.com/brettbedarf/ramfs/requests"
	"github.com/brettbedarf/ramfs/server"
)

// Flags shared by every subcommand
var (
	verbose    int
	configPath string
	nodesDef   string
)

var rootCmd = &cobra.Command{
	Use:   "ramfs",
	Short: "In-memory filesystem served over FUSE or NFS",
	Long: `ramfs keeps a whole directory tree in memory and exports it through
the kernel's FUSE interface or as an NFSv3 server. Nothing is persisted:
the tree starts empty, or seeded from a nodes manifest, and is gone when
the process exits.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		util.InitializeLogger(util.LevelFromVerbosity(verbose))
	},
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&verbose, "verbose", "v", config.InfoVerbose,
		"Log verbosity level between 1 (error) and 5 (trace)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML or JSON config override file")
	rootCmd.PersistentFlags().StringVarP(&nodesDef, "nodes", "n", "", "Path to a JSON or YAML nodes manifest to seed the tree")

	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(nfsCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig builds the runtime config from defaults, the optional override
// file, and the verbosity flag, in increasing precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	override := &config.ConfigOverride{}
	if configPath != "" {
		fileOverride, err := config.LoadConfigOverrideFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", configPath, err)
		}
		override = fileOverride
	}
	if cmd.Flags().Changed("verbose") || override.LogLvl == nil {
		override.LogLvl = &verbose
	}

	cfg := config.NewConfig(override)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// File overrides may change verbosity
	util.InitializeLogger(cfg.LogLvl)
	return cfg, nil
}

// newSeeded creates the filesystem and applies the nodes manifest if one was given
func newSeeded(cmd *cobra.Command, cfg *config.Config) (*server.RamFs, error) {
	logger := util.GetLogger("main")

	fs := server.New(cfg)
	if nodesDef == "" {
		logger.Warn().Msg("No nodes file provided")
		return fs, nil
	}

	adapters.RegisterBuiltins()
	m, err := requests.LoadManifestFile(nodesDef)
	if m == nil {
		return nil, fmt.Errorf("failed to read nodes file %s: %w", nodesDef, err)
	}
	if err != nil {
		// Partially valid manifests still seed what they can
		logger.Error().Err(err).Str("nodes", nodesDef).Msg("Some node requests were invalid")
	}
	logger.Debug().
		Int("files", len(m.Files)).
		Int("directories", len(m.Dirs)).
		Msg("Successfully loaded node requests")
	fs.LoadManifest(cmd.Context(), m)
	return fs, nil
}

// acquireLock takes a per-target lock file so two processes never serve the
// same mountpoint or address at once.
func acquireLock(target string) (*flock.Flock, error) {
	sum := sha256.Sum256([]byte(target))
	path := filepath.Join(os.TempDir(), "ramfs-"+hex.EncodeToString(sum[:8])+".lock")

	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another ramfs instance is already serving %s", target)
	}
	return lock, nil
}

// signalChan delivers SIGINT, SIGTERM and SIGQUIT for graceful shutdown
func signalChan() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	return ch
}
