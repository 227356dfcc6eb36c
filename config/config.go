package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/brettbedarf/ramfs/internal/util"
)

// Bytes per MB
const MB = 1024 * 1024

// Default configuration constants. See [Config] for field descriptions.
const (
	DefaultFsName = "ramfs"
	DefaultName   = "ramfs"
	DefaultLogLvl = util.InfoLevel

	// Uses 31 bits (2^31 - 1 = 2,147,483,647) to ensure compatibility with libfuse
	// and avoid signed integer overflow.
	DefaultMaxFH = (1 << 31) - 1

	// DefaultMaxWrite is the maximum write size per FUSE request
	DefaultMaxWrite = 1 * MB

	// DefaultAttrTimeout is the attribute cache timeout in seconds
	DefaultAttrTimeout = 1.0

	// DefaultEntryTimeout is the directory entry cache timeout in seconds
	DefaultEntryTimeout = 1.0

	// DefaultDirectIO bypasses the kernel page cache so reads always see the engine
	DefaultDirectIO = false

	// DefaultRootMode is the permission bits of the root directory
	DefaultRootMode = 0o755

	// DefaultNFSHandleCacheSize matches the cache size latentfs uses for go-nfs
	DefaultNFSHandleCacheSize = 65536
)

// Verbosity values accepted in override files, same scale as the CLI -v flag
const (
	ErrorVerbose = iota + 1
	WarnVerbose
	InfoVerbose
	DebugVerbose
	TraceVerbose
)

// Config contains runtime configuration values for the filesystem.
type Config struct {
	MountOptions
	NFS    NFSOptions
	LogLvl util.LogLevel `validate:"gte=0,lte=4"`

	RootMode uint32 `validate:"lte=4095"` // Permission bits of the root directory (Default 0755)

	// NOTE: Low-level FUSE config (strongly recommend defaults unless you really know what you're doing):

	MaxFH        int     `validate:"gt=0"`  // Maximum file handle value for FUSE compatibility (Default 2147483647)
	MaxWrite     int     `validate:"gt=0"`  // Maximum write size per FUSE request (Default 1MB)
	AttrTimeout  float64 `validate:"gte=0"` // Attribute cache timeout in seconds (Default 1.0)
	EntryTimeout float64 `validate:"gte=0"` // Directory entry cache timeout in seconds (Default 1.0)
	DirectIO     bool    // Whether to bypass the page cache (Default false)
}

// ConfigOverride uses pointer fields to distinguish between unset and zero values
// when loading partial configuration. See [Config] for field descriptions.
type ConfigOverride struct {
	FsName             *string  `yaml:"fs_name,omitempty" json:"fs_name,omitempty"`
	Name               *string  `yaml:"name,omitempty" json:"name,omitempty"`
	AllowOther         *bool    `yaml:"allow_other,omitempty" json:"allow_other,omitempty"`
	LogLvl             *int     `yaml:"verbose,omitempty" json:"verbose,omitempty"` // 1 (error) .. 5 (trace)
	RootMode           *uint32  `yaml:"root_mode,omitempty" json:"root_mode,omitempty"`
	MaxFH              *int     `yaml:"max_fh,omitempty" json:"max_fh,omitempty"`
	MaxWrite           *int     `yaml:"max_write,omitempty" json:"max_write,omitempty"`
	AttrTimeout        *float64 `yaml:"attr_timeout,omitempty" json:"attr_timeout,omitempty"`
	EntryTimeout       *float64 `yaml:"entry_timeout,omitempty" json:"entry_timeout,omitempty"`
	DirectIO           *bool    `yaml:"direct_io,omitempty" json:"direct_io,omitempty"`
	NFSAddr            *string  `yaml:"nfs_addr,omitempty" json:"nfs_addr,omitempty"`
	NFSHandleCacheSize *int     `yaml:"nfs_handle_cache_size,omitempty" json:"nfs_handle_cache_size,omitempty"`
}

// NewDefaultConfig creates a new Config with all default values.
func NewDefaultConfig() *Config {
	return &Config{
		MountOptions: MountOptions{
			FsName: DefaultFsName,
			Name:   DefaultName,
		},
		NFS: NFSOptions{
			HandleCacheSize: DefaultNFSHandleCacheSize,
		},
		LogLvl:       DefaultLogLvl,
		RootMode:     DefaultRootMode,
		MaxFH:        DefaultMaxFH,
		MaxWrite:     DefaultMaxWrite,
		AttrTimeout:  DefaultAttrTimeout,
		EntryTimeout: DefaultEntryTimeout,
		DirectIO:     DefaultDirectIO,
	}
}

// NewConfig returns the defaults with override applied. A nil override
// yields the defaults.
func NewConfig(override *ConfigOverride) *Config {
	cfg := NewDefaultConfig()
	if override != nil {
		cfg.Merge(override)
	}
	return cfg
}

// Merge applies non-nil values from override onto this Config.
// This allows partial configuration updates while preserving existing values.
func (c *Config) Merge(override *ConfigOverride) {
	if override.FsName != nil {
		c.FsName = *override.FsName
	}
	if override.Name != nil {
		c.Name = *override.Name
	}
	if override.AllowOther != nil {
		c.AllowOther = *override.AllowOther
	}
	if override.LogLvl != nil {
		c.LogLvl = util.LevelFromVerbosity(*override.LogLvl)
	}
	if override.RootMode != nil {
		c.RootMode = *override.RootMode
	}
	if override.MaxFH != nil {
		c.MaxFH = *override.MaxFH
	}
	if override.MaxWrite != nil {
		c.MaxWrite = *override.MaxWrite
	}
	if override.AttrTimeout != nil {
		c.AttrTimeout = *override.AttrTimeout
	}
	if override.EntryTimeout != nil {
		c.EntryTimeout = *override.EntryTimeout
	}
	if override.DirectIO != nil {
		c.DirectIO = *override.DirectIO
	}
	if override.NFSAddr != nil {
		c.NFS.Addr = *override.NFSAddr
	}
	if override.NFSHandleCacheSize != nil {
		c.NFS.HandleCacheSize = *override.NFSHandleCacheSize
	}
}

var validate = validator.New()

// Validate checks field constraints declared in struct tags
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			e := verrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
		}
		return err
	}
	return nil
}

// LoadConfigOverrideFile loads configuration overrides from a file without merging.
// Supports both YAML (.yaml, .yml) and JSON (.json) formats.
func LoadConfigOverrideFile(path string) (*ConfigOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var override ConfigOverride

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension: %s", path)
	}

	return &override, nil
}

// NewConfigFromFile creates a new validated Config by merging file overrides with defaults.
func NewConfigFromFile(path string) (*Config, error) {
	override, err := LoadConfigOverrideFile(path)
	if err != nil {
		return nil, err
	}
	cfg := NewConfig(override)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
