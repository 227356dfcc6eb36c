package config

// MountOptions holds high-level settings for mounting.
// No go-fuse types are exposed here.
type MountOptions struct {
	Debug      bool                         // fuse debug logs
	FsName     string `validate:"required"` // mount's FsName
	Name       string `validate:"required"` // mount's Name
	AllowOther bool                         // let other users access the mount (needs user_allow_other)
}

// NFSOptions holds settings for the path-addressed NFS adapter
type NFSOptions struct {
	Addr            string `validate:"omitempty,hostname_port"` // listen address; empty disables NFS
	HandleCacheSize int    `validate:"gt=0"`                    // go-nfs handle<->path cache entries
}
