package ramfs

// Operator is the handle-based engine API consumed by protocol adapters.
//
// Implementations are not safe for concurrent use; adapters serving requests
// from multiple goroutines must serialize calls themselves.
type Operator interface {
	// Resolve walks a slash-delimited path from the root
	Resolve(path string) (Handle, error)
	// ResolveParent resolves all but the last path segment and returns
	// the parent handle plus the final name
	ResolveParent(path string) (Handle, string, error)
	// Lookup resolves a single name within a directory
	Lookup(parent Handle, name string) (Handle, error)

	GetAttributes(h Handle) (Attr, error)
	ListChildren(h Handle) ([]DirEntry, error)

	CreateFile(parent Handle, name string, mode uint32) (Handle, error)
	CreateDirectory(parent Handle, name string, mode uint32) (Handle, error)
	Remove(parent Handle, name string) error
	Rename(parent Handle, name, newName string) error
	Move(srcParent Handle, name string, dstParent Handle, newName string) error

	ReadContent(h Handle, offset int64, maxLength int) ([]byte, error)
	WriteContent(h Handle, offset int64, data []byte) (int, error)
	Truncate(h Handle, size int64) error
	SetMode(h Handle, perm uint32) error

	GetXattr(h Handle, name string) ([]byte, error)
	ListXattr(h Handle) ([]string, error)
	SetXattr(h Handle, name string, value []byte) error
	RemoveXattr(h Handle, name string) error

	Stats() Stats
}

// Stats summarizes engine resource usage
type Stats struct {
	Nodes        uint64
	ContentBytes uint64
}
