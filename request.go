package ramfs

import "context"

// NodeRequest has common fields embedded in concrete request types.
// Requests describe nodes to create by path, e.g. from a nodes manifest
// loaded at startup.
type NodeRequest struct {
	Path  string
	Type  NodeCreateRequestType
	UUID  string // Correlates log lines for one request
	Perms uint32 // i.e. 0755; 0 selects the kind's default
}

// NodeCreateRequestType valid types are FileNodeType "file", DirNodeType "dir"
type NodeCreateRequestType string

const (
	FileNodeType NodeCreateRequestType = "file"
	DirNodeType  NodeCreateRequestType = "dir"
)

type FileCreateRequest struct {
	NodeRequest
	Content []byte
	// Source, if set, supplies Content once before the file is created
	Source ContentSource
}

// ContentSource fetches a file's initial content from outside the filesystem
type ContentSource interface {
	Fetch(ctx context.Context) ([]byte, error)
}

type DirCreateRequest struct {
	NodeRequest
}
