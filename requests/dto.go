package requests

import (
	"encoding/json"

	"github.com/brettbedarf/ramfs"
)

// NodeRequestDTO is the JSON representation of [ramfs.NodeRequest]
type NodeRequestDTO struct {
	Path  string                      `json:"path"`
	Type  ramfs.NodeCreateRequestType `json:"type"`
	UUID  *string                     `json:"uuid,omitempty"`  // Optional UUID to correlate logs with the request
	Perms *uint32                     `json:"perms,omitempty"` // i.e. 0755; defaults per node type
}

// FileRequestDTO is the JSON representation of [ramfs.FileCreateRequest].
// At most one of Content, ContentBase64 and Source may be set.
type FileRequestDTO struct {
	NodeRequestDTO
	Content       *string         `json:"content,omitempty"`        // Initial content as text
	ContentBase64 *string         `json:"content_base64,omitempty"` // Initial content as standard base64
	Source        json.RawMessage `json:"source,omitempty"`         // Remote content, i.e. {"type":"http","url":"..."}
}

type DirRequestDTO struct {
	NodeRequestDTO
}
