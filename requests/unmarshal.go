package requests

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/brettbedarf/ramfs"
	"github.com/brettbedarf/ramfs/adapters"
)

// Manifest is a list of nodes to create at startup, split by type
type Manifest struct {
	Dirs  []*ramfs.DirCreateRequest
	Files []*ramfs.FileCreateRequest
}

// GetNodeType extracts the node type from JSON without full unmarshaling
func GetNodeType(data []byte) (ramfs.NodeCreateRequestType, error) {
	var meta struct {
		Type ramfs.NodeCreateRequestType `json:"type"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return "", err
	}
	return meta.Type, nil
}

// UnmarshalFileRequest handles file-specific unmarshaling with content
func UnmarshalFileRequest(data []byte) (*ramfs.FileCreateRequest, error) {
	var dto FileRequestDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, err
	}
	if dto.Path == "" {
		return nil, errors.New("file request has no path")
	}

	set := 0
	for _, ok := range []bool{dto.Content != nil, dto.ContentBase64 != nil, len(dto.Source) > 0} {
		if ok {
			set++
		}
	}
	if set > 1 {
		return nil, fmt.Errorf("file request %s: content, content_base64 and source are mutually exclusive", dto.Path)
	}

	var content []byte
	var source ramfs.ContentSource
	switch {
	case len(dto.Source) > 0:
		src, err := adapters.NewSource(dto.Source)
		if err != nil {
			return nil, fmt.Errorf("file request %s: %w", dto.Path, err)
		}
		source = src
	case dto.Content != nil:
		content = []byte(*dto.Content)
	case dto.ContentBase64 != nil:
		decoded, err := base64.StdEncoding.DecodeString(*dto.ContentBase64)
		if err != nil {
			return nil, fmt.Errorf("file request %s: %w", dto.Path, err)
		}
		content = decoded
	}

	return &ramfs.FileCreateRequest{
		NodeRequest: convertNodeDTO(dto.NodeRequestDTO, ramfs.DefaultFilePerm),
		Content:     content,
		Source:      source,
	}, nil
}

// UnmarshalDirRequest handles explicit directory unmarshaling
func UnmarshalDirRequest(data []byte) (*ramfs.DirCreateRequest, error) {
	var dto DirRequestDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, err
	}
	if dto.Path == "" {
		return nil, errors.New("dir request has no path")
	}

	return &ramfs.DirCreateRequest{
		NodeRequest: convertNodeDTO(dto.NodeRequestDTO, ramfs.DefaultDirPerm),
	}, nil
}

// ParseManifest decodes a JSON array of node requests. Entries that fail to
// decode are collected into the returned error; the rest are still returned.
func ParseManifest(data []byte) (*Manifest, error) {
	var rawNodes []json.RawMessage
	if err := json.Unmarshal(data, &rawNodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}

	m := &Manifest{}
	var errs []error
	for i, rawNode := range rawNodes {
		// Determine the node type
		nodeType, err := GetNodeType(rawNode)
		if err != nil {
			errs = append(errs, fmt.Errorf("node %d: %w", i, err))
			continue
		}

		switch nodeType {
		case ramfs.FileNodeType:
			req, err := UnmarshalFileRequest(rawNode)
			if err != nil {
				errs = append(errs, fmt.Errorf("node %d: %w", i, err))
				continue
			}
			m.Files = append(m.Files, req)
		case ramfs.DirNodeType:
			req, err := UnmarshalDirRequest(rawNode)
			if err != nil {
				errs = append(errs, fmt.Errorf("node %d: %w", i, err))
				continue
			}
			m.Dirs = append(m.Dirs, req)
		default:
			errs = append(errs, fmt.Errorf("node %d: unknown node type %q", i, nodeType))
		}
	}
	return m, errors.Join(errs...)
}

// LoadManifestFile reads a manifest in JSON (.json) or YAML (.yaml, .yml)
func LoadManifestFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
	case ".yaml", ".yml":
		// Normalize to JSON so both formats share one decoder
		var nodes []any
		if err := yaml.Unmarshal(data, &nodes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
		}
		if data, err = json.Marshal(nodes); err != nil {
			return nil, fmt.Errorf("failed to convert manifest: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown manifest file extension: %s", path)
	}
	return ParseManifest(data)
}

// Conversion logic with defaults in the unmarshaling layer
func convertNodeDTO(dto NodeRequestDTO, perms uint32) ramfs.NodeRequest {
	return ramfs.NodeRequest{
		Path:  dto.Path,
		Type:  dto.Type,
		UUID:  valueOrDefault(dto.UUID, uuid.New().String()),
		Perms: valueOrDefault(dto.Perms, perms),
	}
}

func valueOrDefault[T any](ptr *T, defaultVal T) T {
	if ptr != nil {
		return *ptr
	}
	return defaultVal
}
