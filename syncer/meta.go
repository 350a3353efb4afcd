package syncer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"lanlink/storage"
)

// Metadata is the per-resource preflight comparison value: a timestamp
// for collections, a content fingerprint for flat resources.
type Metadata struct {
	Kind        string `json:"kind"`
	UpdatedAt   int64  `json:"updatedAt,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Fingerprint digests a document for change detection on resources that
// carry no timestamp.
func Fingerprint(document string) string {
	sum := sha256.Sum256([]byte(document))
	return hex.EncodeToString(sum[:16])
}

// MetadataFor derives a resource's comparison metadata.
func MetadataFor(resource storage.Resource) Metadata {
	if resource.Kind == storage.ResourceKindCollection {
		return Metadata{Kind: resource.Kind, UpdatedAt: resource.UpdatedAt}
	}
	return Metadata{Kind: resource.Kind, Fingerprint: Fingerprint(resource.Document)}
}

// EncodeMetadata marshals metadata for the sync_meta response.
func EncodeMetadata(meta Metadata) (string, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal sync metadata: %w", err)
	}
	return string(raw), nil
}

// DecodeMetadata parses a sync_meta response body.
func DecodeMetadata(raw string) (Metadata, error) {
	var meta Metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return Metadata{}, fmt.Errorf("parse sync metadata: %w", err)
	}
	return meta, nil
}

func metadataMatches(resource storage.Resource, remote Metadata) bool {
	local := MetadataFor(resource)
	if local.Kind != remote.Kind {
		return false
	}
	if resource.Kind == storage.ResourceKindCollection {
		return local.UpdatedAt == remote.UpdatedAt
	}
	return local.Fingerprint == remote.Fingerprint
}
