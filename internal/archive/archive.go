// Package archive writes a JSON snapshot of every terminated workflow
// instance, with its definition and tasks, to blob storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JaimeStill/steward/internal/definitions"
	"github.com/JaimeStill/steward/internal/instances"
	"github.com/JaimeStill/steward/internal/tasks"
	"github.com/JaimeStill/steward/pkg/storage"
)

// Snapshot is the archived record of an instance.
type Snapshot struct {
	Definition definitions.Definition `json:"definition"`
	Instance   instances.Instance     `json:"instance"`
	Tasks      []tasks.Task           `json:"tasks"`
	ArchivedAt time.Time              `json:"archived_at"`
}

// Archiver stores and retrieves snapshots.
type Archiver interface {
	Archive(ctx context.Context, s Snapshot) (string, error)
	Fetch(ctx context.Context, org, instanceID string) (Snapshot, error)
}

// Blob is an Archiver over a storage.System.
type Blob struct {
	storage storage.System
}

// NewBlob creates a blob-backed archiver.
func NewBlob(s storage.System) *Blob {
	return &Blob{storage: s}
}

func (b *Blob) key(org, instanceID string) string {
	if org == "" {
		org = "_"
	}
	return b.storage.Key(org, instanceID+".json")
}

// Archive uploads s and returns its key. An instance archived earlier keeps
// its first snapshot.
func (b *Blob) Archive(ctx context.Context, s Snapshot) (string, error) {
	key := b.key(s.Instance.Organization, s.Instance.ID.String())
	exists, err := b.storage.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if exists {
		return key, nil
	}

	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	if err := b.storage.Upload(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return "", err
	}
	return key, nil
}

// Fetch downloads the snapshot of an instance.
func (b *Blob) Fetch(ctx context.Context, org, instanceID string) (Snapshot, error) {
	var s Snapshot
	r, err := b.storage.Download(ctx, b.key(org, instanceID))
	if err != nil {
		return s, err
	}
	defer r.Close()

	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return s, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}
