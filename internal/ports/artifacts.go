package ports

import (
	"context"
	"io"
	"time"

	"github.com/eleven-am/gantry/internal/domain"
)

type StoredObject struct {
	Location    string
	Fingerprint string
	Size        int64
}

// ArtifactStorage persists artifact content. Fingerprints are computed while
// the content streams through Store.
type ArtifactStorage interface {
	Store(ctx context.Context, name string, r io.Reader) (StoredObject, error)
	Open(ctx context.Context, location string) (io.ReadCloser, error)
	Delete(ctx context.Context, location string) error
}

type ArtifactRegistry interface {
	Record(stageID string, ref domain.ArtifactRef) (domain.ArtifactRef, error)
	Get(fingerprint string) ([]domain.ArtifactRef, bool)
	List(buildID string) []domain.ArtifactRef
	Prune(ctx context.Context, now time.Time) ([]domain.ArtifactRef, error)
}

// PinSource reports artifact fingerprints that must survive pruning.
type PinSource interface {
	PinnedArtifacts() map[string]bool
}
