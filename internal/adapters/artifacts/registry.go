package artifacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/eleven-am/gantry/internal/domain"
	"github.com/eleven-am/gantry/internal/ports"
)

// Registry records the artifacts stages produce and enforces retention.
type Registry struct {
	config  domain.ArtifactConfig
	storage ports.ArtifactStorage
	events  ports.EventManager
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	entries []domain.ArtifactRef
	pins    []ports.PinSource
}

func NewRegistry(config domain.ArtifactConfig, storage ports.ArtifactStorage, events ports.EventManager, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		config:  config,
		storage: storage,
		events:  events,
		logger:  logger.With("component", "artifact-registry"),
		now:     time.Now,
	}
}

// AddPinSource registers a source of fingerprints that Prune must keep.
func (r *Registry) AddPinSource(src ports.PinSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pins = append(r.pins, src)
}

// Record registers ref as produced by stageID. Registering the same
// fingerprint with the same metadata again returns the existing entry. With
// content-addressed dedup enabled, the same fingerprint with different
// metadata is rejected with a DuplicateFingerprintError.
func (r *Registry) Record(stageID string, ref domain.ArtifactRef) (domain.ArtifactRef, error) {
	if ref.Name == "" || ref.Fingerprint == "" {
		return domain.ArtifactRef{}, fmt.Errorf("artifact name and fingerprint: %w", domain.ErrInvalidInput)
	}
	ref.ProducingStageID = stageID
	if ref.Retention == (domain.RetentionPolicy{}) {
		ref.Retention = r.config.Retention
	}
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = r.now()
	}

	r.mu.Lock()
	var collision *domain.ArtifactRef
	for i := range r.entries {
		existing := r.entries[i]
		if existing.Fingerprint != ref.Fingerprint {
			continue
		}
		if existing.SameMetadata(ref) {
			r.mu.Unlock()
			return existing, nil
		}
		if collision == nil {
			collision = &r.entries[i]
		}
	}
	if collision != nil && r.config.ContentAddressed {
		existing := *collision
		r.mu.Unlock()
		return existing, &domain.DuplicateFingerprintError{Fingerprint: ref.Fingerprint, Existing: existing}
	}
	r.entries = append(r.entries, ref)
	r.mu.Unlock()

	r.logger.Debug("artifact recorded",
		"build_id", ref.BuildID,
		"stage_id", stageID,
		"name", ref.Name,
		"fingerprint", ref.Fingerprint)
	if r.events != nil {
		r.events.PublishArtifactRecorded(&domain.ArtifactRecordedEvent{Artifact: ref})
	}
	return ref, nil
}

// Restore loads previously recorded refs, e.g. from persisted run records.
func (r *Registry) Restore(refs []domain.ArtifactRef) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ref := range refs {
		duplicate := false
		for _, existing := range r.entries {
			if existing.Fingerprint == ref.Fingerprint && existing.SameMetadata(ref) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			r.entries = append(r.entries, ref)
		}
	}
}

func (r *Registry) Get(fingerprint string) ([]domain.ArtifactRef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.ArtifactRef
	for _, e := range r.entries {
		if e.Fingerprint == fingerprint {
			out = append(out, e)
		}
	}
	return out, len(out) > 0
}

func (r *Registry) List(buildID string) []domain.ArtifactRef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.ArtifactRef
	for _, e := range r.entries {
		if buildID == "" || e.BuildID == buildID {
			out = append(out, e)
		}
	}
	return out
}

// Prune drops entries beyond their retention policy, newest kept first per
// artifact name. Entries pinned by any pin source survive. Content is deleted
// once no remaining entry references its location; storage failures are
// returned but do not stop the prune.
func (r *Registry) Prune(ctx context.Context, now time.Time) ([]domain.ArtifactRef, error) {
	r.mu.Lock()
	pinned := make(map[string]bool)
	for _, src := range r.pins {
		for fp := range src.PinnedArtifacts() {
			pinned[fp] = true
		}
	}

	byName := make(map[string][]int)
	for i, e := range r.entries {
		byName[e.Name] = append(byName[e.Name], i)
	}

	drop := make(map[int]bool)
	for _, idxs := range byName {
		sort.SliceStable(idxs, func(a, b int) bool {
			return r.entries[idxs[a]].CreatedAt.After(r.entries[idxs[b]].CreatedAt)
		})
		for rank, i := range idxs {
			e := r.entries[i]
			expired := e.Retention.MaxAge > 0 && now.Sub(e.CreatedAt) > e.Retention.MaxAge
			excess := e.Retention.MaxCount > 0 && rank >= e.Retention.MaxCount
			if (expired || excess) && !pinned[e.Fingerprint] {
				drop[i] = true
			}
		}
	}

	var removed, kept []domain.ArtifactRef
	for i, e := range r.entries {
		if drop[i] {
			removed = append(removed, e)
		} else {
			kept = append(kept, e)
		}
	}
	r.entries = kept

	inUse := make(map[string]bool, len(kept))
	for _, e := range kept {
		inUse[e.ContentLocation] = true
	}
	r.mu.Unlock()

	var errs []error
	deleted := make(map[string]bool)
	for _, e := range removed {
		if r.storage == nil || e.ContentLocation == "" || inUse[e.ContentLocation] || deleted[e.ContentLocation] {
			continue
		}
		deleted[e.ContentLocation] = true
		if err := r.storage.Delete(ctx, e.ContentLocation); err != nil {
			r.logger.Warn("failed to delete pruned artifact content",
				"location", e.ContentLocation,
				"error", err)
			errs = append(errs, err)
		}
	}

	if len(removed) > 0 {
		r.logger.Info("artifacts pruned", "removed", len(removed), "remaining", len(kept))
	}
	return removed, errors.Join(errs...)
}
