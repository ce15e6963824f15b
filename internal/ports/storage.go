package ports

import (
	"context"

	"github.com/eleven-am/gantry/internal/domain"
)

// RunStore persists one record per build. Save overwrites the previous
// version of the record.
type RunStore interface {
	Save(ctx context.Context, record *domain.RunRecord) error
	Get(ctx context.Context, buildID string) (*domain.RunRecord, error)
	List(ctx context.Context, opts domain.ListOptions) ([]domain.RunSummary, error)
	Delete(ctx context.Context, buildID string) error
	Close() error
}
