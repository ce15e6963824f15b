package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/eleven-am/gantry/internal/domain"
)

// MemoryStore keeps encoded records in a map so callers never share the
// stored value.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
	order   map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]byte),
		order:   make(map[string]int64),
	}
}

func (s *MemoryStore) Save(_ context.Context, record *domain.RunRecord) error {
	if record == nil || record.BuildID == "" {
		return domain.ErrInvalidInput
	}
	data, err := encodeRecord(record)
	if err != nil {
		return domain.NewStorageError("encode", record.BuildID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.BuildID] = data
	s.order[record.BuildID] = record.CreatedAt.UnixNano()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, buildID string) (*domain.RunRecord, error) {
	s.mu.RLock()
	data, ok := s.records[buildID]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.NewStorageError("get", buildID, domain.ErrNotFound)
	}
	return decodeRecord(data)
}

func (s *MemoryStore) List(_ context.Context, opts domain.ListOptions) ([]domain.RunSummary, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if s.order[ids[i]] == s.order[ids[j]] {
			return ids[i] > ids[j]
		}
		return s.order[ids[i]] > s.order[ids[j]]
	})
	snapshot := make([][]byte, len(ids))
	for i, id := range ids {
		snapshot[i] = s.records[id]
	}
	s.mu.RUnlock()

	var results []domain.RunSummary
	for _, data := range snapshot {
		record, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		summary := record.Summary()
		if !matches(summary, opts) {
			continue
		}
		results = append(results, summary)
		if opts.Limit > 0 && len(results) >= opts.Limit {
			break
		}
	}
	return results, nil
}

func (s *MemoryStore) Delete(_ context.Context, buildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[buildID]; !ok {
		return domain.NewStorageError("delete", buildID, domain.ErrNotFound)
	}
	delete(s.records, buildID)
	delete(s.order, buildID)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
