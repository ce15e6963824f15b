package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v3"
	"github.com/eleven-am/gantry/internal/domain"
)

// BadgerStore keeps run records in an embedded badger database. Each record
// has an index entry ordered by creation time that carries its summary.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
	owned  bool
}

func OpenBadger(path string, logger *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", path, err)
	}

	store := NewBadgerStore(db, logger)
	store.owned = true
	return store, nil
}

func NewBadgerStore(db *badger.DB, logger *slog.Logger) *BadgerStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerStore{
		db:     db,
		logger: logger.With("component", "run-store", "driver", "badger"),
	}
}

func (s *BadgerStore) Save(ctx context.Context, record *domain.RunRecord) error {
	if record == nil || record.BuildID == "" {
		return domain.ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeRecord(record)
	if err != nil {
		return domain.NewStorageError("encode", record.BuildID, err)
	}
	summary, err := encodeSummary(record.Summary())
	if err != nil {
		return domain.NewStorageError("encode", record.BuildID, err)
	}

	key := domain.RunRecordKey(record.BuildID)
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(key), data); err != nil {
			return err
		}
		indexKey := domain.RunIndexKey(record.CreatedAt.UnixNano(), record.BuildID)
		return txn.Set([]byte(indexKey), summary)
	})
	if err != nil {
		return domain.NewStorageError("put", key, err)
	}

	s.logger.Debug("run record saved", "build_id", record.BuildID, "status", record.Status)
	return nil
}

func (s *BadgerStore) Get(ctx context.Context, buildID string) (*domain.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := domain.RunRecordKey(buildID)
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, domain.NewStorageError("get", key, domain.ErrNotFound)
		}
		return nil, domain.NewStorageError("get", key, err)
	}

	record, err := decodeRecord(data)
	if err != nil {
		return nil, domain.NewStorageError("decode", key, err)
	}
	return record, nil
}

// List returns summaries newest first.
func (s *BadgerStore) List(ctx context.Context, opts domain.ListOptions) ([]domain.RunSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var results []domain.RunSummary
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = []byte(domain.RunIndexPrefix)
		iterOpts.Reverse = true
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		seek := append([]byte(domain.RunIndexPrefix), 0xFF)
		for it.Seek(seek); it.Valid(); it.Next() {
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			summary, err := decodeSummary(value)
			if err != nil {
				s.logger.Warn("skipping corrupt index entry", "key", string(it.Item().Key()), "error", err)
				continue
			}
			if !matches(summary, opts) {
				continue
			}
			results = append(results, summary)
			if opts.Limit > 0 && len(results) >= opts.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, domain.NewStorageError("list", domain.RunIndexPrefix, err)
	}
	return results, nil
}

func (s *BadgerStore) Delete(ctx context.Context, buildID string) error {
	record, err := s.Get(ctx, buildID)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(domain.RunRecordKey(buildID))); err != nil {
			return err
		}
		return txn.Delete([]byte(domain.RunIndexKey(record.CreatedAt.UnixNano(), buildID)))
	})
	if err != nil {
		return domain.NewStorageError("delete", domain.RunRecordKey(buildID), err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
