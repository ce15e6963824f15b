package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/eleven-am/gantry/internal/domain"
)

// SQLiteStore keeps run records in a single table; the full record is stored
// as JSON next to the columns used for listing.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func OpenSQLite(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.With("component", "run-store", "driver", "sqlite"),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			build_id TEXT PRIMARY KEY,
			pipeline TEXT NOT NULL,
			status TEXT NOT NULL,
			outcome TEXT,
			commit_ref TEXT,
			record TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_pipeline ON runs(pipeline)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, record *domain.RunRecord) error {
	if record == nil || record.BuildID == "" {
		return domain.ErrInvalidInput
	}

	data, err := encodeRecord(record)
	if err != nil {
		return domain.NewStorageError("encode", record.BuildID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (build_id, pipeline, status, outcome, commit_ref, record, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(build_id) DO UPDATE SET
			status = excluded.status,
			outcome = excluded.outcome,
			record = excluded.record,
			updated_at = CURRENT_TIMESTAMP
	`, record.BuildID, record.Pipeline, string(record.Status), string(record.Outcome),
		record.Context.CommitRef, string(data), record.CreatedAt.UnixNano())
	if err != nil {
		return domain.NewStorageError("put", record.BuildID, err)
	}

	s.logger.Debug("run record saved", "build_id", record.BuildID, "status", record.Status)
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, buildID string) (*domain.RunRecord, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM runs WHERE build_id = ?`, buildID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewStorageError("get", buildID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, domain.NewStorageError("get", buildID, err)
	}

	record, err := decodeRecord([]byte(data))
	if err != nil {
		return nil, domain.NewStorageError("decode", buildID, err)
	}
	return record, nil
}

func (s *SQLiteStore) List(ctx context.Context, opts domain.ListOptions) ([]domain.RunSummary, error) {
	query := `SELECT record FROM runs`
	var args []interface{}
	if opts.Pipeline != "" {
		query += ` WHERE pipeline = ?`
		args = append(args, opts.Pipeline)
	}
	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.NewStorageError("list", "runs", err)
	}
	defer rows.Close()

	var results []domain.RunSummary
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, domain.NewStorageError("list", "runs", err)
		}
		record, err := decodeRecord([]byte(data))
		if err != nil {
			s.logger.Warn("skipping corrupt run record", "error", err)
			continue
		}
		results = append(results, record.Summary())
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("list", "runs", err)
	}
	return results, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, buildID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE build_id = ?`, buildID)
	if err != nil {
		return domain.NewStorageError("delete", buildID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewStorageError("delete", buildID, domain.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
