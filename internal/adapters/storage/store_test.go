package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/eleven-am/gantry/internal/domain"
	"github.com/eleven-am/gantry/internal/ports"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestDB(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func stores(t *testing.T) map[string]ports.RunStore {
	t.Helper()

	sqliteStore, err := OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]ports.RunStore{
		"badger": NewBadgerStore(setupTestDB(t), testLogger()),
		"sqlite": sqliteStore,
		"memory": NewMemoryStore(),
	}
}

func sampleRecord(buildID, pipeline string, created time.Time) *domain.RunRecord {
	start := created.Add(time.Second)
	end := start.Add(time.Minute)
	return &domain.RunRecord{
		BuildID:  buildID,
		Pipeline: pipeline,
		Status:   domain.RunStatusCompleted,
		Outcome:  domain.RunOutcomeFailure,
		Cause:    &domain.Cause{StageID: "test", State: domain.StageStateFailed, Detail: "exit code 1"},
		Context: domain.RunContextSnapshot{
			BuildID:     buildID,
			CommitRef:   "abc123",
			StartTime:   start,
			Parameters:  map[string]string{"env": "staging"},
			Environment: map[string]string{"BUILD_ID": buildID},
		},
		Root: "pipeline",
		Nodes: []domain.StageNode{
			{ID: "pipeline", Kind: domain.StageKindSequential, Children: []string{"test"}},
			{ID: "test", Kind: domain.StageKindLeaf, Run: "go test ./..."},
		},
		Stages: []domain.StageResult{
			{StageID: "pipeline", State: domain.StageStateFailed, StartTime: &start, EndTime: &end},
			{StageID: "test", State: domain.StageStateFailed, StartTime: &start, EndTime: &end, ExitDetail: "exit code 1"},
		},
		Approvals: []domain.ApprovalRequest{{ID: "a1", BuildID: buildID, StageID: "deploy", State: domain.ApprovalDenied}},
		Notification: &domain.NotificationEvent{
			RunOutcome: domain.RunOutcomeFailure,
			Channels:   []string{"log"},
		},
		CreatedAt:   created,
		CompletedAt: &end,
	}
}

func TestRunStore_SaveAndGet(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			record := sampleRecord("b-1", "demo", time.Unix(1700000000, 0).UTC())

			require.NoError(t, store.Save(ctx, record))

			got, err := store.Get(ctx, "b-1")
			require.NoError(t, err)
			assert.Equal(t, record.BuildID, got.BuildID)
			assert.Equal(t, record.Outcome, got.Outcome)
			assert.Equal(t, record.Cause, got.Cause)
			assert.Equal(t, record.Nodes, got.Nodes)
			assert.Equal(t, "exit code 1", got.Stages[1].ExitDetail)
			assert.Equal(t, domain.ApprovalDenied, got.Approvals[0].State)
			assert.True(t, record.CreatedAt.Equal(got.CreatedAt))

			record.Status = domain.RunStatusRunning
			require.NoError(t, store.Save(ctx, record))
			got, err = store.Get(ctx, "b-1")
			require.NoError(t, err)
			assert.Equal(t, domain.RunStatusRunning, got.Status)
		})
	}
}

func TestRunStore_GetMissing(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "missing")
			require.Error(t, err)
			assert.True(t, domain.IsNotFound(err))
		})
	}
}

func TestRunStore_List(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Unix(1700000000, 0).UTC()
			require.NoError(t, store.Save(ctx, sampleRecord("b-1", "demo", base)))
			require.NoError(t, store.Save(ctx, sampleRecord("b-2", "other", base.Add(time.Minute))))
			require.NoError(t, store.Save(ctx, sampleRecord("b-3", "demo", base.Add(2*time.Minute))))

			all, err := store.List(ctx, domain.ListOptions{})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "b-3", all[0].BuildID)
			assert.Equal(t, "b-1", all[2].BuildID)

			demo, err := store.List(ctx, domain.ListOptions{Pipeline: "demo"})
			require.NoError(t, err)
			require.Len(t, demo, 2)
			assert.Equal(t, "b-3", demo[0].BuildID)

			limited, err := store.List(ctx, domain.ListOptions{Limit: 1})
			require.NoError(t, err)
			require.Len(t, limited, 1)
			assert.Equal(t, "b-3", limited[0].BuildID)
		})
	}
}

func TestRunStore_Delete(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Save(ctx, sampleRecord("b-1", "demo", time.Now())))

			require.NoError(t, store.Delete(ctx, "b-1"))
			_, err := store.Get(ctx, "b-1")
			assert.True(t, domain.IsNotFound(err))

			list, err := store.List(ctx, domain.ListOptions{})
			require.NoError(t, err)
			assert.Empty(t, list)

			assert.True(t, domain.IsNotFound(store.Delete(ctx, "b-1")))
		})
	}
}

func TestRunStore_RejectsInvalidRecord(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, store.Save(context.Background(), &domain.RunRecord{}), domain.ErrInvalidInput)
		})
	}
}

func TestOpen(t *testing.T) {
	store, err := Open(domain.StorageConfig{Driver: domain.StorageBadger, Path: t.TempDir()}, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), sampleRecord("b-1", "demo", time.Now())))
	require.NoError(t, store.Close())

	store, err = Open(domain.StorageConfig{Driver: domain.StorageSQLite, Path: t.TempDir() + "/runs.db"}, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = Open(domain.StorageConfig{Driver: "etcd"}, testLogger())
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}
