package executor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/gantry/internal/adapters/artifacts"
	"github.com/eleven-am/gantry/internal/domain"
	"github.com/eleven-am/gantry/internal/ports"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newShell(t *testing.T, storage ports.ArtifactStorage) *ShellExecutor {
	t.Helper()
	config := domain.DefaultExecutorConfig()
	config.WorkDir = t.TempDir()
	return NewShellExecutor(config, storage, testLogger())
}

func leaf(id, script string) domain.StageNode {
	return domain.StageNode{ID: id, Kind: domain.StageKindLeaf, Run: script}
}

func TestShellExecutor_ExitCodes(t *testing.T) {
	tests := []struct {
		name   string
		script string
		state  domain.StageState
		failed bool
	}{
		{"success", "echo ok", domain.StageStateSuccess, false},
		{"unstable", "exit 3", domain.StageStateUnstable, false},
		{"failure", "exit 7", domain.StageStateFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := newShell(t, nil)
			result, err := exec.Execute(context.Background(), ports.ExecutionRequest{
				BuildID: "b-1",
				Stage:   leaf("build", tt.script),
			})

			assert.Equal(t, tt.state, result.State)
			if !tt.failed {
				assert.NoError(t, err)
				return
			}
			var failure *domain.ExecutionFailure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, 7, failure.ExitCode)
			assert.Equal(t, "build", failure.StageID)
		})
	}
}

func TestShellExecutor_EnvironmentAndOutput(t *testing.T) {
	exec := newShell(t, nil)
	result, err := exec.Execute(context.Background(), ports.ExecutionRequest{
		BuildID:     "b-1",
		Stage:       leaf("greet", `echo "deploying $TARGET"; echo to-stderr 1>&2`),
		Environment: map[string]string{"TARGET": "staging"},
	})
	require.NoError(t, err)

	assert.Contains(t, result.ExitDetail, "deploying staging")
	assert.Contains(t, result.ExitDetail, "to-stderr")
}

func TestShellExecutor_TailKeepsLastLines(t *testing.T) {
	config := domain.DefaultExecutorConfig()
	config.WorkDir = t.TempDir()
	config.TailLines = 2
	exec := NewShellExecutor(config, nil, testLogger())

	result, err := exec.Execute(context.Background(), ports.ExecutionRequest{
		BuildID: "b-1",
		Stage:   leaf("count", "echo one; echo two; echo three"),
	})
	require.NoError(t, err)
	assert.Equal(t, "two\nthree", result.ExitDetail)
}

func TestShellExecutor_Cancellation(t *testing.T) {
	exec := newShell(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	result, err := exec.Execute(ctx, ports.ExecutionRequest{
		BuildID: "b-1",
		Stage:   leaf("slow", "sleep 10"),
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.StageStateAborted, result.State)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestShellExecutor_EmptyScript(t *testing.T) {
	exec := newShell(t, nil)
	result, err := exec.Execute(context.Background(), ports.ExecutionRequest{
		BuildID: "b-1",
		Stage:   leaf("noop", ""),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StageStateSuccess, result.State)
}

func TestShellExecutor_CollectsArtifacts(t *testing.T) {
	storage, err := artifacts.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	exec := newShell(t, storage)

	stage := leaf("test", "mkdir -p reports && echo '<ok/>' > reports/unit.xml && echo '<ok/>' > reports/lint.xml")
	stage.Artifacts = []string{"reports/*.xml", "missing/*.bin"}

	result, err := exec.Execute(context.Background(), ports.ExecutionRequest{BuildID: "b-9", Stage: stage})
	require.NoError(t, err)
	require.Len(t, result.Artifacts, 2)

	names := []string{result.Artifacts[0].Name, result.Artifacts[1].Name}
	assert.Equal(t, []string{"reports/lint.xml", "reports/unit.xml"}, names)
	for _, ref := range result.Artifacts {
		assert.Equal(t, "b-9", ref.BuildID)
		assert.Equal(t, "test", ref.ProducingStageID)
		assert.NotEmpty(t, ref.Fingerprint)
		assert.True(t, strings.HasPrefix(ref.ContentLocation, "file://"))
	}
	assert.Equal(t, result.Artifacts[0].Fingerprint, result.Artifacts[1].Fingerprint)

	_, err = os.Stat(filepath.Join(exec.config.WorkDir, "b-9", "reports", "unit.xml"))
	assert.NoError(t, err)
}

func TestTailBuffer(t *testing.T) {
	buf := newTailBuffer(3)
	_, _ = buf.Write([]byte("a\nb\nc"))
	_, _ = buf.Write([]byte("d\ne\npartial"))

	assert.Equal(t, "cd\ne\npartial", buf.String())
}
