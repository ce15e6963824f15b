package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/eleven-am/gantry/internal/domain"
	"github.com/eleven-am/gantry/internal/ports"
)

// ShellExecutor runs a leaf's script with "<shell> -c". The process inherits
// the host environment overlaid with the stage scope.
type ShellExecutor struct {
	config  domain.ExecutorConfig
	storage ports.ArtifactStorage
	logger  *slog.Logger
	now     func() time.Time
}

func NewShellExecutor(config domain.ExecutorConfig, storage ports.ArtifactStorage, logger *slog.Logger) *ShellExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Shell == "" {
		config.Shell = domain.DefaultExecutorConfig().Shell
	}
	if config.TailLines <= 0 {
		config.TailLines = domain.DefaultExecutorConfig().TailLines
	}
	return &ShellExecutor{
		config:  config,
		storage: storage,
		logger:  logger.With("component", "shell-executor"),
		now:     time.Now,
	}
}

func (e *ShellExecutor) Execute(ctx context.Context, req ports.ExecutionRequest) (result domain.StageResult, err error) {
	defer recoverStage(e.logger, req, &result, &err)

	stage := req.Stage
	if stage.Run == "" {
		return domain.StageResult{State: domain.StageStateSuccess, ExitDetail: "nothing to run"}, nil
	}

	workDir := e.workDir(req)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return domain.StageResult{}, fmt.Errorf("prepare work dir: %w", err)
	}

	out := newTailBuffer(e.config.TailLines)
	cmd := exec.CommandContext(ctx, e.config.Shell, "-c", stage.Run)
	cmd.Dir = workDir
	cmd.Env = environ(req.Environment)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = 2 * time.Second

	e.logger.Debug("running stage script",
		"build_id", req.BuildID,
		"stage_id", stage.ID,
		"work_dir", workDir)

	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.StageResult{State: domain.StageStateAborted, ExitDetail: out.String()}, ctxErr
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return domain.StageResult{}, &domain.ExecutionFailure{StageID: stage.ID, ExitCode: -1, Err: runErr}
		}
		exitCode = exitErr.ExitCode()
	}

	result = domain.StageResult{ExitDetail: out.String()}
	switch exitCode {
	case 0:
		result.State = domain.StageStateSuccess
	case e.config.UnstableExitCode:
		result.State = domain.StageStateUnstable
	default:
		result.State = domain.StageStateFailed
		err = &domain.ExecutionFailure{StageID: stage.ID, ExitCode: exitCode}
	}

	result.Artifacts = e.collectArtifacts(ctx, req, workDir)
	return result, err
}

func (e *ShellExecutor) workDir(req ports.ExecutionRequest) string {
	if e.config.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "."
		}
		return wd
	}
	return filepath.Join(e.config.WorkDir, req.BuildID)
}

// collectArtifacts streams every file matching the stage's declared globs
// into storage. Failures are logged and the file is left out.
func (e *ShellExecutor) collectArtifacts(ctx context.Context, req ports.ExecutionRequest, workDir string) []domain.ArtifactRef {
	if e.storage == nil || len(req.Stage.Artifacts) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var refs []domain.ArtifactRef
	for _, pattern := range req.Stage.Artifacts {
		matches, err := filepath.Glob(filepath.Join(workDir, pattern))
		if err != nil {
			e.logger.Warn("invalid artifact pattern",
				"build_id", req.BuildID,
				"stage_id", req.Stage.ID,
				"pattern", pattern,
				"error", err)
			continue
		}
		if len(matches) == 0 {
			e.logger.Warn("artifact pattern matched no files",
				"build_id", req.BuildID,
				"stage_id", req.Stage.ID,
				"pattern", pattern)
		}
		sort.Strings(matches)

		for _, path := range matches {
			if seen[path] {
				continue
			}
			seen[path] = true

			ref, err := e.storeFile(ctx, req, workDir, path)
			if err != nil {
				e.logger.Warn("failed to store artifact",
					"build_id", req.BuildID,
					"stage_id", req.Stage.ID,
					"path", path,
					"error", err)
				continue
			}
			if ref != nil {
				refs = append(refs, *ref)
			}
		}
	}
	return refs
}

func (e *ShellExecutor) storeFile(ctx context.Context, req ports.ExecutionRequest, workDir, path string) (*domain.ArtifactRef, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, nil
	}

	name, err := filepath.Rel(workDir, path)
	if err != nil {
		name = filepath.Base(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	obj, err := e.storage.Store(ctx, name, f)
	if err != nil {
		return nil, err
	}
	return &domain.ArtifactRef{
		Name:             filepath.ToSlash(name),
		BuildID:          req.BuildID,
		ProducingStageID: req.Stage.ID,
		ContentLocation:  obj.Location,
		Fingerprint:      obj.Fingerprint,
		Size:             obj.Size,
		CreatedAt:        e.now(),
	}, nil
}

func environ(scope map[string]string) []string {
	base := os.Environ()
	env := make([]string, 0, len(base)+len(scope))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, overridden := scope[key]; !overridden {
			env = append(env, kv)
		}
	}

	keys := make([]string, 0, len(scope))
	for k := range scope {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+scope[k])
	}
	return env
}
