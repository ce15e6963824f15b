package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/gantry/internal/domain"
)

func writePipeline(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("GANTRY_DATA_DIR", dir)
	t.Setenv("GANTRY_STORAGE__DRIVER", "memory")
	t.Setenv("GANTRY_EXECUTOR__WORK_DIR", dir)

	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	good := writePipeline(t, dir, "good.yaml", `
name: good
parameters:
  - name: ENV
stages:
  - name: deploy
    when: params.ENV == "prod"
    run: echo deploy
`)
	bad := writePipeline(t, dir, "bad.yaml", `
name: bad
stages:
  - name: deploy
    when: params.TARGET == "prod"
    run: echo deploy
`)

	stdout, _, err := execute(t, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, stdout, "good.yaml: ok")

	_, stderr, err := execute(t, "validate", good, bad)
	require.Error(t, err)
	assert.Contains(t, stderr, `unresolved parameter reference "TARGET"`)
	assert.Contains(t, err.Error(), "1 of 2")
}

func TestRun_ShellPipeline(t *testing.T) {
	path := writePipeline(t, t.TempDir(), "release.yaml", `
name: release
parameters:
  - name: ENV
    default: staging
stages:
  - name: build
    run: echo "building for $ENV" && echo ok > out.txt
    env:
      ENV: staging
    artifacts: [out.txt]
  - name: gated
    approval:
      prompt: go?
      timeout: 1m
    run: echo approved
`)

	stdout, _, err := execute(t, "run", path, "--auto-approve", "ci-bot", "--format", "json", "--commit", "abc")
	require.NoError(t, err)

	var record domain.RunRecord
	require.NoError(t, json.Unmarshal([]byte(stdout), &record))
	assert.Equal(t, domain.RunOutcomeSuccess, record.Outcome)
	assert.Equal(t, "abc", record.Context.CommitRef)
	require.Len(t, record.Approvals, 1)
	assert.Equal(t, "ci-bot", record.Approvals[0].ApproverID)
	require.Len(t, record.Artifacts, 1)
	assert.Equal(t, "out.txt", record.Artifacts[0].Name)
}

func TestRun_FailureExitCode(t *testing.T) {
	path := writePipeline(t, t.TempDir(), "fail.yaml", `
name: fail
stages:
  - name: test
    run: echo "2 tests failed" && exit 1
  - name: never
    run: echo unreachable
`)

	stdout, _, err := execute(t, "run", path)
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(err))
	assert.Contains(t, stdout, "FAILURE")
	assert.Contains(t, stdout, "never")

	unstable := writePipeline(t, t.TempDir(), "unstable.yaml", "name: flaky\nstages:\n  - name: t\n    run: exit 3\n")
	_, _, err = execute(t, "run", unstable)
	assert.Equal(t, 3, exitCode(err))
}

func TestRun_RejectsBadParams(t *testing.T) {
	path := writePipeline(t, t.TempDir(), "p.yaml", "name: p\nstages:\n  - name: a\n    run: 'true'\n")

	_, _, err := execute(t, "run", path, "--param", "novalue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected key=value")

	_, _, err = execute(t, "run", path, "--param", "X=1")
	require.Error(t, err)
	assert.Equal(t, 4, exitCode(err))
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger(domain.LogConfig{Level: "debug", Format: "text"}, &bytes.Buffer{})
	assert.NoError(t, err)

	_, err = newLogger(domain.LogConfig{Level: "loud"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = newLogger(domain.LogConfig{Level: "info", Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}
