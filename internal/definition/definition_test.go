package definition

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/gantry/internal/domain"
)

const releasePipeline = `
name: release
options:
  fail_fast: true
  timeout: 1h
  workers: 3
parameters:
  - name: DEPLOY_ENV
    default: staging
    choices: [staging, production]
  - name: VERSION
    required: true
environment:
  CI: true
notifications:
  - name: chat
    kind: webhook
    url: http://chat.local/hook
    outcomes: [failure]
stages:
  - name: build
    run: make build
    artifacts: [bin/*]
  - name: test
    parallel:
      - name: unit
        run: make unit
        timeout: 5m
      - name: lint
        run: make lint
  - name: deploy
    when: params.DEPLOY_ENV == "production"
    approval:
      prompt: Ship it?
      timeout: 10m
    stages:
      - name: push
        run: ./deploy.sh
        env:
          TARGET: prod
`

func TestParse(t *testing.T) {
	def, err := Parse([]byte(releasePipeline))
	require.NoError(t, err)

	assert.Equal(t, "release", def.Name)
	require.NotNil(t, def.Options.FailFast)
	assert.True(t, *def.Options.FailFast)
	require.NotNil(t, def.Options.Timeout)
	assert.Equal(t, time.Hour, *def.Options.Timeout)
	assert.Equal(t, "true", def.Environment["CI"])
	require.Len(t, def.Notifications, 1)
	assert.Equal(t, []domain.RunOutcome{domain.RunOutcomeFailure}, def.Notifications[0].Outcomes)

	require.Len(t, def.Stages, 3)
	assert.Equal(t, domain.StageKindLeaf, def.Stages[0].kind())
	assert.Equal(t, domain.StageKindParallel, def.Stages[1].kind())
	assert.Equal(t, domain.StageKindSequential, def.Stages[2].kind())
	assert.Equal(t, 5*time.Minute, def.Stages[1].Parallel[0].Timeout)
	require.NotNil(t, def.Stages[2].Approval)
	assert.Equal(t, 10*time.Minute, def.Stages[2].Approval.Timeout)
}

func TestBuild(t *testing.T) {
	def, err := Parse([]byte(releasePipeline))
	require.NoError(t, err)

	g, err := def.Build()
	require.NoError(t, err)

	assert.Equal(t, RootStageID, g.Root())
	root, ok := g.Node(RootStageID)
	require.True(t, ok)
	assert.Equal(t, []string{"build", "test", "deploy"}, root.Children)

	test, _ := g.Node("test")
	assert.Equal(t, []string{"unit", "lint"}, test.Children)

	deploy, _ := g.Node("deploy")
	assert.Equal(t, `params.DEPLOY_ENV == "production"`, deploy.Condition)
	assert.True(t, deploy.ApprovalRequired())

	push, _ := g.Node("push")
	assert.Equal(t, "prod", push.Env["TARGET"])

	build, _ := g.Node("build")
	assert.Equal(t, []string{"bin/*"}, build.Artifacts)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		is   func(error) bool
	}{
		{"missing name", "stages: []", domain.IsStructureError},
		{"unknown key", "name: x\nstagez: []", func(err error) bool { return err != nil }},
		{"ambiguous stage", "name: x\nstages:\n  - name: a\n    run: x\n    stages: []", domain.IsStructureError},
		{"empty stage", "name: x\nstages:\n  - name: a", domain.IsStructureError},
		{"artifacts on group", "name: x\nstages:\n  - name: a\n    artifacts: [x]\n    stages: []", domain.IsStructureError},
		{"bad default", "name: x\nparameters:\n  - name: P\n    default: c\n    choices: [a, b]\nstages: []", domain.IsPreflight},
		{"empty document", "", func(err error) bool { return err != nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, tt.is(err), "unexpected error: %v", err)
		})
	}
}

func TestBuild_RejectsStructure(t *testing.T) {
	t.Run("duplicate names", func(t *testing.T) {
		def, err := Parse([]byte("name: x\nstages:\n  - name: a\n    run: x\n  - name: a\n    run: y"))
		require.NoError(t, err)
		_, err = def.Build()
		assert.True(t, domain.IsCycleError(err))
	})

	t.Run("approval inside parallel", func(t *testing.T) {
		def, err := Parse([]byte("name: x\nstages:\n  - name: p\n    parallel:\n      - name: a\n        run: x\n        approval:\n          prompt: ok?"))
		require.NoError(t, err)
		_, err = def.Build()
		assert.True(t, domain.IsStructureError(err))
	})
}

func TestResolveParameters(t *testing.T) {
	def, err := Parse([]byte(releasePipeline))
	require.NoError(t, err)

	params, err := def.ResolveParameters(map[string]string{"VERSION": "1.2.0"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"DEPLOY_ENV": "staging", "VERSION": "1.2.0"}, params)

	params, err = def.ResolveParameters(map[string]string{"VERSION": "1.2.0", "DEPLOY_ENV": "production"})
	require.NoError(t, err)
	assert.Equal(t, "production", params["DEPLOY_ENV"])

	_, err = def.ResolveParameters(map[string]string{"VERSION": "1", "DEPLOY_ENV": "moon"})
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	_, err = def.ResolveParameters(map[string]string{})
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	_, err = def.ResolveParameters(map[string]string{"VERSION": "1", "TYPO": "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}

func TestCatalog(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "release.yaml"), []byte(releasePipeline), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lint.yml"), []byte("name: lint\nstages:\n  - name: vet\n    run: go vet ./..."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("not a pipeline"), 0o644))

	c := NewCatalog(nil)
	require.NoError(t, c.LoadDir(dir))

	defs := c.List()
	require.Len(t, defs, 2)
	assert.Equal(t, "lint", defs[0].Name)
	assert.Equal(t, "release", defs[1].Name)
	assert.Equal(t, filepath.Join(dir, "release.yaml"), defs[1].Source)

	_, err := c.Get("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	dup, err := Parse([]byte("name: lint\nstages: []"))
	require.NoError(t, err)
	assert.ErrorIs(t, c.Add(dup), domain.ErrInvalidInput)

	assert.NoError(t, NewCatalog(nil).LoadDir(filepath.Join(dir, "nope")))
}
