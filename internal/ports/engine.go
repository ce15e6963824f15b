package ports

import (
	"github.com/eleven-am/gantry/internal/domain"
)

// StageGraph is a validated, read-only view of a pipeline's stages.
type StageGraph interface {
	Root() string
	Node(id string) (domain.StageNode, bool)
	Nodes() []domain.StageNode
	Validate() error
}

// ConditionEvaluator decides whether a guarded stage runs. It must be a pure
// function of its inputs.
type ConditionEvaluator interface {
	Evaluate(expr string, params, env map[string]string) (bool, error)
	References(expr string) ([]string, error)
}
