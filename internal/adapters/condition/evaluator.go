package condition

import (
	"sync"

	"github.com/eleven-am/gantry/internal/domain"
)

// Evaluator evaluates conditions against run parameters and environment.
// Parsed expressions are cached by source text.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*Expression
}

func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]*Expression)}
}

func (e *Evaluator) Compile(src string) (*Expression, error) {
	e.mu.RLock()
	expr, ok := e.cache[src]
	e.mu.RUnlock()
	if ok {
		return expr, nil
	}

	expr, err := Parse(src)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[src] = expr
	e.mu.Unlock()
	return expr, nil
}

// Evaluate returns an UnresolvedReferenceError when any referenced parameter
// is missing, even if short-circuiting would never read it.
func (e *Evaluator) Evaluate(src string, params, env map[string]string) (bool, error) {
	expr, err := e.Compile(src)
	if err != nil {
		return false, err
	}
	return expr.Eval(params, env)
}

func (e *Evaluator) References(src string) ([]string, error) {
	expr, err := e.Compile(src)
	if err != nil {
		return nil, err
	}
	return expr.References(), nil
}

// Check verifies every parameter the expression reads is present.
func (e *Expression) Check(params map[string]string) error {
	for _, name := range e.params {
		if _, ok := params[name]; !ok {
			return &domain.UnresolvedReferenceError{Name: name, Condition: e.src}
		}
	}
	return nil
}

func (e *Expression) Eval(params, env map[string]string) (bool, error) {
	if err := e.Check(params); err != nil {
		return false, err
	}
	return e.root.eval(&input{params: params, env: env}), nil
}
