package definition

import (
	"fmt"
	"sort"

	"github.com/eleven-am/gantry/internal/adapters/graph"
	"github.com/eleven-am/gantry/internal/domain"
)

// Build turns the definition into a validated stage graph rooted at
// RootStageID.
func (d *Definition) Build() (*graph.Graph, error) {
	g := graph.New()
	if err := g.SetRoot(domain.StageNode{ID: RootStageID, Kind: domain.StageKindSequential}); err != nil {
		return nil, err
	}
	for _, s := range d.Stages {
		if err := attach(g, RootStageID, s); err != nil {
			return nil, err
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func attach(g *graph.Graph, parentID string, s Stage) error {
	if err := g.AddChild(parentID, s.node()); err != nil {
		return err
	}
	for _, child := range s.children() {
		if err := attach(g, s.Name, child); err != nil {
			return err
		}
	}
	return nil
}

// ResolveParameters merges the supplied values with declared defaults. Values
// for undeclared parameters, values outside a parameter's choices and missing
// required parameters are rejected with ErrInvalidParameter.
func (d *Definition) ResolveParameters(given map[string]string) (map[string]string, error) {
	declared := make(map[string]Parameter, len(d.Parameters))
	for _, p := range d.Parameters {
		declared[p.Name] = p
	}

	unknown := make([]string, 0)
	for name := range given {
		if _, ok := declared[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown parameters %v: %w", unknown, domain.ErrInvalidParameter)
	}

	resolved := make(map[string]string, len(d.Parameters))
	for _, p := range d.Parameters {
		value, ok := given[p.Name]
		switch {
		case ok:
		case p.Default != nil:
			value = *p.Default
		case p.Required:
			return nil, fmt.Errorf("parameter %q is required: %w", p.Name, domain.ErrInvalidParameter)
		default:
			continue
		}
		if len(p.Choices) > 0 && !contains(p.Choices, value) {
			return nil, fmt.Errorf("parameter %q: %q is not one of %v: %w", p.Name, value, p.Choices, domain.ErrInvalidParameter)
		}
		resolved[p.Name] = value
	}
	return resolved, nil
}
