package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eleven-am/gantry/internal/adapters/condition"
	"github.com/eleven-am/gantry/internal/definition"
	"github.com/eleven-am/gantry/internal/domain"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <pipeline.yaml>...",
		Short: "Check pipeline files without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	var failed int
	for _, path := range args {
		if err := validateFile(path); err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d pipeline files are invalid", failed, len(args))
	}
	return nil
}

// validateFile builds the graph and checks that every condition compiles and
// only names declared parameters.
func validateFile(path string) error {
	def, err := definition.Load(path)
	if err != nil {
		return err
	}
	g, err := def.Build()
	if err != nil {
		return err
	}

	declared := make(map[string]bool, len(def.Parameters))
	for _, p := range def.Parameters {
		declared[p.Name] = true
	}

	evaluator := condition.NewEvaluator()
	for _, n := range g.Nodes() {
		if n.Condition == "" {
			continue
		}
		refs, err := evaluator.References(n.Condition)
		if err != nil {
			return domain.NewStructureError(n.ID, "invalid condition: "+err.Error())
		}
		for _, name := range refs {
			if !declared[name] {
				return &domain.UnresolvedReferenceError{Name: name, Condition: n.Condition, StageID: n.ID}
			}
		}
	}
	return nil
}
