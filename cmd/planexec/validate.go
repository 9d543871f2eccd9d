package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/planexec/planexec/internal/plan"
)

var validateCmd = &cobra.Command{
	Use:   "validate <plan.yaml>",
	Short: "Lint a plan without executing it",
	Long: `Validate runs the pre-execution linting pass: step identity checks,
dependency reference checks, cycle detection, and priority bounds. On
success it prints the resolved execution layers.`,
	Args: cobra.ExactArgs(1),
	RunE: validatePlan,
}

func validatePlan(cmd *cobra.Command, args []string) error {
	p, err := plan.LoadYAMLFile(args[0])
	if err != nil {
		return err
	}

	if err := plan.NewValidator().Validate(p); err != nil {
		var planErr *plan.PlanError
		if errors.As(err, &planErr) && len(planErr.Cycle) > 0 {
			return fmt.Errorf("plan is invalid: dependency cycle %s",
				strings.Join(planErr.Cycle, " -> "))
		}
		return fmt.Errorf("plan is invalid: %w", err)
	}

	layers, err := plan.NewResolver().Resolve(p)
	if err != nil {
		return err
	}

	cmd.Printf("plan %s: valid (%d steps, %d layers)\n", p.ID, len(p.Steps), len(layers))

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LAYER\tSTEP\tTYPE\tPRIORITY\tDEPENDS ON")
	for i, layer := range layers {
		for _, step := range layer {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
				i, step.ID, step.Type, step.Priority, strings.Join(step.DependsOn, ", "))
		}
	}
	return w.Flush()
}
