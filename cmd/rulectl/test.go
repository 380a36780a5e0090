package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/liamcoop/ruleengine/harness"
	"github.com/liamcoop/ruleengine/regression"
	"github.com/liamcoop/ruleengine/rules"
)

type testFlags struct {
	rules       []string
	concurrency int
}

func newTestCmd(flags *globalFlags) *cobra.Command {
	tf := &testFlags{}
	cmd := &cobra.Command{
		Use:   "test [pack]",
		Short: "Replay rule test cases",
		Long: `Replay the test cases of every validated rule of the pack and print a
report per rule. The command fails when a test case fails.

Examples:
  rulectl test ./packs/subscription
  rulectl test ./packs/subscription --rule age-check`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, err := loadRuntime(flags, firstArg(args))
			if err != nil {
				return err
			}

			source := selectedRules{source: rt.Engine, ids: tf.rules}
			runner := regression.NewRunner(source, harness.New(rt.Engine),
				regression.WithConcurrency(tf.concurrency))
			summary, err := runner.Run(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), summary.String())
			if !summary.Passed() {
				return fmt.Errorf("%d rules failing", len(summary.Failing()))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&tf.rules, "rule", "r", nil, "only test these rule ids")
	cmd.Flags().IntVar(&tf.concurrency, "concurrency", regression.DefaultConcurrency, "rules tested at once")
	return cmd
}

// selectedRules restricts a source to the given ids, all when empty.
type selectedRules struct {
	source regression.Source
	ids    []string
}

func (s selectedRules) ValidatedRules() ([]*rules.Rule, error) {
	all, err := s.source.ValidatedRules()
	if err != nil || len(s.ids) == 0 {
		return all, err
	}
	var out []*rules.Rule
	for _, r := range all {
		if slices.Contains(s.ids, r.ID) {
			out = append(out, r)
		}
	}
	return out, nil
}
