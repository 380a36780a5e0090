package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check [pack]",
		Short: "Load a pack and compile its rules",
		Long: `Load every file of the pack, build the catalog and contexts and compile
every validated rule. Draft rules are checked against their context too.

Examples:
  rulectl check ./packs/subscription
  rulectl check --config rulectl.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, p, err := loadRuntime(flags, firstArg(args))
			if err != nil {
				return err
			}
			validated, err := rt.Engine.ValidatedRules()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pack ok: %d rules (%d validated), %d contexts, %d tables, %d products\n",
				len(p.Rules), len(validated), len(p.Contexts), len(p.Tables), len(p.Products))
			return nil
		},
	}
}
