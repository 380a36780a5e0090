package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liamcoop/ruleengine/rules"
	"github.com/liamcoop/ruleengine/script"
)

type runFlags struct {
	args     string
	argsFile string
	debug    bool
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	rf := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [pack] <rule-id>",
		Short: "Execute a rule",
		Long: `Execute a rule of the pack with JSON args and print the result: the value,
the messages and errors, and in debug mode every capability call.

Examples:
  rulectl run ./packs/subscription age-check --args '{"subscriber": {"birthdate": "1990-05-01"}}'
  rulectl run ./packs/subscription life-premium --args-file subscriber.json --debug`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, ruleID := "", args[0]
			if len(args) == 2 {
				path, ruleID = args[0], args[1]
			}

			execArgs, err := rf.decodeArgs()
			if err != nil {
				return err
			}
			rt, _, err := loadRuntime(flags, path)
			if err != nil {
				return err
			}
			res, err := rt.Engine.Execute(cmd.Context(), ruleID, execArgs, rules.ExecuteOptions{Debug: rf.debug})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if rf.debug {
				return enc.Encode(res)
			}
			return enc.Encode(res.Triple())
		},
	}
	cmd.Flags().StringVar(&rf.args, "args", "", "execution args as a JSON object")
	cmd.Flags().StringVar(&rf.argsFile, "args-file", "", "file holding the execution args")
	cmd.Flags().BoolVar(&rf.debug, "debug", false, "trace capability calls")
	cmd.MarkFlagsMutuallyExclusive("args", "args-file")
	return cmd
}

func (rf *runFlags) decodeArgs() (map[string]any, error) {
	raw := rf.args
	if rf.argsFile != "" {
		data, err := os.ReadFile(rf.argsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read args: %w", err)
		}
		raw = string(data)
	}
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	args, err := script.DecodeArgs(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid args: %w", err)
	}
	return args, nil
}
