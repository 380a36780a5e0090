package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/liamcoop/ruleengine/config"
	"github.com/liamcoop/ruleengine/internal/logger"
	"github.com/liamcoop/ruleengine/pack"
	"github.com/liamcoop/ruleengine/rules"
	"github.com/liamcoop/ruleengine/tools"
)

// Version is set at build time.
var Version = "dev"

type globalFlags struct {
	config  string
	verbose bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "rulectl",
		Short: "Check, test and run rule packs",
		Long: `rulectl works on YAML rule packs: directories of catalog functions,
contexts, lookup tables, rules with their test cases and offered products.

A pack path is given as the first argument, or read from pack.path in the
configuration file.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flags.verbose {
				logger.SetLevel(logger.LevelDebug)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.config, "config", "c", "", "config file path")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(newCheckCmd(flags), newTestCmd(flags), newRunCmd(flags))
	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadRuntime builds the pack at path, or at the configured pack path when
// path is empty. Engine settings come from the configuration file.
func loadRuntime(flags *globalFlags, path string) (*pack.Runtime, *pack.Pack, error) {
	cfg := config.Default()
	if flags.config != "" {
		loaded, err := config.Load(flags.config)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}
	if path == "" {
		path = cfg.Pack.Path
	}
	if path == "" {
		return nil, nil, errors.New("no rule pack given")
	}

	p, err := pack.Load(path)
	if err != nil {
		return nil, nil, err
	}
	rt, err := pack.Build(p, packOptions(cfg)...)
	if err != nil {
		return nil, nil, err
	}
	return rt, p, nil
}

func packOptions(cfg *config.Config) []pack.Option {
	defs := make([]tools.ErrorDefinition, len(cfg.Engine.ErrorDefinitions))
	for i, d := range cfg.Engine.ErrorDefinitions {
		defs[i] = tools.ErrorDefinition{Code: d.Code, Kind: d.Kind, Message: d.Message}
	}
	return []pack.Option{
		pack.WithDateLayout(cfg.Engine.DateLayout),
		pack.WithErrorDefinitions(defs...),
		pack.WithEngineOptions(
			rules.WithStepBudget(cfg.Engine.StepBudget),
			rules.WithLogger(logger.Logger.With("component", "rules")),
		),
	}
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
