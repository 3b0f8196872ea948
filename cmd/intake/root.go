package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/requirements-intake/internal/app"
	"github.com/joseph-ayodele/requirements-intake/internal/common"
)

type commandContext struct {
	configFlag string
	jsonFlag   bool
	verbose    bool

	config *common.Config
}

func newRootCommand() *cobra.Command {
	cc := &commandContext{}
	root := &cobra.Command{
		Use:           "intake",
		Short:         "Requirements intake operator CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := common.LoadConfig(strings.TrimSpace(cc.configFlag))
			if err != nil {
				return err
			}
			cc.config = cfg
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&cc.configFlag, "config", "c", "", "YAML config file (default $INTAKE_CONFIG)")
	root.PersistentFlags().BoolVar(&cc.jsonFlag, "json", false, "print JSON instead of tables")
	root.PersistentFlags().BoolVarP(&cc.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		newTickCommand(cc),
		newIngestCommand(cc),
		newStatusCommand(cc),
		newRequeueCommand(cc),
		newHideCommand(cc),
		newDuplicatesCommand(cc),
		newExportCommand(cc),
		newDBCommand(cc),
		newExtractCommand(cc),
	)
	return root
}

func (cc *commandContext) logger() *slog.Logger {
	if !cc.verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return common.NewLogger(os.Stderr, cc.config.Log.Level, cc.config.Log.Format)
}

// withApp builds the component graph for one command and closes it after.
func (cc *commandContext) withApp(ctx context.Context, opts app.Options, fn func(*app.App) error) error {
	a, err := app.Build(ctx, cc.config, cc.logger(), opts)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(a)
}

// jsonOutput is on when asked for or when stdout is not a terminal.
func (cc *commandContext) jsonOutput(cmd *cobra.Command) bool {
	return cc.jsonFlag || !isTerminal(cmd.OutOrStdout())
}
