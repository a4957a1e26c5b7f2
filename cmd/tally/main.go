package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/drpcorg/tally"
	"github.com/drpcorg/tally/utils"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

func loadConfig() (tally.ResultStoreConfig, error) {
	if configPath == "" {
		cfg := tally.ResultStoreConfig{}
		cfg.SetDefaults()
		return cfg, nil
	}
	return tally.LoadConfig(configPath)
}

func logger() utils.Logger {
	if verbose {
		return utils.NewDefaultLogger(slog.LevelDebug)
	}
	return utils.NewDefaultLogger(slog.LevelWarn)
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tally",
		Short:         "Grouped aggregation over streams of rows",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "TOML result store config")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	cmd.AddCommand(newLoadCommand(), newShellCommand())
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
