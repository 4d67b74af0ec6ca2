package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"mark2pdf/internal/config"
	"mark2pdf/internal/infra/logging"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	// Must run before config defaults read GOMAXPROCS.
	_, _ = maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logging.Debug(fmt.Sprintf(format, args...))
	}))

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:           "mark2pdf",
		Short:         "Convert Markdown to PDF",
		Long:          "mark2pdf serves the PDF Converter API and converts Markdown files from the command line,\neither through a running server or with a local headless browser.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default $CONFIG_PATH or ./config.yaml)")

	load := func() config.Config {
		if cfgPath != "" {
			return config.LoadFrom(cfgPath)
		}
		return config.Load()
	}

	cmd.AddCommand(newServeCmd(load), newConvertCmd(load), newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "mark2pdf", version)
		},
	}
}
