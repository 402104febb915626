package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"faultsim/internal/config"
	"faultsim/internal/logging"
	"faultsim/pkg/faultsim"
)

var version = "0.1.0-dev"

func main() {
	if err := execute(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func execute(args []string, stdout, stderr io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "faultsimctl",
		Short: "Fault-injection training on simulated analog memory",
		Long: `faultsimctl trains dense networks whose weights live on a simulated
analog memory with stuck cells, write noise, conductance decay and limited
precision, and records held-out loss and accuracy per epoch.

Results go to Loss.csv and Accuracy.csv in the results directory, one
column per run label.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "YAML config path (default $FAULTSIM_CONFIG or ./faultsim.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: error|warn|info|debug|trace")
	rootCmd.PersistentFlags().String("log-format", "", "log format: auto|text|json")
	rootCmd.PersistentFlags().String("results-dir", "", "directory for result tables and run artifacts")
	rootCmd.PersistentFlags().String("store", "", "run store backend: memory|sqlite")
	rootCmd.PersistentFlags().String("db-path", "", "sqlite database path")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newSweepCmd(),
		newRunsCmd(),
		newSweepsCmd(),
		newHistoryCmd(),
		newExportCmd(),
	)
	return rootCmd
}

// loadConfig resolves defaults, the config file, environment variables and
// finally the global flags, in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	for flag, dst := range map[string]*string{
		"log-level":   &cfg.Logging.Level,
		"log-format":  &cfg.Logging.Format,
		"results-dir": &cfg.Output.ResultsDir,
		"store":       &cfg.Output.Store,
		"db-path":     &cfg.Output.DBPath,
	} {
		if cmd.Flags().Changed(flag) {
			*dst, _ = cmd.Flags().GetString(flag)
		}
	}
	return cfg, nil
}

func newClient(cmd *cobra.Command, cfg *config.Config) (*faultsim.Client, error) {
	return faultsim.New(faultsim.Options{
		StoreKind:  cfg.Output.Store,
		DBPath:     cfg.Output.DBPath,
		ResultsDir: cfg.Output.ResultsDir,
		Console:    cmd.OutOrStdout(),
		Logger:     logging.NewLoggerWithFormat(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr()),
	})
}

func jsonOutput(cmd *cobra.Command) bool {
	jsonOut, _ := cmd.Flags().GetBool("json")
	return jsonOut
}
