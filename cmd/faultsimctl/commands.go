package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"faultsim/internal/config"
	"faultsim/pkg/faultsim"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput(cmd) {
				json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"version": version})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "faultsimctl version %s\n", version)
			}
		},
	}
}

// addRunFlags registers per-run overrides of the run and fault sections.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("label", "", "result-table column label")
	cmd.Flags().Int("epochs", 0, "training epochs (0 records the baseline only)")
	cmd.Flags().Int("batch-size", 0, "batch size (0 trains on the full set)")
	cmd.Flags().Uint64("seed", 0, "fault mask, noise and weight-init seed")
	cmd.Flags().Float64("lr", 0, "SGD learning rate")
	cmd.Flags().Float64("momentum", 0, "SGD momentum")
	cmd.Flags().Float64("sigma", 0, "write variability standard deviation")
	cmd.Flags().Float64("decay", 0, "per-step conductance decay factor")
	cmd.Flags().Int("precision", 0, "conductance levels above the lowest (0 disables quantization)")
	cmd.Flags().Float64("upper-bound", 0, "upper conductance bound")
	cmd.Flags().Float64("lower-bound", 0, "lower conductance bound")
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("label") {
		cfg.Run.Label, _ = flags.GetString("label")
	}
	if flags.Changed("epochs") {
		cfg.Run.Epochs, _ = flags.GetInt("epochs")
	}
	if flags.Changed("batch-size") {
		cfg.Run.BatchSize, _ = flags.GetInt("batch-size")
	}
	if flags.Changed("seed") {
		cfg.Run.Seed, _ = flags.GetUint64("seed")
	}
	if flags.Changed("lr") {
		cfg.Run.LearningRate, _ = flags.GetFloat64("lr")
	}
	if flags.Changed("momentum") {
		cfg.Run.Momentum, _ = flags.GetFloat64("momentum")
	}
	if flags.Changed("sigma") {
		cfg.Fault.Sigma, _ = flags.GetFloat64("sigma")
	}
	if flags.Changed("decay") {
		cfg.Fault.Decay, _ = flags.GetFloat64("decay")
	}
	if flags.Changed("precision") {
		cfg.Fault.Precision, _ = flags.GetInt("precision")
	}
	if flags.Changed("upper-bound") {
		cfg.Fault.UpperBound, _ = flags.GetFloat64("upper-bound")
	}
	if flags.Changed("lower-bound") {
		cfg.Fault.LowerBound, _ = flags.GetFloat64("lower-bound")
	}
}

func runRequest(cfg *config.Config) faultsim.RunRequest {
	sgd := cfg.SGD()
	return faultsim.RunRequest{
		Label:        cfg.Run.Label,
		Fault:        cfg.Fault,
		Layers:       cfg.Network.Layers,
		Data:         cfg.Synthetic(),
		Epochs:       cfg.Run.Epochs,
		BatchSize:    cfg.Run.BatchSize,
		Seed:         cfg.Run.Seed,
		LearningRate: sgd.LearningRate,
		Momentum:     sgd.Momentum,
	}
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Train one network under the configured fault model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			client, err := newClient(cmd, cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			summary, err := client.Run(cmd.Context(), runRequest(cfg))
			if err != nil {
				return err
			}
			return printRunSummary(cmd, summary)
		},
	}
	addRunFlags(cmd)
	return cmd
}

func printRunSummary(cmd *cobra.Command, summary faultsim.RunSummary) error {
	out := cmd.OutOrStdout()
	if jsonOutput(cmd) {
		return json.NewEncoder(out).Encode(map[string]any{
			"run_id":        summary.RunID,
			"label":         summary.Label,
			"artifacts_dir": summary.ArtifactsDir,
			"final":         summary.Final,
			"duration_ms":   summary.Duration.Milliseconds(),
		})
	}
	fmt.Fprintf(out, "run_id=%s label=%s final_loss=%v final_accuracy=%.2f%% took=%s artifacts=%s\n",
		summary.RunID, summary.Label, summary.Final.Loss, summary.Final.Accuracy*100,
		summary.Duration.Round(time.Millisecond), summary.ArtifactsDir)
	return nil
}

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Train one network per value of a fault parameter",
		Long: `Train the configured network once per value of one fault parameter
(sigma, decay, precision, upper_bound or lower_bound). Each run writes its own
column, labelled "<parameter>=<value>", to the shared result tables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, cfg)
			if cmd.Flags().Changed("parameter") {
				cfg.Sweep.Parameter, _ = cmd.Flags().GetString("parameter")
			}
			if cmd.Flags().Changed("values") {
				cfg.Sweep.Values, _ = cmd.Flags().GetFloat64Slice("values")
			}
			if cfg.Sweep.Parameter == "" {
				return errors.New("sweep requires --parameter or sweep.parameter in the config")
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			client, err := newClient(cmd, cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			summary, err := client.Sweep(cmd.Context(), faultsim.SweepRequest{
				Base:      runRequest(cfg),
				Parameter: cfg.Sweep.Parameter,
				Values:    cfg.Sweep.Values,
			})
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(summary)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sweep_id=%s runs=%d\n", summary.SweepID, len(summary.Runs))
			for _, run := range summary.Runs {
				if err := printRunSummary(cmd, run); err != nil {
					return err
				}
			}
			return nil
		},
	}
	addRunFlags(cmd)
	cmd.Flags().String("parameter", "", "fault parameter to vary: sigma|decay|precision|upper_bound|lower_bound")
	cmd.Flags().Float64Slice("values", nil, "comma-separated parameter values")
	return cmd
}

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List finished runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			if limit <= 0 {
				return errors.New("limit must be > 0")
			}
			sweepID, _ := cmd.Flags().GetString("sweep")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			client, err := newClient(cmd, cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			runs, err := client.Runs(cmd.Context(), faultsim.RunsRequest{Limit: limit, SweepID: sweepID})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return json.NewEncoder(out).Encode(runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "no runs found")
				return nil
			}
			return writeRunsTable(out, runs)
		},
	}
	cmd.Flags().Int("limit", 20, "max runs to list")
	cmd.Flags().String("sweep", "", "only list runs of this sweep id")
	return cmd
}

func writeRunsTable(out io.Writer, runs []faultsim.RunItem) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tLABEL\tEPOCHS\tSIGMA\tDECAY\tPRECISION\tLOSS\tACCURACY\tCREATED")
	for _, run := range runs {
		created := run.CreatedAtUTC
		if ts, err := time.Parse(time.RFC3339Nano, run.CreatedAtUTC); err == nil {
			created = humanize.Time(ts)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%v\t%v\t%d\t%.4f\t%.2f%%\t%s\n",
			run.RunID, run.Label, run.Epochs, run.Sigma, run.Decay, run.Precision,
			run.Final.Loss, run.Final.Accuracy*100, created)
	}
	return tw.Flush()
}

func newSweepsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweeps",
		Short: "List recorded parameter sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			client, err := newClient(cmd, cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			sweeps, err := client.Sweeps(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return json.NewEncoder(out).Encode(sweeps)
			}
			if len(sweeps) == 0 {
				fmt.Fprintln(out, "no sweeps found")
				return nil
			}
			for _, sweep := range sweeps {
				fmt.Fprintf(out, "sweep_id=%s parameter=%s progress=%s runs=%d/%d\n",
					sweep.ID, sweep.Parameter, sweep.ProgressFlag, sweep.RunIndex, sweep.TotalRuns)
			}
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the per-epoch loss and accuracy of one run",
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, _ := cmd.Flags().GetString("run-id")
			latest, _ := cmd.Flags().GetBool("latest")
			showConfig, _ := cmd.Flags().GetBool("show-config")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			client, err := newClient(cmd, cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			req := faultsim.HistoryRequest{RunID: runID, Latest: latest}
			history, err := client.History(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if showConfig {
				runCfg, err := client.RunConfig(cmd.Context(), req)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return json.NewEncoder(out).Encode(map[string]any{
						"config":  runCfg,
						"history": history,
					})
				}
				f := runCfg.Fault
				fmt.Fprintf(out, "run_id=%s label=%s sigma=%v decay=%v precision=%d bounds=[%v, %v] stuck=%v/%v/%v lr=%v momentum=%v\n",
					runCfg.RunID, runCfg.Label, f.Sigma, f.Decay, f.Precision, f.LowerBound, f.UpperBound,
					f.LowerFraction, f.ZeroFraction, f.UpperFraction, runCfg.LearningRate, runCfg.Momentum)
			} else if jsonOutput(cmd) {
				return json.NewEncoder(out).Encode(history)
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "EPOCH\tLOSS\tACCURACY")
			for _, p := range history {
				fmt.Fprintf(tw, "%d\t%v\t%.2f%%\n", p.Epoch, p.Loss, p.Accuracy*100)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().String("run-id", "", "run id")
	cmd.Flags().Bool("latest", false, "use the most recent run")
	cmd.Flags().Bool("show-config", false, "also print the fault and optimizer config the run used")
	return cmd
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy one run's artifacts to an export directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, _ := cmd.Flags().GetString("run-id")
			latest, _ := cmd.Flags().GetBool("latest")
			outDir, _ := cmd.Flags().GetString("out")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			client, err := newClient(cmd, cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			exported, err := client.Export(cmd.Context(), faultsim.ExportRequest{RunID: runID, Latest: latest, OutDir: outDir})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported run_id=%s dir=%s\n", exported.RunID, exported.Directory)
			return nil
		},
	}
	cmd.Flags().String("run-id", "", "run id")
	cmd.Flags().Bool("latest", false, "export the most recent run")
	cmd.Flags().String("out", "", "export directory (default exports)")
	return cmd
}
