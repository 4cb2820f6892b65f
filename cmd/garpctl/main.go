package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"nichegarp/internal/bestsubsets"
	"nichegarp/internal/config"
	"nichegarp/internal/logging"
	"nichegarp/internal/model"
	"nichegarp/internal/sampler"
	api "nichegarp/pkg/nichegarp"
)

const defaultConfigPath = "garp.yaml"

var version = "dev"

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	a := &app{}
	defer func() {
		_ = a.teardown()
	}()

	root := newRootCmd(a, os.Stdout, os.Stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// app carries what every subcommand needs once the persistent flags have
// been parsed.
type app struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	log    zerolog.Logger
	closer io.Closer
	client *api.Client
	stderr io.Writer
}

func newRootCmd(a *app, stdout, stderr io.Writer) *cobra.Command {
	a.stderr = stderr

	root := &cobra.Command{
		Use:           "garpctl",
		Short:         "Train and project GARP ecological niche models",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigPath, "configuration file, created with defaults when missing")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newInitCmd(a),
		newTrainCmd(a),
		newBestSubsetsCmd(a),
		newPredictCmd(a),
		newRunsCmd(a),
		newDiagnosticsCmd(a),
		newExportCmd(a),
		newPlotCmd(a),
		newSplitCmd(),
		newDescribeCmd(),
		newGenerateCmd(),
		newVersionCmd(),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.LoadFromPath(a.configPath)
	if err != nil {
		return err
	}
	if a.verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.LoggingConfig(), a.stderr)
	if err != nil {
		return err
	}
	client, err := api.New(api.Options{
		StoreKind: cfg.Storage.Kind,
		DBPath:    cfg.Storage.DBPath,
		RunsDir:   cfg.Artifacts.Dir,
		Logger:    &logger,
	})
	if err != nil {
		_ = closer.Close()
		return err
	}

	a.cfg = cfg
	a.log = logger
	a.closer = closer
	a.client = client
	return nil
}

func (a *app) teardown() error {
	var errs []error
	if a.client != nil {
		errs = append(errs, a.client.Close())
		a.client = nil
	}
	if a.closer != nil {
		errs = append(errs, a.closer.Close())
		a.closer = nil
	}
	return errors.Join(errs...)
}

// dataFlags override the data section of the configuration.
type dataFlags struct {
	presence   string
	absence    string
	background string
	normalize  bool
}

func (f *dataFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.presence, "presence", "", "presence occurrences csv")
	cmd.Flags().StringVar(&f.absence, "absence", "", "absence occurrences csv")
	cmd.Flags().StringVar(&f.background, "background", "", "background points csv used as pseudo-absences")
	cmd.Flags().BoolVar(&f.normalize, "normalize", true, "scale environment layers into [-1, +1]")
}

func (f *dataFlags) source(cmd *cobra.Command, cfg *config.Config) api.DataSource {
	src := api.DataSource{
		PresenceCSV:   cfg.Data.PresenceCSV,
		AbsenceCSV:    cfg.Data.AbsenceCSV,
		BackgroundCSV: cfg.Data.BackgroundCSV,
		Normalize:     cfg.Data.Normalize,
	}
	if f.presence != "" {
		src.PresenceCSV = f.presence
	}
	if f.absence != "" {
		src.AbsenceCSV = f.absence
	}
	if f.background != "" {
		src.BackgroundCSV = f.background
	}
	if cmd.Flags().Changed("normalize") {
		src.Normalize = f.normalize
	}
	return src
}

func seedFlag(cmd *cobra.Command, seed *int64) {
	cmd.Flags().Int64Var(seed, "seed", 0, "random seed (defaults to the configured seed)")
}

func resolveSeed(cmd *cobra.Command, seed int64, cfg *config.Config) int64 {
	if cmd.Flags().Changed("seed") {
		return seed
	}
	return cfg.Seed
}

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration and initialize the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.client.Init(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized store=%s config=%s\n", a.cfg.Storage.Kind, a.configPath)
			return nil
		},
	}
}

func newTrainCmd(a *app) *cobra.Command {
	var (
		data    dataFlags
		seed    int64
		plot    bool
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run GARP once and store the fittest rule set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summary, err := a.client.Train(cmd.Context(), api.TrainRequest{
				Data:   data.source(cmd, a.cfg),
				Params: a.cfg.GarpParams(),
				Seed:   resolveSeed(cmd, seed, a.cfg),
				Plot:   plot,
				Observer: func(d model.GenerationDiagnostics) {
					a.log.Debug().
						Int("generation", d.Generation).
						Int("rules", d.Rules).
						Float64("convergence", d.Convergence).
						Float64("best", d.Best).
						Msg("generation finished")
				},
			})
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), summary)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run_id=%s model_id=%s generations=%d convergence=%.6f rules=%d\n",
				summary.RunID, summary.ModelID, summary.Generations, summary.Convergence, summary.Rules)
			fmt.Fprintf(cmd.OutOrStdout(), "artifacts=%s\n", summary.ArtifactsDir)
			return nil
		},
	}
	data.register(cmd)
	seedFlag(cmd, &seed)
	cmd.Flags().BoolVar(&plot, "plot", false, "render convergence.png into the run directory")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the summary as JSON")
	return cmd
}

func newBestSubsetsCmd(a *app) *cobra.Command {
	var (
		data    dataFlags
		seed    int64
		runs    int
		threads int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "best-subsets",
		Short: "Run GARP repeatedly and keep the runs with the best omission and commission",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params := a.cfg.BestSubsetsParams()
			if cmd.Flags().Changed("runs") {
				params.TotalRuns = runs
			}
			if cmd.Flags().Changed("threads") {
				params.MaxThreads = threads
			}
			summary, err := a.client.BestSubsets(cmd.Context(), api.BestSubsetsRequest{
				Data:   data.source(cmd, a.cfg),
				Garp:   a.cfg.GarpParams(),
				Params: params,
				Seed:   resolveSeed(cmd, seed, a.cfg),
				OnRun: func(r bestsubsets.RunResult) {
					a.log.Info().
						Int("run", r.RunID).
						Int("generations", r.Generations).
						Float64("omission", r.Omission).
						Float64("commission", r.Commission).
						Msg("best subsets run finished")
				},
			})
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), summary)
			}
			report := summary.Report
			fmt.Fprintf(cmd.OutOrStdout(), "run_id=%s model_id=%s completed=%d selected=%d\n",
				summary.RunID, summary.ModelID, report.Completed, report.Selected)
			fmt.Fprintf(cmd.OutOrStdout(), "omission mean=%.4f std=%.4f commission mean=%.4f std=%.4f\n",
				report.Omission.Mean, report.Omission.Std, report.Commission.Mean, report.Commission.Std)
			fmt.Fprintf(cmd.OutOrStdout(), "artifacts=%s\n", summary.ArtifactsDir)
			fmt.Fprintf(cmd.OutOrStdout(), "member_runs=%s\n", strings.Join(summary.MemberRuns, ","))
			return nil
		},
	}
	data.register(cmd)
	seedFlag(cmd, &seed)
	cmd.Flags().IntVar(&runs, "runs", 0, "total GARP runs (defaults to the configured value)")
	cmd.Flags().IntVar(&threads, "threads", 0, "concurrent runs (defaults to the configured value)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the summary as JSON")
	return cmd
}

func newPredictCmd(a *app) *cobra.Command {
	var (
		modelID string
		input   string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Project a stored model onto environment samples read from csv",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			points, err := sampler.LoadOccurrencesCSV(input, 0)
			if err != nil {
				return err
			}
			samples := make([]model.Sample, len(points))
			for i, p := range points {
				samples[i] = p.Env
			}
			resp, err := a.client.Predict(cmd.Context(), api.PredictRequest{ModelID: modelID, Samples: samples})
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "id\tx\ty\tvalue")
			for i, p := range points {
				id := p.ID
				if id == "" {
					id = strconv.Itoa(i + 1)
				}
				fmt.Fprintf(w, "%s\t%g\t%g\t%.4f\n", id, p.X, p.Y, resp.Values[i])
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&modelID, "model-id", "", "model or ensemble id")
	cmd.Flags().StringVar(&input, "input", "", "csv of points to project")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit predictions as JSON")
	_ = cmd.MarkFlagRequired("model-id")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newRunsCmd(a *app) *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("limit must be > 0")
			}
			items, err := a.client.Runs(cmd.Context(), api.RunsRequest{Limit: limit})
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), items)
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs found")
				return nil
			}
			for _, item := range items {
				fmt.Fprintf(cmd.OutOrStdout(), "run_id=%s kind=%s model_id=%s created_at=%s seed=%d generations=%d convergence=%.6f rules=%d\n",
					item.RunID, item.Kind, item.ModelID, item.CreatedAtUTC, item.Seed, item.Generations, item.Convergence, item.Rules)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit runs as JSON")
	return cmd
}

func newDiagnosticsCmd(a *app) *cobra.Command {
	var (
		runID   string
		latest  bool
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Show per-generation diagnostics of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				limit = 0
			}
			diagnostics, err := a.client.Diagnostics(cmd.Context(), api.DiagnosticsRequest{RunID: runID, Latest: latest, Limit: limit})
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), diagnostics)
			}
			for _, d := range diagnostics {
				fmt.Fprintf(cmd.OutOrStdout(), "generation=%d rules=%d convergence=%.6f best=%.4f mean=%.4f worst=%.4f evicted=%d\n",
					d.Generation, d.Rules, d.Convergence, d.Best, d.Mean, d.Worst, d.Evicted)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&latest, "latest", false, "use the most recent run")
	cmd.Flags().IntVar(&limit, "limit", 50, "max generations to print (<=0 for all)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit diagnostics as JSON")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var (
		runID  string
		latest bool
		outDir string
		format string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy run artifacts, optionally re-encoding the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summary, err := a.client.Export(cmd.Context(), api.ExportRequest{
				RunID:  runID,
				Latest: latest,
				OutDir: outDir,
				Format: format,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported run_id=%s dir=%s\n", summary.RunID, summary.Directory)
			if summary.ModelFile != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "model=%s\n", summary.ModelFile)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&latest, "latest", false, "export the most recent run")
	cmd.Flags().StringVar(&outDir, "out", "", "export directory")
	cmd.Flags().StringVar(&format, "format", "json", "extra model encoding: json|yaml|binary")
	return cmd
}

func newPlotCmd(a *app) *cobra.Command {
	var (
		runID  string
		latest bool
	)
	cmd := &cobra.Command{
		Use:   "plot",
		Short: "Render the convergence plot of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := a.client.Plot(cmd.Context(), api.PlotRequest{RunID: runID, Latest: latest})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "plot=%s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&latest, "latest", false, "plot the most recent run")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the garpctl version",
		Args:  cobra.NoArgs,
		// Printing the version needs neither the configuration nor a store.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "garpctl %s\n", version)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
