package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"spikeflow/internal/config"
	"spikeflow/internal/ledger"
	"spikeflow/internal/logging"
	"spikeflow/internal/pipeline"
	"spikeflow/internal/preflight"
	"spikeflow/internal/services"
)

const completionBanner = "Batch processing complete. SPIKES ARE SORTED! :)"

type runFlags struct {
	dataFolder       string
	outputFolder     string
	prbFile          string
	disableBatch     bool
	recordingFile    string
	streamID         string
	freqMin          float64
	freqMax          float64
	notchFreq        float64
	whitenDtype      string
	sorter           string
	sortParams       string
	forceCPU         bool
	msBefore         float64
	msAfter          float64
	nJobs            int
	totalMemory      string
	computePC        bool
	computeAmps      bool
	randomSpikesMax  int
	pcNComponents    int
	pcMode           string
	spikeAmpPeakSign string
	keepPreprocessed bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	defaults := config.Default()
	flags := runFlags{
		computePC:   defaults.Features.ComputePCFeatures,
		computeAmps: defaults.Features.ComputeAmplitudes,
	}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sort every recording under the data folder",
		Long: "Discover recordings under the data folder and run each one through\n" +
			"preprocessing, sorting, waveform extraction, feature computation, and Phy export.\n" +
			"Flags override the configuration file for this invocation only.",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cfg, err := buildRunConfig(cmd, base, &flags)
			if err != nil {
				return err
			}
			return executeRun(cmd, ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.dataFolder, "data-folder", "", "Root directory searched for recordings")
	f.StringVar(&flags.outputFolder, "output-folder", "", "Root directory for output bundles (default \".\")")
	f.StringVar(&flags.prbFile, "prb-file", "", "Probe layout file (default: the probe shipped next to the executable)")
	f.BoolVar(&flags.disableBatch, "disable-batch", false, "Process a single recording instead of the whole folder")
	f.StringVar(&flags.recordingFile, "recording-file", "", "Recording to process when batch mode is disabled")
	f.StringVar(&flags.streamID, "stream-id", defaults.Recording.StreamID, "Stream identifier within each recording")
	f.Float64Var(&flags.freqMin, "freq-min", defaults.Preprocessing.FreqMin, "Bandpass low cutoff in Hz")
	f.Float64Var(&flags.freqMax, "freq-max", defaults.Preprocessing.FreqMax, "Bandpass high cutoff in Hz")
	f.Float64Var(&flags.notchFreq, "notch-freq", 0, "Notch filter frequency in Hz (0 disables)")
	f.StringVar(&flags.whitenDtype, "whiten-dtype", defaults.Preprocessing.WhitenDtype, "Sample type of the whitened recording")
	f.StringVar(&flags.sorter, "sorter", defaults.Sorter.Name, "Spike sorter: kilosort4 or mountainsort5")
	f.StringVar(&flags.sortParams, "sort-params", "", "Sorter parameter overrides as a JSON object")
	f.BoolVar(&flags.forceCPU, "force-cpu", false, "Sort on the CPU even when a GPU is available")
	f.Float64Var(&flags.msBefore, "ms-before", defaults.Waveforms.MsBefore, "Milliseconds of waveform before each spike")
	f.Float64Var(&flags.msAfter, "ms-after", defaults.Waveforms.MsAfter, "Milliseconds of waveform after each spike")
	f.IntVar(&flags.nJobs, "n-jobs", defaults.Waveforms.NJobs, "Parallel jobs for waveform extraction (-1 for all cores)")
	f.StringVar(&flags.totalMemory, "total-memory", defaults.Waveforms.TotalMemory, "Memory budget for waveform extraction")
	f.Var(newYesNoValue(&flags.computePC), "compute-pc-features", "Compute principal component features (yes/no)")
	f.Var(newYesNoValue(&flags.computeAmps), "compute-amplitudes", "Compute spike amplitudes (yes/no)")
	f.IntVar(&flags.randomSpikesMax, "random-spikes-max", defaults.Waveforms.MaxSpikesPerUnit, "Maximum spikes sampled per unit")
	f.IntVar(&flags.pcNComponents, "pc-n-components", defaults.Features.PCNComponents, "Number of principal components")
	f.StringVar(&flags.pcMode, "pc-mode", defaults.Features.PCMode, "Principal component mode")
	f.StringVar(&flags.spikeAmpPeakSign, "spike-amp-peak-sign", defaults.Features.SpikeAmpPeakSign, "Peak sign for spike amplitudes: neg, pos, or both")
	f.BoolVar(&flags.keepPreprocessed, "keep-preprocessed", false, "Copy the preprocessed recording into each bundle")

	return cmd
}

// buildRunConfig overlays the flags the user actually set on a copy of the
// loaded configuration, then normalizes and validates the result.
func buildRunConfig(cmd *cobra.Command, base *config.Config, flags *runFlags) (*config.Config, error) {
	cfg := *base
	cfg.Sorter.Params = maps.Clone(base.Sorter.Params)

	changed := cmd.Flags().Changed
	if changed("data-folder") {
		cfg.Paths.InputDir = flags.dataFolder
	}
	if changed("output-folder") {
		cfg.Paths.OutputDir = flags.outputFolder
	}
	if changed("prb-file") {
		cfg.Paths.ProbeFile = flags.prbFile
	}
	if changed("disable-batch") {
		cfg.Recording.DisableBatch = flags.disableBatch
	}
	if changed("recording-file") {
		cfg.Recording.File = flags.recordingFile
	}
	if changed("stream-id") {
		cfg.Recording.StreamID = flags.streamID
	}
	if changed("freq-min") {
		cfg.Preprocessing.FreqMin = flags.freqMin
	}
	if changed("freq-max") {
		cfg.Preprocessing.FreqMax = flags.freqMax
	}
	if changed("notch-freq") {
		cfg.Preprocessing.NotchFreq = flags.notchFreq
	}
	if changed("whiten-dtype") {
		cfg.Preprocessing.WhitenDtype = flags.whitenDtype
	}
	if changed("sorter") {
		cfg.Sorter.Name = flags.sorter
	}
	if changed("force-cpu") {
		cfg.Sorter.ForceCPU = flags.forceCPU
	}
	if changed("ms-before") {
		cfg.Waveforms.MsBefore = flags.msBefore
	}
	if changed("ms-after") {
		cfg.Waveforms.MsAfter = flags.msAfter
	}
	if changed("n-jobs") {
		cfg.Waveforms.NJobs = flags.nJobs
	}
	if changed("total-memory") {
		cfg.Waveforms.TotalMemory = flags.totalMemory
	}
	if changed("random-spikes-max") {
		cfg.Waveforms.MaxSpikesPerUnit = flags.randomSpikesMax
	}
	if changed("compute-pc-features") {
		cfg.Features.ComputePCFeatures = flags.computePC
	}
	if changed("compute-amplitudes") {
		cfg.Features.ComputeAmplitudes = flags.computeAmps
	}
	if changed("pc-n-components") {
		cfg.Features.PCNComponents = flags.pcNComponents
	}
	if changed("pc-mode") {
		cfg.Features.PCMode = flags.pcMode
	}
	if changed("spike-amp-peak-sign") {
		cfg.Features.SpikeAmpPeakSign = flags.spikeAmpPeakSign
	}
	if changed("keep-preprocessed") {
		cfg.Output.KeepPreprocessed = flags.keepPreprocessed
	}
	if changed("sort-params") {
		overrides, err := config.ParseSortParams(flags.sortParams)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "cli", "parse sort params",
				"Error parsing sort parameters. Please provide a valid JSON string.", err)
		}
		cfg.MergeSortParams(overrides)
	}

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Paths.InputDir == "" {
		return nil, errors.New("no data folder: pass --data-folder or set paths.input_dir")
	}
	return &cfg, nil
}

func executeRun(cmd *cobra.Command, cctx *commandContext, cfg *config.Config) error {
	out := cmd.OutOrStdout()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logger, err := newLogger(cfg, out)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if removed := logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, logging.RetentionTarget{
		Dir:     cfg.Paths.LogDir,
		Pattern: "*.log",
		Exclude: []string{cfg.LogFilePath()},
	}); removed > 0 {
		logger.Debug("old logs removed", logging.Int("count", removed))
	}

	if missing := preflight.MissingRequired(preflight.CheckSystemDeps(cfg)); len(missing) > 0 {
		return services.Wrap(services.ErrConfiguration, "cli", "check dependencies",
			"missing required dependencies: "+strings.Join(missing, ", ")+" (run `spikeflow check` for details)", nil)
	}
	if result := preflight.CheckWritableTarget("Output directory", cfg.Paths.OutputDir); !result.Passed {
		return services.Wrap(services.ErrConfiguration, "cli", "check output", result.Detail, nil)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []pipeline.Option{pipeline.WithLogger(logger)}
	if store, err := ledger.Open(cfg); err != nil {
		logging.WarnWithContext(logger, "run history unavailable", "history_unavailable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions on "+cfg.Paths.StateDir),
			logging.String(logging.FieldImpact, "this batch will not appear in `spikeflow history`"),
		)
	} else {
		defer store.Close()
		opts = append(opts, pipeline.WithHistory(store))
	}

	driver := pipeline.New(cfg, cctx.toolkit(cfg, logger), opts...)
	stats, runErr := driver.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	if stats.Discovered == 0 {
		fmt.Fprintln(out, "No recording files found in the provided data folder.")
		return nil
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, renderOutcomes(stats.Outcomes))
	fmt.Fprintln(out, stats.Summary())

	if runErr != nil {
		fmt.Fprintf(out, "Interrupted after %s; rerun to resume from the first unfinished recording.\n",
			stats.Elapsed.Round(time.Second))
		return context.Canceled
	}

	banner := completionBanner
	if shouldColorize(out) {
		banner = text.Colors{text.FgGreen, text.Bold}.Sprint(banner)
	}
	fmt.Fprintln(out, banner)
	return nil
}

func renderOutcomes(outcomes []pipeline.Outcome) string {
	rows := make([][]string, 0, len(outcomes))
	for _, o := range outcomes {
		units, spikes := "-", "-"
		if o.Status == ledger.StatusDone || o.Units > 0 {
			units = humanize.Comma(int64(o.Units))
			spikes = humanize.Comma(int64(o.Spikes))
		}
		rows = append(rows, []string{
			o.Bundle,
			string(o.Status),
			units,
			spikes,
			o.Elapsed.Round(time.Second).String(),
			o.Message,
		})
	}
	return renderTable(
		[]string{"Recording", "Status", "Units", "Spikes", "Elapsed", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	)
}

// yesNoValue parses the boolean spellings accepted on the command line:
// yes/no, true/false, t/f, y/n, and 1/0. Unlike a plain bool flag it always
// takes a value.
type yesNoValue struct {
	target *bool
}

func newYesNoValue(target *bool) *yesNoValue {
	return &yesNoValue{target: target}
}

func (v *yesNoValue) String() string {
	if v.target == nil {
		return "false"
	}
	return strconv.FormatBool(*v.target)
}

func (v *yesNoValue) Set(raw string) error {
	parsed, err := parseYesNo(raw)
	if err != nil {
		return err
	}
	*v.target = parsed
	return nil
}

func (v *yesNoValue) Type() string { return "yes|no" }

func parseYesNo(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "true", "t", "y", "1":
		return true, nil
	case "no", "false", "f", "n", "0":
		return false, nil
	default:
		return false, fmt.Errorf("boolean value expected, got %q", raw)
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	return isTerminal(file)
}
