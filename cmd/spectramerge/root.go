package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"spectramerge/internal/blob"
	"spectramerge/internal/config"
	"spectramerge/internal/ledger"
	"spectramerge/internal/logging"
	"spectramerge/internal/merge"
	"spectramerge/internal/metrics"
	"spectramerge/internal/source"
)

// options holds flag values; they override file and environment settings
// only when set on the command line.
type options struct {
	configPath      string
	verbose         bool
	rnaseq          string
	spectral        string
	fieldbook       string
	outDir          string
	workers         int
	measure         string
	groupBy         []string
	renamePrefix    string
	rnaseqOrient    string
	spectralOrient  string
	bandMin         float64
	bandMax         float64
	metricsTextfile string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "spectramerge",
		Short: "Merge RNA-Seq, hyperspectral and fieldbook tables into per-transcript CSVs",
		Long: `spectramerge joins three CSV inputs that share a plot key:

  RNA-Seq expression (transcripts x samples),
  hyperspectral reflectance (samples x bands, or the instrument's bands x scans export),
  fieldbook plot metadata.

For every transcript it writes <transcript>_<measure>_spectra.csv holding the
fieldbook columns, the spectral bands and the transcript's expression value
for each sample present in all three inputs. Inputs default to the published
2019 cotton datasets.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.runMerge(cmd, stdout)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "", "YAML configuration file")
	pf.BoolVarP(&o.verbose, "verbose", "v", false, "Enable debug logging")

	f := root.Flags()
	f.StringVarP(&o.rnaseq, "rnaseq_csv", "r", "", "RNA-Seq CSV location (path, http(s) URL or s3://bucket/key)")
	f.StringVarP(&o.spectral, "spectral_csv", "s", "", "Hyperspectral CSV location")
	f.StringVarP(&o.fieldbook, "fieldbook_csv", "f", "", "Fieldbook CSV location")
	f.StringVarP(&o.outDir, "out_dir", "o", config.DefaultOutDir, "Output directory (key prefix for the s3 sink)")
	f.IntVar(&o.workers, "workers", 1, "Transcripts emitted concurrently")
	f.StringVar(&o.measure, "measure", "", "Measure label in output names (default: tpm if the RNA-Seq location mentions TPM, else logfc)")
	f.StringSliceVar(&o.groupBy, "group-by", nil, "Fieldbook columns whose joined values name RNA-Seq samples; replicate spectra are averaged (default: entry,treatment for TPM exports; empty disables)")
	f.StringVar(&o.renamePrefix, "rename-prefix", "", "Rewrite a transcript id prefix, as from=to (e.g. Gohir.=Gh_)")
	f.StringVar(&o.rnaseqOrient, "rnaseq-orientation", string(config.OrientationAuto), "RNA-Seq layout: auto, canonical or transposed")
	f.StringVar(&o.spectralOrient, "spectral-orientation", string(config.OrientationAuto), "Spectral layout: auto, canonical or transposed")
	f.Float64Var(&o.bandMin, "band-min", 0, "Lowest band to emit")
	f.Float64Var(&o.bandMax, "band-max", 0, "Highest band to emit")
	f.StringVar(&o.metricsTextfile, "metrics-textfile", "", "Write prometheus metrics to this file at exit")

	root.AddCommand(newRunsCmd(o, stdout))
	return root
}

// loadConfig layers flags over the file and environment configuration.
func (o *options) loadConfig(flags *pflag.FlagSet) (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	set := func(name string, apply func()) {
		if f := flags.Lookup(name); f != nil && f.Changed {
			apply()
		}
	}
	set("rnaseq_csv", func() { cfg.Sources.RNASeq = o.rnaseq })
	set("spectral_csv", func() { cfg.Sources.Spectral = o.spectral })
	set("fieldbook_csv", func() { cfg.Sources.Fieldbook = o.fieldbook })
	set("out_dir", func() { cfg.OutDir = o.outDir })
	set("workers", func() { cfg.Workers = o.workers })
	set("measure", func() { cfg.Measure = o.measure })
	set("group-by", func() { cfg.Schema.GroupBy = o.groupBy })
	set("rename-prefix", func() { cfg.Schema.RenamePrefix = o.renamePrefix })
	set("rnaseq-orientation", func() { cfg.Schema.RNASeqOrientation = config.Orientation(o.rnaseqOrient) })
	set("spectral-orientation", func() { cfg.Schema.SpectralOrientation = config.Orientation(o.spectralOrient) })
	set("band-min", func() { v := o.bandMin; cfg.Schema.BandMin = &v })
	set("band-max", func() { v := o.bandMax; cfg.Schema.BandMax = &v })
	set("metrics-textfile", func() { cfg.Metrics.Textfile = o.metricsTextfile })
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func s3Config(cfg config.Config) blob.S3Config {
	return blob.S3Config{
		Region:          cfg.Blob.S3.Region,
		Bucket:          cfg.Blob.S3.Bucket,
		Endpoint:        cfg.Blob.S3.Endpoint,
		AccessKeyID:     cfg.Blob.S3.AccessKeyID,
		SecretAccessKey: cfg.Blob.S3.SecretAccessKey,
		PathStyle:       cfg.Blob.S3.PathStyle,
	}
}

func openLedger(ctx context.Context, cfg config.Config) (ledger.Ledger, error) {
	return ledger.Open(ctx, ledger.Options{
		Driver:      ledger.Driver(cfg.Ledger.Driver),
		SQLitePath:  cfg.Ledger.SQLitePath,
		PostgresDSN: cfg.Ledger.PostgresDSN,
	})
}

func (o *options) runMerge(cmd *cobra.Command, stdout io.Writer) error {
	cfg, err := o.loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, o.verbose)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := blob.Open(ctx, blob.Options{
		Driver:   blob.Driver(cfg.Blob.Driver),
		Location: cfg.OutDir,
		S3:       s3Config(cfg),
	})
	if err != nil {
		return &merge.WriteError{Key: cfg.OutDir, Err: fmt.Errorf("open output: %w", err)}
	}

	runs, err := openLedger(ctx, cfg)
	if err != nil {
		log.Warn("ledger unavailable, run history not kept", zap.String("driver", cfg.Ledger.Driver), zap.Error(err))
		runs = ledger.NewMemory()
	}
	defer func() { _ = runs.Close() }()

	rec := metrics.New()
	engine, err := merge.NewEngine(merge.Options{
		Config:   cfg,
		Fallback: config.DefaultSources(),
		Opener: source.New(source.Options{
			Timeout: cfg.HTTPTimeout,
			S3:      source.S3FromConfig(s3Config(cfg)),
			Logger:  log,
		}),
		Store:   store,
		Ledger:  runs,
		Metrics: rec,
		Logger:  log,
	})
	if err != nil {
		return err
	}

	report, runErr := engine.Run(ctx)
	if path := cfg.Metrics.Textfile; path != "" {
		if err := rec.WriteTextfile(path); err != nil {
			log.Warn("metrics textfile not written", zap.String("path", path), zap.Error(err))
		}
	}
	if runErr != nil {
		return runErr
	}
	_, err = fmt.Fprintf(stdout, "wrote %d transcript tables to %s (run %s)\n", len(report.Artifacts), report.OutDir, report.RunID)
	return err
}
