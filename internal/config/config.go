// Package config assembles run configuration from defaults, an optional YAML
// file and SPECTRAMERGE_* environment variables. Command-line flags are
// applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Sources names the three input tables. Each value is a local path, an
// http(s) URL or an s3://bucket/key location.
type Sources struct {
	RNASeq    string `yaml:"rnaseq" env:"RNASEQ_CSV"`
	Spectral  string `yaml:"spectral" env:"SPECTRAL_CSV"`
	Fieldbook string `yaml:"fieldbook" env:"FIELDBOOK_CSV"`
}

// DefaultSources returns the published 2019 cotton datasets on the CyVerse
// data store. It is passed explicitly into loading as the fallback for any
// location left empty.
func DefaultSources() Sources {
	const base = "https://data.cyverse.org/dav-anon/iplant/home/emmanuelgonzalez/rnaseq_spectral/"
	return Sources{
		RNASeq:    base + "rnaseq/Cotton_TPM_TOP25.csv",
		Spectral:  base + "spectral/2019averagescans.csv",
		Fieldbook: base + "Duke_Fieldbook_2019.csv",
	}
}

// DefaultOutDir is used when no output directory is configured.
const DefaultOutDir = "2019_cotton_rnaseq_spectra"

// Orientation of an input table relative to its canonical layout.
type Orientation string

const (
	OrientationAuto       Orientation = "auto"
	OrientationCanonical  Orientation = "canonical"
	OrientationTransposed Orientation = "transposed"
)

// Schema declares the expected columns of the three inputs.
type Schema struct {
	TranscriptColumn    string      `yaml:"transcript_column" env:"TRANSCRIPT_COLUMN"`
	RNASeqOrientation   Orientation `yaml:"rnaseq_orientation" env:"RNASEQ_ORIENTATION"`
	SpectralKeyColumn   string      `yaml:"spectral_key_column" env:"SPECTRAL_KEY_COLUMN"`
	BandAxisColumn      string      `yaml:"band_axis_column" env:"BAND_AXIS_COLUMN"`
	SpectralOrientation Orientation `yaml:"spectral_orientation" env:"SPECTRAL_ORIENTATION"`
	ScanMarker          string      `yaml:"scan_marker" env:"SCAN_MARKER"`
	FieldbookKeyColumn  string      `yaml:"fieldbook_key_column" env:"FIELDBOOK_KEY_COLUMN"`
	RequiredFields      []string    `yaml:"required_fields" env:"REQUIRED_FIELDS" envSeparator:","`
	GroupBy             []string    `yaml:"group_by" env:"GROUP_BY" envSeparator:","`
	BandMin             *float64    `yaml:"band_min" env:"BAND_MIN"`
	BandMax             *float64    `yaml:"band_max" env:"BAND_MAX"`
	RenamePrefix        string      `yaml:"rename_prefix" env:"RENAME_PREFIX"`
}

// Blob configures the output sink.
type Blob struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	S3     S3     `yaml:"s3" envPrefix:"S3_"`
}

// S3 holds S3 / MinIO connection settings shared by the sink and s3:// sources.
type S3 struct {
	Bucket          string `yaml:"bucket" env:"BUCKET"`
	Region          string `yaml:"region" env:"REGION"`
	Endpoint        string `yaml:"endpoint" env:"ENDPOINT"`
	PathStyle       bool   `yaml:"path_style" env:"PATH_STYLE"`
	AccessKeyID     string `yaml:"-" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"-" env:"SECRET_ACCESS_KEY"`
}

// Ledger configures run-history persistence.
type Ledger struct {
	Driver      string `yaml:"driver" env:"DRIVER"`
	SQLitePath  string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	PostgresDSN string `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
}

// Metrics configures the prometheus textfile export.
type Metrics struct {
	Textfile string `yaml:"textfile" env:"TEXTFILE"`
}

// Log configures the zap logger.
type Log struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// Config is the complete run configuration.
type Config struct {
	Sources     Sources       `yaml:"sources"`
	OutDir      string        `yaml:"out_dir" env:"OUT_DIR"`
	Measure     string        `yaml:"measure" env:"MEASURE"`
	Workers     int           `yaml:"workers" env:"WORKERS"`
	HTTPTimeout time.Duration `yaml:"http_timeout" env:"HTTP_TIMEOUT"`
	Schema      Schema        `yaml:"schema"`
	Blob        Blob          `yaml:"blob" envPrefix:"BLOB_"`
	Ledger      Ledger        `yaml:"ledger" envPrefix:"LEDGER_"`
	Metrics     Metrics       `yaml:"metrics" envPrefix:"METRICS_"`
	Log         Log           `yaml:"log" envPrefix:"LOG_"`
}

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "SPECTRAMERGE_"

// Default returns the baseline configuration. Sources stay empty so that the
// loader falls back to DefaultSources explicitly.
func Default() Config {
	return Config{
		OutDir:      DefaultOutDir,
		Workers:     1,
		HTTPTimeout: 2 * time.Minute,
		Schema: Schema{
			TranscriptColumn:    "Gene",
			RNASeqOrientation:   OrientationAuto,
			SpectralKeyColumn:   "plot",
			BandAxisColumn:      "Lambda",
			SpectralOrientation: OrientationAuto,
			ScanMarker:          "Cotton",
			FieldbookKeyColumn:  "plot",
		},
		Blob:   Blob{Driver: "fs"},
		Ledger: Ledger{Driver: "memory", SQLitePath: "spectramerge.db"},
		Log:    Log{Level: "info", Format: "json"},
	}
}

// Load builds a Config from defaults, then the YAML file at path (skipped
// when path is empty), then the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ResolvedSources fills every empty location from fallback.
func (c Config) ResolvedSources(fallback Sources) Sources {
	out := c.Sources
	if strings.TrimSpace(out.RNASeq) == "" {
		out.RNASeq = fallback.RNASeq
	}
	if strings.TrimSpace(out.Spectral) == "" {
		out.Spectral = fallback.Spectral
	}
	if strings.TrimSpace(out.Fieldbook) == "" {
		out.Fieldbook = fallback.Fieldbook
	}
	return out
}

// MeasureFor returns the configured measure label, or derives it from the
// RNA-Seq location: "tpm" when it mentions TPM, "logfc" otherwise.
func (c Config) MeasureFor(rnaseqLocation string) string {
	if m := strings.TrimSpace(c.Measure); m != "" {
		return strings.ToLower(m)
	}
	if isTPM(rnaseqLocation) {
		return "tpm"
	}
	return "logfc"
}

// TPMGroupBy are the fieldbook columns a TPM export's <entry>_<treatment>
// sample names refer to.
var TPMGroupBy = []string{"entry", "treatment"}

// GroupByFor returns the configured group columns. When none are configured
// (nil) a TPM export is grouped by TPMGroupBy; an explicit empty list keeps
// grouping off.
func (s Schema) GroupByFor(rnaseqLocation string) []string {
	if s.GroupBy != nil {
		return s.GroupBy
	}
	if isTPM(rnaseqLocation) {
		return slices.Clone(TPMGroupBy)
	}
	return nil
}

func isTPM(location string) bool {
	return strings.Contains(strings.ToUpper(location), "TPM")
}

// Validate reports configuration that cannot drive a run.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.OutDir) == "" {
		errs = append(errs, errors.New("out_dir required"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be >= 1, got %d", c.Workers))
	}
	for _, o := range []struct {
		name  string
		value Orientation
	}{
		{"rnaseq_orientation", c.Schema.RNASeqOrientation},
		{"spectral_orientation", c.Schema.SpectralOrientation},
	} {
		switch o.value {
		case OrientationAuto, OrientationCanonical, OrientationTransposed:
		default:
			errs = append(errs, fmt.Errorf("%s: unknown orientation %q", o.name, o.value))
		}
	}
	if c.Schema.TranscriptColumn == "" || c.Schema.FieldbookKeyColumn == "" || c.Schema.SpectralKeyColumn == "" {
		errs = append(errs, errors.New("schema key columns must not be empty"))
	}
	if c.Schema.BandMin != nil && c.Schema.BandMax != nil && *c.Schema.BandMin > *c.Schema.BandMax {
		errs = append(errs, fmt.Errorf("band_min %g greater than band_max %g", *c.Schema.BandMin, *c.Schema.BandMax))
	}
	if c.Schema.RenamePrefix != "" && !strings.Contains(c.Schema.RenamePrefix, "=") {
		errs = append(errs, fmt.Errorf("rename_prefix must look like from=to, got %q", c.Schema.RenamePrefix))
	}
	switch c.Blob.Driver {
	case "fs", "memory":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob.s3.bucket required for s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}
	switch c.Ledger.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Ledger.PostgresDSN == "" {
			errs = append(errs, errors.New("ledger.postgres_dsn required for postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ledger driver %q", c.Ledger.Driver))
	}
	return errors.Join(errs...)
}
