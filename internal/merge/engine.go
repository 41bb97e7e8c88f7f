package merge

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"spectramerge/internal/blob"
	"spectramerge/internal/config"
	"spectramerge/internal/ledger"
	"spectramerge/internal/logging"
	"spectramerge/internal/metrics"
)

// Stage names reported to metrics.
const (
	StageLoad = "load"
	StageJoin = "join"
	StageEmit = "emit"
)

// Options wires an Engine. Opener and Store are required; Store must already
// be bound to the output directory.
type Options struct {
	Config   config.Config
	Fallback config.Sources
	Opener   Opener
	Store    blob.Store
	Ledger   ledger.Ledger
	Metrics  *metrics.Recorder
	Logger   *zap.Logger
	Now      func() time.Time
	NewRunID func() string
}

// Engine runs the load, join and emit pipeline.
type Engine struct {
	cfg      config.Config
	fallback config.Sources
	loader   *Loader
	store    blob.Store
	ledger   ledger.Ledger
	metrics  *metrics.Recorder
	log      *zap.Logger
	now      func() time.Time
	newRunID func() string
}

// NewEngine validates opts and constructs an Engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Opener == nil {
		return nil, errors.New("merge: opener required")
	}
	if opts.Store == nil {
		return nil, errors.New("merge: output store required")
	}
	e := &Engine{
		cfg:      opts.Config,
		fallback: opts.Fallback,
		store:    opts.Store,
		ledger:   opts.Ledger,
		metrics:  opts.Metrics,
		log:      logging.OrNop(opts.Logger),
		now:      opts.Now,
		newRunID: opts.NewRunID,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newRunID == nil {
		e.newRunID = func() string { return uuid.NewString() }
	}
	if e.cfg.Workers < 1 {
		e.cfg.Workers = 1
	}
	e.loader = NewLoader(opts.Opener, e.cfg.Schema, e.log)
	return e, nil
}

// Artifact describes one emitted table.
type Artifact struct {
	Transcript string
	Key        string
	URL        string
	Rows       int
	Size       int64
}

// Report summarizes a run.
type Report struct {
	RunID       string
	Sources     config.Sources
	OutDir      string
	Measure     string
	Transcripts int
	Artifacts   []Artifact
	Excluded    map[string]int
	Duration    time.Duration
}

// Run loads the inputs once, joins spectra and fieldbook once, then builds
// and emits one table per transcript in RNA-Seq order. The first failure
// stops the remaining work and is returned with the partial report.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	start := e.now()
	sources := e.cfg.ResolvedSources(e.fallback)
	report := Report{
		RunID:    e.newRunID(),
		Sources:  sources,
		OutDir:   e.cfg.OutDir,
		Measure:  e.cfg.MeasureFor(sources.RNASeq),
		Excluded: make(map[string]int),
	}
	log := e.log.With(zap.String("run_id", report.RunID))
	log.Info("run started",
		zap.String("rnaseq", sources.RNASeq),
		zap.String("spectral", sources.Spectral),
		zap.String("fieldbook", sources.Fieldbook),
		zap.String("out_dir", report.OutDir),
		zap.String("measure", report.Measure),
		zap.Int("workers", e.cfg.Workers))

	e.beginRun(ctx, log, report, start)
	err := e.run(ctx, log, &report)
	report.Duration = e.now().Sub(start)
	e.finishRun(ctx, log, report, err)

	if err != nil {
		log.Error("run failed", zap.Error(err), zap.Int("artifacts", len(report.Artifacts)))
		return report, err
	}
	log.Info("run finished",
		zap.Int("transcripts", report.Transcripts),
		zap.Int("artifacts", len(report.Artifacts)),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func (e *Engine) run(ctx context.Context, log *zap.Logger, report *Report) error {
	var ds *Dataset
	if err := e.stage(StageLoad, func() (err error) {
		ds, err = e.loader.Load(ctx, report.Sources, e.fallback)
		return err
	}); err != nil {
		return err
	}
	report.Transcripts = len(ds.RNASeq.Transcripts)

	var joined *Joined
	_ = e.stage(StageJoin, func() error {
		joined = JoinFieldbook(ds.Spectra, ds.Fieldbook)
		return nil
	})
	maps.Copy(report.Excluded, joined.Excluded)
	maps.Copy(report.Excluded, RNASeqExclusions(ds.RNASeq, joined))
	for _, reason := range slices.Sorted(maps.Keys(report.Excluded)) {
		n := report.Excluded[reason]
		e.metrics.Excluded(reason, n)
		log.Info("samples excluded", zap.String("reason", reason), zap.Int("count", n))
	}
	log.Info("join complete", zap.Int("samples", len(joined.Keys)), zap.Int("bands", len(joined.Bands)))

	if err := CheckFileNames(ds.RNASeq.Transcripts, report.Measure); err != nil {
		return err
	}
	if err := CheckTranscriptColumns(ds.RNASeq.Transcripts, joined); err != nil {
		return err
	}

	return e.stage(StageEmit, func() error {
		artifacts, err := e.emitAll(ctx, log, report, ds.RNASeq, joined)
		report.Artifacts = artifacts
		return err
	})
}

func (e *Engine) emitAll(ctx context.Context, log *zap.Logger, report *Report, expr *Expression, joined *Joined) ([]Artifact, error) {
	sink := NewSink(e.store, report.Measure)
	done := make([]*Artifact, len(expr.Transcripts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, id := range expr.Transcripts {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t, err := BuildTranscriptTable(id, expr, joined)
			if err != nil {
				return err
			}
			info, err := sink.Emit(gctx, id, t)
			if err != nil {
				return err
			}
			a := Artifact{Transcript: id, Key: info.Key, URL: info.URL, Rows: len(t.Rows), Size: info.Size}
			done[i] = &a
			e.metrics.Emitted(info.Size)
			e.recordArtifact(ctx, log, report.RunID, a, info.ETag)
			log.Debug("transcript emitted", zap.String("transcript", id), zap.String("key", info.Key), zap.Int("rows", a.Rows))
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	out := make([]Artifact, 0, len(done))
	for _, a := range done {
		if a != nil {
			out = append(out, *a)
		}
	}
	return out, err
}

func (e *Engine) stage(name string, fn func() error) error {
	start := e.now()
	err := fn()
	e.metrics.Observe(name, err == nil, e.now().Sub(start))
	return err
}

func (e *Engine) beginRun(ctx context.Context, log *zap.Logger, report Report, start time.Time) {
	if e.ledger == nil {
		return
	}
	err := e.ledger.BeginRun(ctx, ledger.Run{
		ID:        report.RunID,
		StartedAt: start,
		Status:    ledger.StatusRunning,
		RNASeq:    report.Sources.RNASeq,
		Spectral:  report.Sources.Spectral,
		Fieldbook: report.Sources.Fieldbook,
		OutDir:    report.OutDir,
		Measure:   report.Measure,
	})
	if err != nil {
		log.Warn("ledger begin failed", zap.Error(err))
	}
}

func (e *Engine) recordArtifact(ctx context.Context, log *zap.Logger, runID string, a Artifact, etag string) {
	if e.ledger == nil {
		return
	}
	err := e.ledger.RecordArtifact(ctx, ledger.Artifact{
		RunID:      runID,
		Transcript: a.Transcript,
		Key:        a.Key,
		URL:        a.URL,
		Rows:       a.Rows,
		Size:       a.Size,
		ETag:       etag,
		CreatedAt:  e.now(),
	})
	if err != nil {
		log.Warn("ledger artifact failed", zap.String("transcript", a.Transcript), zap.Error(err))
	}
}

func (e *Engine) finishRun(ctx context.Context, log *zap.Logger, report Report, runErr error) {
	status := ledger.StatusSucceeded
	msg := ""
	if runErr != nil {
		status, msg = ledger.StatusFailed, runErr.Error()
	}
	e.metrics.RunFinished(string(status))
	if e.ledger == nil {
		return
	}
	// The run context may already be cancelled; the final record still lands.
	err := e.ledger.FinishRun(context.WithoutCancel(ctx), ledger.Run{
		ID:          report.RunID,
		FinishedAt:  e.now(),
		Status:      status,
		Error:       msg,
		Transcripts: report.Transcripts,
		Artifacts:   len(report.Artifacts),
		Excluded:    report.Excluded,
	})
	if err != nil {
		log.Warn("ledger finish failed", zap.Error(err))
	}
}
