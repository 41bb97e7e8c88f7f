package merge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"spectramerge/internal/blob"
	"spectramerge/internal/config"
	"spectramerge/internal/ledger"
	"spectramerge/internal/metrics"
)

type harness struct {
	cfg     config.Config
	files   fakeOpener
	store   blob.Store
	ledger  ledger.Ledger
	metrics *metrics.Recorder
}

func newHarness(t *testing.T, files fakeOpener) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Sources = scenarioSources
	cfg.OutDir = t.TempDir()
	store, err := blob.NewFilesystem(cfg.OutDir)
	require.NoError(t, err)
	return &harness{cfg: cfg, files: files, store: store, ledger: ledger.NewMemory(), metrics: metrics.New()}
}

func (h *harness) run(ctx context.Context, t *testing.T) (Report, error) {
	t.Helper()
	e, err := NewEngine(Options{
		Config:   h.cfg,
		Opener:   h.files,
		Store:    h.store,
		Ledger:   h.ledger,
		Metrics:  h.metrics,
		NewRunID: func() string { return fmt.Sprintf("run-%d", len(mustRuns(t, h.ledger))+1) },
	})
	require.NoError(t, err)
	return e.Run(ctx)
}

func mustRuns(t *testing.T, l ledger.Ledger) []ledger.Run {
	t.Helper()
	runs, err := l.Runs(context.Background(), 0)
	require.NoError(t, err)
	return runs
}

func readOutputs(t *testing.T, dir string) map[string]string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		out[e.Name()] = string(data)
	}
	return out
}

func counterValue(t *testing.T, m *metrics.Recorder, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue next
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestRun_Scenario(t *testing.T) {
	h := newHarness(t, inputs(scenarioRNASeq, scenarioSpectra, scenarioFieldbook))
	report, err := h.run(context.Background(), t)
	require.NoError(t, err)

	assert.Equal(t, "logfc", report.Measure)
	assert.Equal(t, 2, report.Transcripts)
	require.Len(t, report.Artifacts, 2)
	assert.Equal(t, "T1", report.Artifacts[0].Transcript)
	assert.Equal(t, 2, report.Artifacts[0].Rows)
	assert.Equal(t, map[string]int{
		ReasonMissingSpectra:  1,
		ReasonUnmatchedRNASeq: 1,
		ReasonMissingRNASeq:   1,
	}, report.Excluded)

	assert.Equal(t, map[string]string{
		"T1_logfc_spectra.csv": "plot,entry,treatment,350,351,T1\nA,DM1,WW,0.1,0.2,1.5\nB,DM2,WW,0.3,0.4,2\n",
		"T2_logfc_spectra.csv": "plot,entry,treatment,350,351,T2\nA,DM1,WW,0.1,0.2,4\nB,DM2,WW,0.3,0.4,5\n",
	}, readOutputs(t, h.cfg.OutDir))

	runs := mustRuns(t, h.ledger)
	require.Len(t, runs, 1)
	assert.Equal(t, ledger.StatusSucceeded, runs[0].Status)
	assert.Equal(t, 2, runs[0].Artifacts)
	assert.Equal(t, report.Excluded, runs[0].Excluded)
	arts, err := h.ledger.Artifacts(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Len(t, arts, 2)

	assert.Equal(t, 2.0, counterValue(t, h.metrics, "spectramerge_transcripts_emitted_total", nil))
	assert.Equal(t, 1.0, counterValue(t, h.metrics, "spectramerge_samples_excluded_total", map[string]string{"reason": ReasonMissingSpectra}))
	assert.Equal(t, 1.0, counterValue(t, h.metrics, "spectramerge_runs_total", map[string]string{"status": "succeeded"}))
}

func TestRun_CompletenessIncludesHeaderOnlyTranscripts(t *testing.T) {
	rna := `Gene,A,B
T1,1,2
T2,NA,NA
T3,,3
`
	h := newHarness(t, inputs(rna, scenarioSpectra, scenarioFieldbook))
	h.cfg.Measure = "TPM"
	_, err := h.run(context.Background(), t)
	require.NoError(t, err)

	out := readOutputs(t, h.cfg.OutDir)
	assert.Len(t, out, 3)
	assert.Equal(t, "plot,entry,treatment,350,351,T2\n", out["T2_tpm_spectra.csv"])
	assert.Equal(t, "plot,entry,treatment,350,351,T3\nB,DM2,WW,0.3,0.4,3\n", out["T3_tpm_spectra.csv"])
}

func manyTranscripts(n int) string {
	var b strings.Builder
	b.WriteString("Gene,A,B,C\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "Gohir.D%03d,%d,%d.5,%d\n", i, i, i, i*2)
	}
	return b.String()
}

func TestRun_ParallelRerunIsByteIdentical(t *testing.T) {
	defer goleak.VerifyNone(t)
	files := inputs(manyTranscripts(40), scenarioSpectra, scenarioFieldbook)

	serial := newHarness(t, files)
	_, err := serial.run(context.Background(), t)
	require.NoError(t, err)
	want := readOutputs(t, serial.cfg.OutDir)
	require.Len(t, want, 40)

	parallel := newHarness(t, files)
	parallel.cfg.Workers = 8
	for i := 0; i < 2; i++ {
		report, err := parallel.run(context.Background(), t)
		require.NoError(t, err)
		require.Len(t, report.Artifacts, 40)
		assert.Equal(t, "Gohir.D000", report.Artifacts[0].Transcript, "report keeps rnaseq order")
		assert.Equal(t, want, readOutputs(t, parallel.cfg.OutDir))
	}
	assert.Len(t, mustRuns(t, parallel.ledger), 2)
}

func TestRun_WriteFailureAbortsBatch(t *testing.T) {
	h := newHarness(t, inputs(manyTranscripts(10), scenarioSpectra, scenarioFieldbook))
	h.store = failingStore{Store: h.store, failKey: "Gohir.D003_logfc_spectra.csv"}
	report, err := h.run(context.Background(), t)

	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "Gohir.D003_logfc_spectra.csv", werr.Key)
	assert.Len(t, report.Artifacts, 3, "serial run stops at the failing transcript")

	runs := mustRuns(t, h.ledger)
	require.Len(t, runs, 1)
	assert.Equal(t, ledger.StatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "disk full")
}

func TestRun_MissingRNASeqPath(t *testing.T) {
	files := inputs(scenarioRNASeq, scenarioSpectra, scenarioFieldbook)
	delete(files, scenarioSources.RNASeq)
	h := newHarness(t, files)
	_, err := h.run(context.Background(), t)

	var rerr *InputReadError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, RoleRNASeq, rerr.Role)
	assert.Contains(t, err.Error(), scenarioSources.RNASeq)
	assert.Empty(t, readOutputs(t, h.cfg.OutDir))
}

func TestRun_FileNameCollisionWritesNothing(t *testing.T) {
	rna := "Gene,A\na/b,1\na b,2\n"
	h := newHarness(t, inputs(rna, scenarioSpectra, scenarioFieldbook))
	_, err := h.run(context.Background(), t)

	var serr *SchemaError
	require.ErrorAs(t, err, &serr)
	assert.Empty(t, readOutputs(t, h.cfg.OutDir))
}

func TestRun_TranscriptNamedLikeColumnWritesNothing(t *testing.T) {
	rna := "Gene,A,B\nT1,1,2\nentry,3,4\n"
	h := newHarness(t, inputs(rna, scenarioSpectra, scenarioFieldbook))
	_, err := h.run(context.Background(), t)

	var serr *SchemaError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "entry", serr.Column)
	assert.Empty(t, readOutputs(t, h.cfg.OutDir))
}

func TestRun_CancelledContext(t *testing.T) {
	h := newHarness(t, inputs(scenarioRNASeq, scenarioSpectra, scenarioFieldbook))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.run(ctx, t)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ledger.StatusFailed, mustRuns(t, h.ledger)[0].Status)
}

// brokenLedger fails every call.
type brokenLedger struct{ ledger.Ledger }

var errLedgerDown = errors.New("ledger down")

func (brokenLedger) BeginRun(context.Context, ledger.Run) error            { return errLedgerDown }
func (brokenLedger) RecordArtifact(context.Context, ledger.Artifact) error { return errLedgerDown }
func (brokenLedger) FinishRun(context.Context, ledger.Run) error           { return errLedgerDown }

func TestRun_LedgerFailuresAreNotFatal(t *testing.T) {
	h := newHarness(t, inputs(scenarioRNASeq, scenarioSpectra, scenarioFieldbook))
	h.ledger = brokenLedger{Ledger: ledger.NewMemory()}
	report, err := h.run(context.Background(), t)
	require.NoError(t, err)
	assert.Len(t, report.Artifacts, 2)
}

func TestNewEngine_RequiresCollaborators(t *testing.T) {
	_, err := NewEngine(Options{Store: blob.NewMemory()})
	require.Error(t, err)
	_, err = NewEngine(Options{Opener: fakeOpener{}})
	require.Error(t, err)
}
