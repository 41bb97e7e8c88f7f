package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"spectramerge/internal/config"
	"spectramerge/internal/logging"
	"spectramerge/internal/table"
)

// Opener resolves an input location to a reader.
type Opener interface {
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// Loader reads and normalizes the three inputs against a declared schema.
type Loader struct {
	opener Opener
	schema config.Schema
	log    *zap.Logger
}

// NewLoader constructs a Loader.
func NewLoader(opener Opener, schema config.Schema, log *zap.Logger) *Loader {
	return &Loader{opener: opener, schema: schema, log: logging.OrNop(log)}
}

// Load reads the RNA-Seq, spectral and fieldbook tables, then resolves their
// orientation against the fieldbook keys. Empty locations in sources are taken
// from fallback. When no group columns are configured, a TPM export is
// grouped by entry and treatment.
func (l *Loader) Load(ctx context.Context, sources, fallback config.Sources) (*Dataset, error) {
	src := config.Config{Sources: sources}.ResolvedSources(fallback)
	ld := *l
	ld.schema.GroupBy = l.schema.GroupByFor(src.RNASeq)
	return ld.load(ctx, src)
}

func (l *Loader) load(ctx context.Context, src config.Sources) (*Dataset, error) {
	rnaTable, err := l.read(ctx, RoleRNASeq, src.RNASeq)
	if err != nil {
		return nil, err
	}
	spTable, err := l.read(ctx, RoleSpectral, src.Spectral)
	if err != nil {
		return nil, err
	}
	fbTable, err := l.read(ctx, RoleFieldbook, src.Fieldbook)
	if err != nil {
		return nil, err
	}

	fb, err := l.fieldbook(src.Fieldbook, fbTable)
	if err != nil {
		return nil, err
	}
	sp, err := l.spectra(src.Spectral, spTable, fb.PlotKeys())
	if err != nil {
		return nil, err
	}
	expr, err := l.expression(src.RNASeq, rnaTable, fb)
	if err != nil {
		return nil, err
	}

	l.log.Info("inputs loaded",
		zap.Int("fieldbook_rows", len(fb.Order)),
		zap.Int("spectral_samples", len(sp.Order)),
		zap.Int("bands", len(sp.Bands)),
		zap.Int("transcripts", len(expr.Transcripts)),
		zap.Int("rnaseq_samples", len(expr.Samples)),
		zap.Strings("group_by", fb.GroupBy))
	return &Dataset{RNASeq: expr, Spectra: sp, Fieldbook: fb}, nil
}

func (l *Loader) read(ctx context.Context, role, location string) (*table.Table, error) {
	if strings.TrimSpace(location) == "" {
		return nil, &InputReadError{Role: role, Location: location, Err: errors.New("no location configured")}
	}
	rc, err := l.opener.Open(ctx, location)
	if err != nil {
		return nil, &InputReadError{Role: role, Location: location, Err: err}
	}
	defer rc.Close()
	t, err := table.Read(rc)
	if err != nil {
		return nil, &InputReadError{Role: role, Location: location, Err: err}
	}
	l.log.Debug("input read", zap.String("role", role), zap.String("location", location),
		zap.Int("columns", len(t.Header)), zap.Int("rows", len(t.Rows)))
	return t, nil
}

func (l *Loader) fieldbook(location string, t *table.Table) (*Fieldbook, error) {
	schemaErr := func(column, reason string) error {
		return &SchemaError{Role: RoleFieldbook, Location: location, Column: column, Reason: reason}
	}
	keyIdx := t.ColumnIndex(l.schema.FieldbookKeyColumn)
	if keyIdx < 0 {
		return nil, schemaErr(l.schema.FieldbookKeyColumn, "key column absent")
	}
	for _, c := range l.schema.RequiredFields {
		if t.ColumnIndex(c) < 0 {
			return nil, schemaErr(c, "required column absent")
		}
	}
	groupIdx := make([]int, len(l.schema.GroupBy))
	for i, c := range l.schema.GroupBy {
		if groupIdx[i] = t.ColumnIndex(c); groupIdx[i] < 0 {
			return nil, schemaErr(c, "group column absent")
		}
	}

	fb := &Fieldbook{
		Header:   slices.Clone(t.Header),
		KeyIndex: keyIdx,
		Rows:     make(map[string][]string, len(t.Rows)),
	}
	dropped := 0
	for i, row := range t.Rows {
		key := table.NormalizeKey(row[keyIdx])
		if table.IsNA(key) {
			dropped++
			continue
		}
		if _, dup := fb.Rows[key]; dup {
			return nil, schemaErr(l.schema.FieldbookKeyColumn, fmt.Sprintf("duplicate key %q at data row %d", key, i+1))
		}
		rec := slices.Clone(row)
		rec[keyIdx] = key
		fb.Rows[key] = rec
		fb.Order = append(fb.Order, key)
	}
	if dropped > 0 {
		l.log.Info("fieldbook rows without key dropped", zap.Int("rows", dropped))
	}

	if len(groupIdx) > 0 {
		fb.GroupBy = slices.Clone(l.schema.GroupBy)
		fb.Groups = make(map[string][]string)
		fb.GroupValues = make(map[string][]string)
		for _, key := range fb.Order {
			rec := fb.Rows[key]
			values := make([]string, len(groupIdx))
			complete := true
			for i, idx := range groupIdx {
				values[i] = table.NormalizeKey(rec[idx])
				if table.IsNA(values[i]) {
					complete = false
				}
			}
			if !complete {
				fb.Ungrouped++
				continue
			}
			g := strings.Join(values, "_")
			if _, ok := fb.Groups[g]; !ok {
				fb.GroupOrder = append(fb.GroupOrder, g)
				fb.GroupValues[g] = values
			}
			fb.Groups[g] = append(fb.Groups[g], key)
		}
	}
	return fb, nil
}

func (l *Loader) spectra(location string, t *table.Table, plots map[string]struct{}) (*Spectra, error) {
	schemaErr := func(column, reason string) error {
		return &SchemaError{Role: RoleSpectral, Location: location, Column: column, Reason: reason}
	}
	marker := l.schema.ScanMarker
	plotOf := func(s string) string { return scanPlot(s, marker) }

	orient := l.schema.SpectralOrientation
	keyIdx := -1
	switch orient {
	case config.OrientationCanonical:
		if keyIdx = t.ColumnIndex(l.schema.SpectralKeyColumn); keyIdx < 0 {
			return nil, schemaErr(l.schema.SpectralKeyColumn, "key column absent")
		}
	case config.OrientationTransposed:
	default:
		switch {
		case len(t.Header) > 0 && strings.EqualFold(t.Header[0], l.schema.BandAxisColumn):
			orient = config.OrientationTransposed
		case t.ColumnIndex(l.schema.SpectralKeyColumn) >= 0:
			orient = config.OrientationCanonical
			keyIdx = t.ColumnIndex(l.schema.SpectralKeyColumn)
		default:
			ax, err := sampleAxis(t, plots, plotOf, -1)
			if err != nil {
				return nil, schemaErr("", err.Error())
			}
			orient, keyIdx = config.OrientationCanonical, 0
			if ax == axisHeader {
				orient = config.OrientationTransposed
			}
		}
	}
	if orient == config.OrientationTransposed {
		t = t.Transpose()
		keyIdx = 0
	}
	l.log.Debug("spectral orientation resolved", zap.String("orientation", string(orient)))

	var bandCols []int
	sp := &Spectra{Values: make(map[string][]float64), Incomplete: make(map[string]bool)}
	seenBand := make(map[string]bool)
	for j, h := range t.Header {
		if j == keyIdx {
			continue
		}
		band := table.NormalizeKey(h)
		if band == "" {
			return nil, schemaErr("", fmt.Sprintf("empty band label at position %d", j+1))
		}
		if seenBand[band] {
			return nil, schemaErr(band, "duplicate band")
		}
		seenBand[band] = true
		keep, err := l.inWindow(band)
		if err != nil {
			return nil, schemaErr(band, err.Error())
		}
		if keep {
			bandCols = append(bandCols, j)
			sp.Bands = append(sp.Bands, band)
		}
	}

	for _, row := range t.Rows {
		key := plotOf(row[keyIdx])
		if key == "" {
			return nil, schemaErr(l.schema.SpectralKeyColumn, "empty sample key")
		}
		if _, dup := sp.Values[key]; dup || sp.Incomplete[key] {
			return nil, schemaErr(l.schema.SpectralKeyColumn, fmt.Sprintf("duplicate key %q", key))
		}
		values := make([]float64, len(bandCols))
		complete := true
		for i, j := range bandCols {
			v, na, err := table.ParseValue(row[j])
			if err != nil {
				return nil, &InputReadError{Role: RoleSpectral, Location: location,
					Err: fmt.Errorf("sample %q, band %q: %w", key, sp.Bands[i], err)}
			}
			if na {
				complete = false
			}
			values[i] = v
		}
		sp.Order = append(sp.Order, key)
		if complete {
			sp.Values[key] = values
		} else {
			sp.Incomplete[key] = true
		}
	}
	return sp, nil
}

func (l *Loader) inWindow(band string) (bool, error) {
	lo, hi := l.schema.BandMin, l.schema.BandMax
	if lo == nil && hi == nil {
		return true, nil
	}
	v, err := strconv.ParseFloat(band, 64)
	if err != nil {
		return false, errors.New("band label is not numeric, cannot apply band window")
	}
	if lo != nil && v < *lo {
		return false, nil
	}
	if hi != nil && v > *hi {
		return false, nil
	}
	return true, nil
}

func (l *Loader) expression(location string, t *table.Table, fb *Fieldbook) (*Expression, error) {
	schemaErr := func(column, reason string) error {
		return &SchemaError{Role: RoleRNASeq, Location: location, Column: column, Reason: reason}
	}
	sampleOf := table.NormalizeKey
	if fb.Grouped() {
		n := len(fb.GroupBy)
		sampleOf = func(s string) string { return compositeKey(s, n) }
	}

	orient := l.schema.RNASeqOrientation
	if orient != config.OrientationCanonical && orient != config.OrientationTransposed {
		ax, err := sampleAxis(t, fb.SampleKeys(), sampleOf, t.ColumnIndex(l.schema.TranscriptColumn))
		if err != nil {
			return nil, schemaErr("", err.Error())
		}
		orient = config.OrientationCanonical
		if ax == axisColumn {
			orient = config.OrientationTransposed
		}
	}

	tIdx := 0
	if orient == config.OrientationTransposed {
		t = t.Transpose()
	} else if tIdx = t.ColumnIndex(l.schema.TranscriptColumn); tIdx < 0 {
		return nil, schemaErr(l.schema.TranscriptColumn, "transcript column absent")
	}
	l.log.Debug("rnaseq orientation resolved", zap.String("orientation", string(orient)))

	expr := &Expression{Values: make(map[string]map[string]float64, len(t.Rows))}
	var sampleCols []int
	seen := make(map[string]bool)
	for j, h := range t.Header {
		if j == tIdx {
			continue
		}
		key := sampleOf(h)
		if key == "" {
			return nil, schemaErr("", fmt.Sprintf("empty sample key at position %d", j+1))
		}
		if seen[key] {
			return nil, schemaErr(h, fmt.Sprintf("duplicate key %q", key))
		}
		seen[key] = true
		sampleCols = append(sampleCols, j)
		expr.Samples = append(expr.Samples, key)
	}

	for i, row := range t.Rows {
		id := renameTranscript(strings.TrimSpace(row[tIdx]), l.schema.RenamePrefix)
		if id == "" {
			return nil, schemaErr(l.schema.TranscriptColumn, fmt.Sprintf("empty transcript id at data row %d", i+1))
		}
		if _, dup := expr.Values[id]; dup {
			return nil, schemaErr(l.schema.TranscriptColumn, fmt.Sprintf("duplicate transcript %q", id))
		}
		values := make(map[string]float64, len(sampleCols))
		for k, j := range sampleCols {
			v, na, err := table.ParseValue(row[j])
			if err != nil {
				return nil, &InputReadError{Role: RoleRNASeq, Location: location,
					Err: fmt.Errorf("transcript %q, sample %q: %w", id, expr.Samples[k], err)}
			}
			if !na {
				values[expr.Samples[k]] = v
			}
		}
		expr.Transcripts = append(expr.Transcripts, id)
		expr.Values[id] = values
	}
	return expr, nil
}

type axis int

const (
	axisColumn axis = iota // keys run down the first column
	axisHeader             // keys run along the header
)

// sampleAxis decides which axis of t carries the fieldbook keys. skip names
// a header cell to leave out of the count, such as a named id column; when
// negative the first header cell is left out.
func sampleAxis(t *table.Table, keys map[string]struct{}, keyOf func(string) string, skip int) (axis, error) {
	if skip < 0 {
		skip = 0
	}
	headerHits := 0
	for j, h := range t.Header {
		if j == skip {
			continue
		}
		if _, ok := keys[keyOf(h)]; ok {
			headerHits++
		}
	}
	columnHits := 0
	for _, row := range t.Rows {
		if _, ok := keys[keyOf(row[0])]; ok {
			columnHits++
		}
	}
	switch {
	case columnHits > 0 && headerHits == 0:
		return axisColumn, nil
	case headerHits > 0 && columnHits == 0:
		return axisHeader, nil
	case headerHits == 0:
		return 0, errors.New("orientation undetermined: no fieldbook keys on either axis")
	default:
		return 0, fmt.Errorf("orientation undetermined: fieldbook keys on both axes (%d in header, %d in first column)", headerHits, columnHits)
	}
}
