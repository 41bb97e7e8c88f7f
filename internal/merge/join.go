package merge

import (
	"fmt"
	"maps"
	"slices"
	"strconv"

	"spectramerge/internal/table"
)

// Exclusion reasons counted while joining.
const (
	ReasonMissingFieldbook = "missing_fieldbook"
	ReasonMissingSpectra   = "missing_spectra"
	ReasonIncompleteBands  = "incomplete_bands"
	ReasonMissingGroup     = "missing_group"
	ReasonMissingRNASeq    = "missing_rnaseq"
	ReasonUnmatchedRNASeq  = "unmatched_rnaseq"
)

// PlotCountColumn is appended to the group columns when replicates are averaged.
const PlotCountColumn = "plot_count"

// JoinedRow is one sample of the joined table.
type JoinedRow struct {
	Fields []string
	Bands  []float64
}

// Joined is the inner join of spectra and fieldbook.
type Joined struct {
	Columns []string
	Bands   []string
	// Keys are sorted with table.CompareKeys.
	Keys     []string
	Rows     map[string]JoinedRow
	Excluded map[string]int
}

// JoinFieldbook inner-joins sp and fb on the sample key and counts the
// samples left out by reason. With replicate grouping the spectra of all
// plots in a group are averaged per band.
func JoinFieldbook(sp *Spectra, fb *Fieldbook) *Joined {
	j := &Joined{
		Bands:    slices.Clone(sp.Bands),
		Rows:     make(map[string]JoinedRow),
		Excluded: make(map[string]int),
	}
	exclude := func(reason string) { j.Excluded[reason]++ }

	for _, key := range sp.Order {
		if _, ok := fb.Rows[key]; !ok {
			exclude(ReasonMissingFieldbook)
		}
	}

	if !fb.Grouped() {
		j.Columns = slices.Clone(fb.Header)
		for _, key := range fb.Order {
			bands, ok := plotSpectrum(sp, key, exclude)
			if !ok {
				continue
			}
			j.Rows[key] = JoinedRow{Fields: slices.Clone(fb.Rows[key]), Bands: slices.Clone(bands)}
		}
	} else {
		j.Columns = append(slices.Clone(fb.GroupBy), PlotCountColumn)
		if fb.Ungrouped > 0 {
			j.Excluded[ReasonMissingGroup] += fb.Ungrouped
		}
		for _, g := range fb.GroupOrder {
			sum := make([]float64, len(sp.Bands))
			n := 0
			for _, plot := range fb.Groups[g] {
				bands, ok := plotSpectrum(sp, plot, exclude)
				if !ok {
					continue
				}
				for i, v := range bands {
					sum[i] += v
				}
				n++
			}
			if n == 0 {
				continue
			}
			for i := range sum {
				sum[i] /= float64(n)
			}
			fields := append(slices.Clone(fb.GroupValues[g]), strconv.Itoa(n))
			j.Rows[g] = JoinedRow{Fields: fields, Bands: sum}
		}
	}

	j.Keys = slices.SortedFunc(maps.Keys(j.Rows), table.CompareKeys)
	return j
}

func plotSpectrum(sp *Spectra, key string, exclude func(string)) ([]float64, bool) {
	if sp.Incomplete[key] {
		exclude(ReasonIncompleteBands)
		return nil, false
	}
	bands, ok := sp.Values[key]
	if !ok {
		exclude(ReasonMissingSpectra)
		return nil, false
	}
	return bands, true
}

// RNASeqExclusions counts samples present on only one side of the RNA-Seq
// and joined key sets.
func RNASeqExclusions(expr *Expression, j *Joined) map[string]int {
	out := make(map[string]int)
	inRNA := make(map[string]bool, len(expr.Samples))
	for _, s := range expr.Samples {
		inRNA[s] = true
		if _, ok := j.Rows[s]; !ok {
			out[ReasonUnmatchedRNASeq]++
		}
	}
	for _, k := range j.Keys {
		if !inRNA[k] {
			out[ReasonMissingRNASeq]++
		}
	}
	return out
}

// CheckTranscriptColumns fails when a transcript id repeats a joined column or
// band label, which would give its table two columns of the same name.
func CheckTranscriptColumns(transcripts []string, j *Joined) error {
	for _, id := range transcripts {
		if err := checkTranscriptColumn(id, j); err != nil {
			return err
		}
	}
	return nil
}

func checkTranscriptColumn(id string, j *Joined) error {
	if slices.Contains(j.Columns, id) || slices.Contains(j.Bands, id) {
		return &SchemaError{Role: RoleRNASeq, Column: id, Reason: "transcript id repeats a fieldbook column or band label"}
	}
	return nil
}

// BuildTranscriptTable assembles the per-transcript table: joined columns,
// then bands, then the expression column named after the transcript. Only
// samples with a non-missing expression value are kept, in key order. A
// transcript with no such sample yields a header-only table.
func BuildTranscriptTable(transcriptID string, expr *Expression, j *Joined) (*table.Table, error) {
	values, ok := expr.Values[transcriptID]
	if !ok {
		return nil, fmt.Errorf("transcript %q not present in rnaseq table", transcriptID)
	}
	if err := checkTranscriptColumn(transcriptID, j); err != nil {
		return nil, err
	}
	header := make([]string, 0, len(j.Columns)+len(j.Bands)+1)
	header = append(header, j.Columns...)
	header = append(header, j.Bands...)
	header = append(header, transcriptID)

	out := &table.Table{Header: header}
	for _, key := range j.Keys {
		v, ok := values[key]
		if !ok {
			continue
		}
		r := j.Rows[key]
		row := make([]string, 0, len(header))
		row = append(row, r.Fields...)
		for _, b := range r.Bands {
			row = append(row, table.FormatValue(b))
		}
		row = append(row, table.FormatValue(v))
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}
