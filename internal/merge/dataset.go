package merge

import (
	"strings"

	"spectramerge/internal/table"
)

// Fieldbook is the plot metadata table keyed by normalized plot key.
type Fieldbook struct {
	Header   []string
	KeyIndex int
	Rows     map[string][]string
	// Order lists keys in file order.
	Order []string

	// Replicate grouping, populated only when group columns are configured.
	GroupBy     []string
	Groups      map[string][]string
	GroupValues map[string][]string
	GroupOrder  []string
	Ungrouped   int
}

// Grouped reports whether samples are replicate groups instead of plots.
func (f *Fieldbook) Grouped() bool { return len(f.GroupBy) > 0 }

// SampleKeys returns the key set RNA-Seq samples are matched against.
func (f *Fieldbook) SampleKeys() map[string]struct{} {
	src := f.Order
	if f.Grouped() {
		src = f.GroupOrder
	}
	out := make(map[string]struct{}, len(src))
	for _, k := range src {
		out[k] = struct{}{}
	}
	return out
}

// PlotKeys returns the plot key set.
func (f *Fieldbook) PlotKeys() map[string]struct{} {
	out := make(map[string]struct{}, len(f.Order))
	for _, k := range f.Order {
		out[k] = struct{}{}
	}
	return out
}

// Spectra holds per-sample reflectance, one value per band.
type Spectra struct {
	Bands  []string
	Values map[string][]float64
	// Incomplete marks samples with at least one missing band value.
	Incomplete map[string]bool
	Order      []string
}

// Expression holds per-transcript, per-sample expression values. Missing
// values are absent from the inner map.
type Expression struct {
	Transcripts []string
	Samples     []string
	Values      map[string]map[string]float64
}

// Value returns the expression of transcript in sample.
func (e *Expression) Value(transcript, sample string) (float64, bool) {
	v, ok := e.Values[transcript][sample]
	return v, ok
}

// Dataset is the three loaded inputs.
type Dataset struct {
	RNASeq    *Expression
	Spectra   *Spectra
	Fieldbook *Fieldbook
}

// compositeKey normalizes a "<a>_<b>..." replicate label of n parts. The
// split runs from the right so the first part may itself contain "_".
func compositeKey(raw string, n int) string {
	s := table.NormalizeKey(raw)
	if n <= 1 {
		return s
	}
	parts := make([]string, n)
	for i := n - 1; i > 0; i-- {
		j := strings.LastIndex(s, "_")
		if j < 0 {
			return s
		}
		parts[i] = table.NormalizeKey(s[j+1:])
		s = s[:j]
	}
	parts[0] = table.NormalizeKey(s)
	return strings.Join(parts, "_")
}

// scanPlot reduces an instrument scan label such as "Cotton_p1234_00000.asd"
// to its plot key. Labels without the marker are normalized as is.
func scanPlot(label, marker string) string {
	s := strings.TrimSpace(label)
	if marker == "" || !strings.Contains(s, marker) {
		return table.NormalizeKey(s)
	}
	parts := strings.Split(s, "_")
	if len(parts) < 2 {
		return table.NormalizeKey(s)
	}
	p := strings.TrimSuffix(parts[1], ".asd")
	p = strings.TrimSuffix(p, "00000")
	p = strings.TrimPrefix(p, "p")
	return table.NormalizeKey(p)
}

// renameTranscript applies a "from=to" prefix rewrite.
func renameTranscript(id, rule string) string {
	from, to, ok := strings.Cut(rule, "=")
	if !ok || from == "" || !strings.HasPrefix(id, from) {
		return id
	}
	return to + strings.TrimPrefix(id, from)
}
