package merge

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"testing"

	"spectramerge/internal/config"
)

const (
	scenarioRNASeq = `Gene,A,B,C
T1,1.5,2,3
T2,4,5,6
`
	scenarioSpectra = `plot,350,351
A,0.1,0.2
B,0.3,0.4
D,0.5,0.6
`
	scenarioFieldbook = `plot,entry,treatment
A,DM1,WW
B,DM2,WW
C,DM1,WL
D,DM2,WL
`
)

var scenarioSources = config.Sources{RNASeq: "rna.csv", Spectral: "spectra.csv", Fieldbook: "fieldbook.csv"}

// fakeOpener serves inputs from memory by location.
type fakeOpener map[string]string

func (f fakeOpener) Open(_ context.Context, location string) (io.ReadCloser, error) {
	body, ok := f[location]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", location, fs.ErrNotExist)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func inputs(rna, spectra, fieldbook string) fakeOpener {
	return fakeOpener{
		scenarioSources.RNASeq:    rna,
		scenarioSources.Spectral:  spectra,
		scenarioSources.Fieldbook: fieldbook,
	}
}

func loadWith(t *testing.T, files fakeOpener, mutate func(*config.Schema)) (*Dataset, error) {
	t.Helper()
	schema := config.Default().Schema
	if mutate != nil {
		mutate(&schema)
	}
	return NewLoader(files, schema, nil).Load(context.Background(), scenarioSources, config.Sources{})
}
