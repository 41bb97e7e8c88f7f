package merge

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectramerge/internal/blob"
	"spectramerge/internal/table"
)

func TestSanitizeID(t *testing.T) {
	cases := map[string]string{
		"Gh_A01G000100":   "Gh_A01G000100",
		"Gohir.A01G0001":  "Gohir.A01G0001",
		"a/b":             "a_b",
		`a\b`:             "a_b",
		"two words\there": "two_words_here",
		`x:y*z?"<>|`:      "x_y_z_____",
		"":                "_",
		".":               "_",
		"..":              "_",
		"...":             "...",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeID(in), "input %q", in)
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "Gh_A01G000100_tpm_spectra.csv", FileName("Gh_A01G000100", "tpm"))
	assert.Equal(t, "a_b_logfc_spectra.csv", FileName("a/b", "logfc"))
}

func TestCheckFileNames(t *testing.T) {
	require.NoError(t, CheckFileNames([]string{"T1", "T2"}, "tpm"))

	err := CheckFileNames([]string{"T1", "a/b", "a b"}, "tpm")
	var serr *SchemaError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Reason, "a_b_tpm_spectra.csv")
}

func TestSink_Emit(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	sink := NewSink(store, "tpm")
	tbl := &table.Table{Header: []string{"plot", "T1"}, Rows: [][]string{{"1", "0.5"}}}

	info, err := sink.Emit(ctx, "T1", tbl)
	require.NoError(t, err)
	assert.Equal(t, "T1_tpm_spectra.csv", info.Key)
	assert.Equal(t, ContentTypeCSV, info.ContentType)

	_, rc, err := store.Get(ctx, info.Key)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "plot,T1\n1,0.5\n", string(body))

	tbl.Rows[0][1] = "0.75"
	_, err = sink.Emit(ctx, "T1", tbl)
	require.NoError(t, err, "emit overwrites an earlier table")
}

// failingStore fails Put for one key and delegates everything else.
type failingStore struct {
	blob.Store
	failKey string
}

var errDiskFull = errors.New("disk full")

func (f failingStore) Put(ctx context.Context, key string, r io.Reader, opts blob.PutOptions) (blob.Info, error) {
	if key == f.failKey {
		return blob.Info{}, errDiskFull
	}
	return f.Store.Put(ctx, key, r, opts)
}

func TestSink_EmitWrapsStoreFailure(t *testing.T) {
	sink := NewSink(failingStore{Store: blob.NewMemory(), failKey: "T1_tpm_spectra.csv"}, "tpm")
	_, err := sink.Emit(context.Background(), "T1", &table.Table{Header: []string{"plot"}})

	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "T1_tpm_spectra.csv", werr.Key)
	assert.ErrorIs(t, err, errDiskFull)
}
