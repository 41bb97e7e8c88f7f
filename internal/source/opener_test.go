package source

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectramerge/internal/blob"
)

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestOpen_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldbook.csv")
	require.NoError(t, os.WriteFile(path, []byte("plot\n1\n"), 0o644))
	o := New(Options{})

	rc, err := o.Open(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "plot\n1\n", readAll(t, rc))

	rc, err = o.Open(context.Background(), "file://"+filepath.ToSlash(path))
	require.NoError(t, err)
	assert.Equal(t, "plot\n1\n", readAll(t, rc))

	_, err = o.Open(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpen_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok.csv" {
			_, _ = w.Write([]byte("Gene,1\nT1,2\n"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()
	o := New(Options{HTTPClient: srv.Client()})

	rc, err := o.Open(context.Background(), srv.URL+"/ok.csv")
	require.NoError(t, err)
	assert.Equal(t, "Gene,1\nT1,2\n", readAll(t, rc))

	_, err = o.Open(context.Background(), srv.URL+"/missing.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestOpen_S3(t *testing.T) {
	store := blob.NewMockS3ForTests("inputs", "")
	_, err := store.Put(context.Background(), "spectral/scans.csv", bytes.NewReader([]byte("plot,350\n1,0.1\n")), blob.PutOptions{})
	require.NoError(t, err)
	var gotBucket string
	o := New(Options{S3: func(_ context.Context, bucket string) (blob.Store, error) {
		gotBucket = bucket
		return store, nil
	}})

	rc, err := o.Open(context.Background(), "s3://inputs/spectral/scans.csv")
	require.NoError(t, err)
	assert.Equal(t, "plot,350\n1,0.1\n", readAll(t, rc))
	assert.Equal(t, "inputs", gotBucket)

	_, err = o.Open(context.Background(), "s3://inputs/missing.csv")
	require.ErrorIs(t, err, blob.ErrNotFound)

	_, err = o.Open(context.Background(), "s3://inputs")
	require.Error(t, err)

	_, err = New(Options{}).Open(context.Background(), "s3://inputs/a.csv")
	require.Error(t, err)
}

func TestOpen_RejectsUnknownSchemeAndEmpty(t *testing.T) {
	o := New(Options{})
	_, err := o.Open(context.Background(), "ftp://example.org/a.csv")
	require.Error(t, err)
	_, err = o.Open(context.Background(), "  ")
	require.Error(t, err)
}

func TestKind(t *testing.T) {
	assert.Equal(t, "file", Kind("data/rnaseq.csv"))
	assert.Equal(t, "file", Kind(`C:\data\rnaseq.csv`))
	assert.Equal(t, "https", Kind("https://data.cyverse.org/a.csv"))
	assert.Equal(t, "s3", Kind("s3://b/k"))
}
