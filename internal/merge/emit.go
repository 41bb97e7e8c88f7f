package merge

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"spectramerge/internal/blob"
	"spectramerge/internal/table"
)

// ContentTypeCSV is stored with every emitted table.
const ContentTypeCSV = "text/csv"

// SanitizeID makes a transcript id safe to use as a file name.
func SanitizeID(id string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r == '/', r == '\\', unicode.IsSpace(r), unicode.IsControl(r):
			return '_'
		case strings.ContainsRune(`:*?"<>|`, r):
			return '_'
		}
		return r
	}, id)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// FileName is the output name of one transcript table.
func FileName(transcriptID, measure string) string {
	return SanitizeID(transcriptID) + "_" + measure + "_spectra.csv"
}

// CheckFileNames fails when two transcripts would be written to the same file.
func CheckFileNames(transcripts []string, measure string) error {
	seen := make(map[string]string, len(transcripts))
	for _, id := range transcripts {
		name := FileName(id, measure)
		if prev, ok := seen[name]; ok {
			return &SchemaError{Role: RoleRNASeq, Reason: fmt.Sprintf("transcripts %q and %q both map to file %q", prev, id, name)}
		}
		seen[name] = id
	}
	return nil
}

// Sink writes transcript tables into a store bound to the output directory.
type Sink struct {
	store   blob.Store
	measure string
}

// NewSink binds a sink to store. measure becomes part of every file name.
func NewSink(store blob.Store, measure string) *Sink {
	return &Sink{store: store, measure: measure}
}

// Emit encodes t and stores it under the transcript's file name, replacing
// any earlier version.
func (s *Sink) Emit(ctx context.Context, transcriptID string, t *table.Table) (blob.Info, error) {
	key := FileName(transcriptID, s.measure)
	payload, err := table.Encode(t)
	if err != nil {
		return blob.Info{}, &WriteError{Key: key, Err: err}
	}
	info, err := s.store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: ContentTypeCSV,
		Metadata: map[string]string{
			"transcript": transcriptID,
			"rows":       strconv.Itoa(len(t.Rows)),
		},
	})
	if err != nil {
		return blob.Info{}, &WriteError{Key: key, Err: err}
	}
	return info, nil
}
