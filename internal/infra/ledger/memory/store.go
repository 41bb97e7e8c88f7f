// Package memory provides an in-memory run ledger used for tests and one-shot
// runs where history is not kept.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"spectramerge/internal/ledger/core"
)

var _ core.Ledger = (*Store)(nil)

// Store keeps runs and artifacts in maps guarded by a mutex.
type Store struct {
	mu        sync.RWMutex
	runs      map[string]core.Run
	artifacts map[string]map[string]core.Artifact
}

// New constructs an empty ledger.
func New() *Store {
	return &Store{
		runs:      make(map[string]core.Run),
		artifacts: make(map[string]map[string]core.Artifact),
	}
}

func (s *Store) BeginRun(_ context.Context, run core.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("run %s: %w", run.ID, core.ErrRunExists)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *Store) RecordArtifact(_ context.Context, a core.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[a.RunID]; !ok {
		return fmt.Errorf("run %s: %w", a.RunID, core.ErrRunNotFound)
	}
	byTranscript, ok := s.artifacts[a.RunID]
	if !ok {
		byTranscript = make(map[string]core.Artifact)
		s.artifacts[a.RunID] = byTranscript
	}
	byTranscript[a.Transcript] = a
	return nil
}

func (s *Store) FinishRun(_ context.Context, run core.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.runs[run.ID]
	if !ok {
		return fmt.Errorf("run %s: %w", run.ID, core.ErrRunNotFound)
	}
	current.FinishedAt = run.FinishedAt
	current.Status = run.Status
	current.Error = run.Error
	current.Transcripts = run.Transcripts
	current.Artifacts = run.Artifacts
	current.Excluded = run.Clone().Excluded
	s.runs[run.ID] = current
	return nil
}

func (s *Store) Runs(_ context.Context, limit int) ([]core.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Artifacts(_ context.Context, runID string) ([]core.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Artifact, 0, len(s.artifacts[runID]))
	for _, a := range s.artifacts[runID] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Transcript < out[j].Transcript })
	return out, nil
}

func (s *Store) Driver() core.Driver { return core.DriverMemory }

func (s *Store) Close() error { return nil }
