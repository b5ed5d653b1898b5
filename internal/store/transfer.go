package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/at-ishikawa/playtrack/internal/migration"
	"github.com/at-ishikawa/playtrack/internal/schema"
)

// ImportOptions controls Import.
type ImportOptions struct {
	// DryRun reports what would change without writing.
	DryRun bool
	// Merge upserts the imported entities into the current state instead of
	// replacing it. Current settings are kept when merging.
	Merge bool
}

type Counts struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
}

// ImportResult describes the effect of an import.
type ImportResult struct {
	FromVersion int    `json:"fromVersion"`
	DryRun      bool   `json:"dryRun"`
	Playlists   Counts `json:"playlists"`
	Videos      Counts `json:"videos"`
	Progress    Counts `json:"progress"`
	Notes       Counts `json:"notes"`
}

// Export returns the current envelope as indented JSON.
func (s *Store) Export(ctx context.Context) ([]byte, error) {
	env, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Import ingests an untrusted document of any supported version. It passes
// through the same migration and validation as a stored document; a
// document that cannot be made valid is rejected with *ImportError.
func (s *Store) Import(ctx context.Context, doc schema.Document, opts ImportOptions) (ImportResult, error) {
	from, err := schema.Version(doc)
	if err != nil {
		return ImportResult{}, &ImportError{Reason: "invalid version", Err: err}
	}
	imported, err := s.engine.Upgrade(doc)
	if err != nil {
		var exhausted *migration.ExhaustedError
		switch {
		case errors.Is(err, migration.ErrUnsupportedVersion):
			return ImportResult{}, &ImportError{Reason: "document is from a newer version", Err: err}
		case errors.As(err, &exhausted):
			return ImportResult{}, &ImportError{Reason: "document is invalid after migration", Err: exhausted.Cause}
		default:
			return ImportResult{}, &ImportError{Reason: "document is invalid", Err: err}
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, err := s.currentLocked(ctx)
	if err != nil {
		return ImportResult{}, err
	}

	next := imported
	if opts.Merge {
		next = merge(current, imported)
	}
	validated, err := s.validator.ValidateEnvelope(next)
	if err != nil {
		return ImportResult{}, &ImportError{Reason: "merged state is invalid", Err: err}
	}

	result := ImportResult{
		FromVersion: from,
		DryRun:      opts.DryRun,
		Playlists:   diff(current.Playlists, validated.Playlists),
		Videos:      diff(current.Videos, validated.Videos),
		Progress:    diff(current.Progress, validated.Progress),
		Notes:       diff(current.Notes, validated.Notes),
	}
	if opts.DryRun {
		return result, nil
	}
	if err := s.commitLocked(ctx, validated); err != nil {
		return ImportResult{}, err
	}
	s.logger.Info().Int("from_version", from).Bool("merge", opts.Merge).Msg("imported state")
	return result, nil
}

func merge(current, imported schema.Envelope) schema.Envelope {
	out := current.Clone()
	for id, v := range imported.Playlists {
		out.Playlists[id] = v
	}
	for _, v := range imported.Videos {
		upsertVideo(&out, v)
	}
	for id, v := range imported.Progress {
		out.Progress[id] = v
	}
	for id, v := range imported.Notes {
		out.Notes[id] = v
	}
	return out
}

func diff[V any](before, after map[string]V) Counts {
	var c Counts
	for id, v := range after {
		old, ok := before[id]
		switch {
		case !ok:
			c.Added++
		case !equalJSON(old, v):
			c.Updated++
		}
	}
	for id := range before {
		if _, ok := after[id]; !ok {
			c.Removed++
		}
	}
	return c
}

func equalJSON(a, b any) bool {
	x, errA := json.Marshal(a)
	y, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(x) == string(y)
}
