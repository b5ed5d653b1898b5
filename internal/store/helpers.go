package store

import (
	"context"
	"fmt"

	"github.com/at-ishikawa/playtrack/internal/schema"
	"github.com/at-ishikawa/playtrack/internal/statistics"
)

// AddPlaylist stores a playlist together with its videos in one write.
func (s *Store) AddPlaylist(ctx context.Context, playlist schema.Playlist, videos []schema.Video) error {
	return s.mutate(ctx, false, func(env *schema.Envelope) error {
		env.Playlists[playlist.ID] = playlist
		for _, v := range videos {
			upsertVideo(env, v)
		}
		return nil
	}, schema.SlicePlaylists, schema.SliceVideos)
}

// RemovePlaylist deletes a playlist, its videos and their progress. Notes
// are kept; PruneOrphans removes them explicitly.
func (s *Store) RemovePlaylist(ctx context.Context, playlistID string) error {
	return s.mutate(ctx, false, func(env *schema.Envelope) error {
		if _, ok := env.Playlists[playlistID]; !ok {
			return fmt.Errorf("playlist %s: %w", playlistID, ErrNotFound)
		}
		delete(env.Playlists, playlistID)
		for id, v := range env.Videos {
			if v.PlaylistID == playlistID {
				delete(env.Videos, id)
				delete(env.Progress, id)
			}
		}
		return nil
	}, schema.SlicePlaylists, schema.SliceVideos, schema.SliceProgress)
}

// AddVideos upserts videos by id.
func (s *Store) AddVideos(ctx context.Context, videos ...schema.Video) error {
	return s.Update(ctx, schema.SliceVideos, func(env *schema.Envelope) error {
		for _, v := range videos {
			upsertVideo(env, v)
		}
		return nil
	})
}

// upsertVideo stores v. The duration of a video already stored never
// changes, since stored completions are ratios of it.
func upsertVideo(env *schema.Envelope, v schema.Video) {
	if existing, ok := env.Videos[v.ID]; ok {
		v.DurationSeconds = existing.DurationSeconds
	}
	env.Videos[v.ID] = v
}

// UpsertProgress replaces the progress record of its video.
func (s *Store) UpsertProgress(ctx context.Context, progress schema.Progress) error {
	return s.Update(ctx, schema.SliceProgress, upsertProgress(progress))
}

// UpsertProgressDeferred is UpsertProgress through the coalescing writer.
func (s *Store) UpsertProgressDeferred(ctx context.Context, progress schema.Progress) error {
	return s.UpdateDeferred(ctx, schema.SliceProgress, upsertProgress(progress))
}

func upsertProgress(progress schema.Progress) func(*schema.Envelope) error {
	return func(env *schema.Envelope) error {
		env.Progress[progress.VideoID] = progress
		return nil
	}
}

// UpsertNote replaces a note by id.
func (s *Store) UpsertNote(ctx context.Context, note schema.Note) error {
	return s.Update(ctx, schema.SliceNotes, func(env *schema.Envelope) error {
		env.Notes[note.ID] = note
		return nil
	})
}

func (s *Store) RemoveNote(ctx context.Context, noteID string) error {
	return s.Update(ctx, schema.SliceNotes, func(env *schema.Envelope) error {
		if _, ok := env.Notes[noteID]; !ok {
			return fmt.Errorf("note %s: %w", noteID, ErrNotFound)
		}
		delete(env.Notes, noteID)
		return nil
	})
}

func (s *Store) UpdateSettings(ctx context.Context, settings schema.Settings) error {
	return s.Set(ctx, schema.Partial{Settings: &settings})
}

// Progress returns the stored progress of a video.
func (s *Store) Progress(ctx context.Context, videoID string) (schema.Progress, bool, error) {
	env, err := s.Get(ctx)
	if err != nil {
		return schema.Progress{}, false, err
	}
	p, ok := env.Progress[videoID]
	return p, ok, nil
}

func (s *Store) Video(ctx context.Context, videoID string) (schema.Video, bool, error) {
	env, err := s.Get(ctx)
	if err != nil {
		return schema.Video{}, false, err
	}
	v, ok := env.Videos[videoID]
	return v, ok, nil
}

// PlaylistStats aggregates one playlist on demand.
func (s *Store) PlaylistStats(ctx context.Context, playlistID string) (statistics.PlaylistStats, error) {
	env, err := s.Get(ctx)
	if err != nil {
		return statistics.PlaylistStats{}, err
	}
	if _, ok := env.Playlists[playlistID]; !ok {
		return statistics.PlaylistStats{}, fmt.Errorf("playlist %s: %w", playlistID, ErrNotFound)
	}
	return statistics.ForPlaylist(env, playlistID), nil
}

func (s *Store) AllPlaylistStats(ctx context.Context) (statistics.StatisticsResult, error) {
	env, err := s.Get(ctx)
	if err != nil {
		return statistics.StatisticsResult{}, err
	}
	return statistics.ForAll(env), nil
}

// PruneResult counts the entries removed by PruneOrphans.
type PruneResult struct {
	Progress int
	Notes    int
}

// PruneOrphans removes progress and notes whose video no longer exists.
// Orphans are otherwise tolerated and never removed automatically.
func (s *Store) PruneOrphans(ctx context.Context) (PruneResult, error) {
	var result PruneResult
	err := s.mutate(ctx, false, func(env *schema.Envelope) error {
		for id := range env.Progress {
			if _, ok := env.Videos[id]; !ok {
				delete(env.Progress, id)
				result.Progress++
			}
		}
		for id, n := range env.Notes {
			if _, ok := env.Videos[n.VideoID]; !ok {
				delete(env.Notes, id)
				result.Notes++
			}
		}
		return nil
	}, schema.SliceProgress, schema.SliceNotes)
	if err != nil {
		return PruneResult{}, err
	}
	return result, nil
}
