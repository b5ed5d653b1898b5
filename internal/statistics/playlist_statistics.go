package statistics

import (
	"sort"

	"github.com/at-ishikawa/playtrack/internal/schema"
)

// PlaylistStats holds progress figures for one playlist
type PlaylistStats struct {
	PlaylistID           string
	Title                string
	VideoCount           int
	CompletedCount       int // videos with completion >= schema.CompletedThreshold
	TotalDurationSeconds int
	WatchedSeconds       int
}

// Completion is the share of the playlist's duration that was watched.
func (s PlaylistStats) Completion() float64 {
	if s.TotalDurationSeconds == 0 {
		return 0
	}
	return float64(s.WatchedSeconds) / float64(s.TotalDurationSeconds)
}

// AggregateStats holds totals across all playlists
type AggregateStats struct {
	PlaylistCount        int
	VideoCount           int
	CompletedCount       int
	TotalDurationSeconds int
	WatchedSeconds       int
}

// StatisticsResult holds both per-playlist and aggregate statistics
type StatisticsResult struct {
	Playlists []PlaylistStats
	Aggregate AggregateStats
}

// ForPlaylist computes the statistics of one playlist. Nothing is cached; the
// figures always reflect the envelope passed in.
func ForPlaylist(env schema.Envelope, playlistID string) PlaylistStats {
	stats := PlaylistStats{
		PlaylistID: playlistID,
		Title:      env.Playlists[playlistID].Title,
	}
	for _, video := range env.Videos {
		if video.PlaylistID != playlistID {
			continue
		}
		stats.VideoCount++
		stats.TotalDurationSeconds += video.DurationSeconds

		progress, ok := env.Progress[video.ID]
		if !ok {
			continue
		}
		if progress.IsCompleted() {
			stats.CompletedCount++
		}
		stats.WatchedSeconds += progress.WatchedSeconds
	}
	return stats
}

// ForAll computes statistics for every playlist, ordered by playlist id.
func ForAll(env schema.Envelope) StatisticsResult {
	ids := make([]string, 0, len(env.Playlists))
	for id := range env.Playlists {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result := StatisticsResult{Playlists: make([]PlaylistStats, 0, len(ids))}
	for _, id := range ids {
		stats := ForPlaylist(env, id)
		result.Playlists = append(result.Playlists, stats)

		result.Aggregate.PlaylistCount++
		result.Aggregate.VideoCount += stats.VideoCount
		result.Aggregate.CompletedCount += stats.CompletedCount
		result.Aggregate.TotalDurationSeconds += stats.TotalDurationSeconds
		result.Aggregate.WatchedSeconds += stats.WatchedSeconds
	}
	return result
}
