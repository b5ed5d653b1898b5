package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/at-ishikawa/playtrack/internal/bootstrap"
	"github.com/at-ishikawa/playtrack/internal/config"
	"github.com/at-ishikawa/playtrack/internal/metadata"
	"github.com/at-ishikawa/playtrack/internal/statistics"
)

func newPlaylistCommand() *cobra.Command {
	playlistCmd := &cobra.Command{
		Use:   "playlist",
		Short: "Manage playlists",
	}
	playlistCmd.AddCommand(
		newPlaylistImportCommand(),
		newPlaylistRemoveCommand(),
		newPlaylistStatsCommand(),
		newPlaylistListCommand(),
	)
	return playlistCmd
}

func newPlaylistImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <playlist id>",
		Short: "Fetch a playlist from the metadata service and store it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(cmd, false, func(ctx context.Context, cfg *config.Config, rt *bootstrap.Runtime) error {
				if cfg.Metadata.BaseURL == "" {
					return fmt.Errorf("metadata.base_url is not configured")
				}
				response, err := metadata.NewClient(cfg.Metadata).Playlist(ctx, args[0])
				if err != nil {
					return fmt.Errorf("metadata.Client.Playlist(%s) > %w", args[0], err)
				}

				playlist, videos := response.Entities(time.Now())
				if err := rt.Store.AddPlaylist(ctx, playlist, videos); err != nil {
					return fmt.Errorf("store.AddPlaylist(%s) > %w", playlist.ID, err)
				}
				green.Fprintf(cmd.OutOrStdout(), "imported %s (%d videos)\n", playlist.Title, len(videos))
				return nil
			})
		},
	}
}

func newPlaylistRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <playlist id>",
		Short: "Remove a playlist with its videos and their progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(cmd, false, func(ctx context.Context, _ *config.Config, rt *bootstrap.Runtime) error {
				if err := rt.Store.RemovePlaylist(ctx, args[0]); err != nil {
					return fmt.Errorf("store.RemovePlaylist(%s) > %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
				return nil
			})
		},
	}
}

func newPlaylistStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [playlist id]",
		Short: "Show watch statistics of one or all playlists",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(cmd, false, func(ctx context.Context, _ *config.Config, rt *bootstrap.Runtime) error {
				out := cmd.OutOrStdout()
				if len(args) == 1 {
					stats, err := rt.Store.PlaylistStats(ctx, args[0])
					if err != nil {
						return fmt.Errorf("store.PlaylistStats(%s) > %w", args[0], err)
					}
					writePlaylistStats(out, stats)
					return nil
				}

				result, err := rt.Store.AllPlaylistStats(ctx)
				if err != nil {
					return fmt.Errorf("store.AllPlaylistStats() > %w", err)
				}
				for _, stats := range result.Playlists {
					writePlaylistStats(out, stats)
				}
				total := result.Aggregate
				fmt.Fprintf(out, "%s %d playlists, %d/%d videos completed, %s/%s watched\n",
					bold.Sprint("total:"),
					total.PlaylistCount, total.CompletedCount, total.VideoCount,
					formatDuration(total.WatchedSeconds), formatDuration(total.TotalDurationSeconds))
				return nil
			})
		},
	}
}

func newPlaylistListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List playlists and their videos",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(cmd, false, func(ctx context.Context, _ *config.Config, rt *bootstrap.Runtime) error {
				env, err := rt.Store.Get(ctx)
				if err != nil {
					return fmt.Errorf("store.Get() > %w", err)
				}
				ids := make([]string, 0, len(env.Playlists))
				for id := range env.Playlists {
					ids = append(ids, id)
				}
				sort.Strings(ids)

				out := cmd.OutOrStdout()
				for _, id := range ids {
					playlist := env.Playlists[id]
					fmt.Fprintf(out, "%s %s\n", bold.Sprint(playlist.Title), faint.Sprintf("(%s)", id))
					for _, video := range env.PlaylistVideos(id) {
						progress := env.Progress[video.ID]
						line := fmt.Sprintf("  %3d. %s [%s] %s %.0f%%\n",
							video.Position, video.Title, video.ID, formatDuration(video.DurationSeconds), progress.Completion*100)
						if progress.IsCompleted() {
							green.Fprint(out, line)
						} else {
							fmt.Fprint(out, line)
						}
					}
				}
				return nil
			})
		},
	}
}

func writePlaylistStats(out io.Writer, stats statistics.PlaylistStats) {
	fmt.Fprintf(out, "%s %s\n", bold.Sprint(stats.Title), faint.Sprintf("(%s)", stats.PlaylistID))
	fmt.Fprintf(out, "  videos:    %d/%d completed\n", stats.CompletedCount, stats.VideoCount)
	fmt.Fprintf(out, "  watched:   %s of %s (%.0f%%)\n",
		formatDuration(stats.WatchedSeconds), formatDuration(stats.TotalDurationSeconds), stats.Completion()*100)
}

func formatDuration(seconds int) string {
	return (time.Duration(seconds) * time.Second).String()
}
