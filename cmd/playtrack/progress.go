package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/at-ishikawa/playtrack/internal/bootstrap"
	"github.com/at-ishikawa/playtrack/internal/config"
	"github.com/at-ishikawa/playtrack/internal/notes"
	"github.com/at-ishikawa/playtrack/internal/schema"
	"github.com/at-ishikawa/playtrack/internal/tracker"
)

func newProgressCommand() *cobra.Command {
	progressCmd := &cobra.Command{
		Use:   "progress",
		Short: "Inspect and record watch progress of a video",
	}
	progressCmd.AddCommand(
		newProgressShowCommand(),
		newProgressCheckpointCommand(),
		newProgressResetCommand(),
		newProgressResumeCommand(),
	)
	return progressCmd
}

func sessionOptions(cfg *config.Config, out io.Writer) []tracker.Option {
	return []tracker.Option{
		tracker.WithTick(cfg.Tracker.Tick()),
		tracker.WithAutosave(cfg.Tracker.Autosave()),
		tracker.WithCompletionThreshold(cfg.Tracker.CompletionThreshold),
		tracker.WithResumePolicy(resumePolicy(cfg)),
		tracker.OnComplete(func(p schema.Progress) {
			green.Fprintf(out, "completed %s\n", p.VideoID)
		}),
	}
}

func resumePolicy(cfg *config.Config) tracker.ResumePolicy {
	return tracker.ResumePolicy{
		FloorSeconds:  cfg.Tracker.ResumeFloorSeconds,
		MaxCompletion: cfg.Tracker.ResumeMaxCompletion,
	}
}

func newProgressShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <video id>",
		Short: "Show the stored progress of a video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(cmd, false, func(ctx context.Context, cfg *config.Config, rt *bootstrap.Runtime) error {
				video, ok, err := rt.Store.Video(ctx, args[0])
				if err != nil {
					return fmt.Errorf("store.Video(%s) > %w", args[0], err)
				}
				if !ok {
					return fmt.Errorf("video %s: %w", args[0], tracker.ErrUnknownVideo)
				}
				progress, found, err := rt.Store.Progress(ctx, args[0])
				if err != nil {
					return fmt.Errorf("store.Progress(%s) > %w", args[0], err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s %s\n", bold.Sprint(video.Title), faint.Sprintf("(%s)", video.ID))
				if !found {
					yellow.Fprintln(out, "  not watched yet")
					return nil
				}
				fmt.Fprintf(out, "  watched:     %s of %s (%.0f%%)\n",
					formatDuration(progress.WatchedSeconds), formatDuration(video.DurationSeconds), progress.Completion*100)
				fmt.Fprintf(out, "  position:    %s\n", notes.FormatClock(progress.LastPositionSeconds))
				fmt.Fprintf(out, "  resume at:   %s\n", notes.FormatClock(resumePolicy(cfg).ResumeTime(progress)))
				if progress.LastWatchedAt != "" {
					fmt.Fprintf(out, "  last watched: %s\n", progress.LastWatchedAt)
				}
				if progress.CompletedAt != nil {
					green.Fprintf(out, "  completed:   %s\n", *progress.CompletedAt)
				}
				return nil
			})
		},
	}
}

func newProgressCheckpointCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint <video id> <time>...",
		Short: "Record that the video was watched from its resume position up to each time",
		Long: `Record watched segments of a video. A session starts at the resume position
of the stored progress and every time, given as seconds, m:ss or h:mm:ss,
ends the segment started by the previous one.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			times := make([]int, 0, len(args)-1)
			for _, arg := range args[1:] {
				seconds, err := notes.ParseClock(arg)
				if err != nil {
					return err
				}
				times = append(times, int(seconds))
			}

			return runWithStore(cmd, false, func(ctx context.Context, cfg *config.Config, rt *bootstrap.Runtime) error {
				session, err := tracker.NewSession(ctx, rt.Store, args[0], sessionOptions(cfg, cmd.OutOrStdout())...)
				if err != nil {
					return err
				}
				for _, t := range times {
					if err := session.Checkpoint(ctx, t); err != nil {
						return errors.Join(err, session.Close(ctx))
					}
				}
				if err := session.Close(ctx); err != nil {
					return fmt.Errorf("session.Close() > %w", err)
				}
				return printProgress(ctx, cmd.OutOrStdout(), rt, args[0])
			})
		},
	}
}

func newProgressResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <video id>",
		Short: "Reset the progress of a video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(cmd, false, func(ctx context.Context, cfg *config.Config, rt *bootstrap.Runtime) error {
				session, err := tracker.NewSession(ctx, rt.Store, args[0], sessionOptions(cfg, cmd.OutOrStdout())...)
				if err != nil {
					return err
				}
				if err := session.Reset(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", args[0])
				return nil
			})
		},
	}
}

func newProgressResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <video id>",
		Short: "Print the position playback of a video resumes at, in seconds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(cmd, false, func(ctx context.Context, cfg *config.Config, rt *bootstrap.Runtime) error {
				progress, _, err := rt.Store.Progress(ctx, args[0])
				if err != nil {
					return fmt.Errorf("store.Progress(%s) > %w", args[0], err)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%g\n", resumePolicy(cfg).ResumeTime(progress))
				return err
			})
		},
	}
}

func newWatchCommand() *cobra.Command {
	var (
		input string
		tick  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <video id>",
		Short: "Track a viewing session from a stream of playhead samples",
		Long: `Track a viewing session. Every tick one line is read from the input, either
"<time>" or "<time> paused", where time is seconds, m:ss or h:mm:ss.
The session ends at the end of the input or on interrupt.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var reader io.Reader = cmd.InOrStdin()
			if input != "" && input != "-" {
				file, err := os.Open(input)
				if err != nil {
					return fmt.Errorf("os.Open(%s) > %w", input, err)
				}
				defer func() {
					_ = file.Close()
				}()
				reader = file
			}

			return runWithStore(cmd, true, func(ctx context.Context, cfg *config.Config, rt *bootstrap.Runtime) error {
				opts := sessionOptions(cfg, cmd.OutOrStdout())
				if tick > 0 {
					opts = append(opts, tracker.WithTick(tick))
				}
				session, err := tracker.NewSession(ctx, rt.Store, args[0], opts...)
				if err != nil {
					return err
				}
				if err := session.Run(ctx, newLineSource(reader)); err != nil {
					return err
				}
				return printProgress(context.WithoutCancel(ctx), cmd.OutOrStdout(), rt, args[0])
			})
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "-", "File to read playhead samples from, - for stdin")
	cmd.Flags().DurationVar(&tick, "tick", 0, "Sampling interval, defaults to tracker.tick_ms")
	return cmd
}

// lineSource reads one playhead sample per line. Blank lines are skipped.
type lineSource struct {
	scanner *bufio.Scanner
}

func newLineSource(r io.Reader) *lineSource {
	return &lineSource{scanner: bufio.NewScanner(r)}
}

func (s *lineSource) Playback(_ context.Context) (float64, bool, error) {
	for s.scanner.Scan() {
		fields := strings.Fields(s.scanner.Text())
		if len(fields) == 0 {
			continue
		}
		position, err := notes.ParseClock(fields[0])
		if err != nil {
			return 0, false, err
		}
		playing := len(fields) < 2 || fields[1] != "paused"
		return position, playing, nil
	}
	if err := s.scanner.Err(); err != nil {
		return 0, false, err
	}
	return 0, false, io.EOF
}

func printProgress(ctx context.Context, out io.Writer, rt *bootstrap.Runtime, videoID string) error {
	progress, _, err := rt.Store.Progress(ctx, videoID)
	if err != nil {
		return fmt.Errorf("store.Progress(%s) > %w", videoID, err)
	}
	fmt.Fprintf(out, "%s watched %s (%.0f%%), at %s\n",
		videoID, formatDuration(progress.WatchedSeconds), progress.Completion*100,
		notes.FormatClock(progress.LastPositionSeconds))
	return nil
}
