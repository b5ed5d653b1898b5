package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/at-ishikawa/playtrack/internal/bootstrap"
	"github.com/at-ishikawa/playtrack/internal/config"
	"github.com/at-ishikawa/playtrack/internal/notes"
	"github.com/at-ishikawa/playtrack/internal/schema"
	"github.com/at-ishikawa/playtrack/internal/store"
	"github.com/at-ishikawa/playtrack/internal/tracker"
)

func newNoteCommand() *cobra.Command {
	noteCmd := &cobra.Command{
		Use:   "note",
		Short: "Manage notes on videos",
	}
	noteCmd.AddCommand(
		newNoteAddCommand(),
		newNoteEditCommand(),
		newNoteRemoveCommand(),
		newNoteListCommand(),
	)
	return noteCmd
}

func parseMarkers(values []string) ([]schema.Timestamp, error) {
	markers := make([]schema.Timestamp, 0, len(values))
	for _, v := range values {
		marker, err := notes.ParseMarker(v)
		if err != nil {
			return nil, fmt.Errorf("--at %s: %w", v, err)
		}
		markers = append(markers, marker)
	}
	return markers, nil
}

func newNoteAddCommand() *cobra.Command {
	var at []string

	cmd := &cobra.Command{
		Use:   "add <video id> <content>",
		Short: "Add a note to a video",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			markers, err := parseMarkers(at)
			if err != nil {
				return err
			}
			return runWithStore(cmd, false, func(ctx context.Context, _ *config.Config, rt *bootstrap.Runtime) error {
				if _, ok, err := rt.Store.Video(ctx, args[0]); err != nil {
					return fmt.Errorf("store.Video(%s) > %w", args[0], err)
				} else if !ok {
					return fmt.Errorf("video %s: %w", args[0], tracker.ErrUnknownVideo)
				}

				note := notes.New(args[0], args[1], markers, time.Now())
				if err := rt.Store.UpsertNote(ctx, note); err != nil {
					return fmt.Errorf("store.UpsertNote() > %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), note.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&at, "at", nil, `Timestamp marker such as "1:30" or "1:30=label", repeatable`)
	return cmd
}

func newNoteEditCommand() *cobra.Command {
	var at []string

	cmd := &cobra.Command{
		Use:   "edit <note id> <content>",
		Short: "Replace the content and markers of a note",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			markers, err := parseMarkers(at)
			if err != nil {
				return err
			}
			return runWithStore(cmd, false, func(ctx context.Context, _ *config.Config, rt *bootstrap.Runtime) error {
				env, err := rt.Store.Get(ctx)
				if err != nil {
					return fmt.Errorf("store.Get() > %w", err)
				}
				note, ok := env.Notes[args[0]]
				if !ok {
					return fmt.Errorf("note %s: %w", args[0], store.ErrNotFound)
				}
				if err := rt.Store.UpsertNote(ctx, notes.Edit(note, args[1], markers, time.Now())); err != nil {
					return fmt.Errorf("store.UpsertNote() > %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&at, "at", nil, `Timestamp marker such as "1:30" or "1:30=label", repeatable`)
	return cmd
}

func newNoteRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <note id>",
		Short: "Remove a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(cmd, false, func(ctx context.Context, _ *config.Config, rt *bootstrap.Runtime) error {
				if err := rt.Store.RemoveNote(ctx, args[0]); err != nil {
					return fmt.Errorf("store.RemoveNote(%s) > %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
				return nil
			})
		},
	}
}

func newNoteListCommand() *cobra.Command {
	var tag string

	cmd := &cobra.Command{
		Use:   "list [video id]",
		Short: "List notes, optionally of one video",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(cmd, false, func(ctx context.Context, _ *config.Config, rt *bootstrap.Runtime) error {
				env, err := rt.Store.Get(ctx)
				if err != nil {
					return fmt.Errorf("store.Get() > %w", err)
				}

				var list []schema.Note
				for _, n := range env.Notes {
					if len(args) == 1 && n.VideoID != args[0] {
						continue
					}
					if tag != "" && !containsTag(n.Tags, tag) {
						continue
					}
					list = append(list, n)
				}
				sort.Slice(list, func(i, j int) bool {
					if list[i].CreatedAt != list[j].CreatedAt {
						return list[i].CreatedAt < list[j].CreatedAt
					}
					return list[i].ID < list[j].ID
				})

				out := cmd.OutOrStdout()
				for _, n := range list {
					fmt.Fprintf(out, "%s %s %s\n", faint.Sprint(n.ID), bold.Sprint(n.VideoID), n.Content)
					for _, m := range n.Timestamps {
						fmt.Fprintf(out, "    %s %s\n", yellow.Sprint(notes.FormatClock(m.Seconds)), m.Label)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "Only list notes with this tag")
	return cmd
}

func containsTag(tags []string, tag string) bool {
	tag = strings.ToLower(strings.TrimPrefix(tag, "#"))
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
