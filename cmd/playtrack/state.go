package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/at-ishikawa/playtrack/internal/bootstrap"
	"github.com/at-ishikawa/playtrack/internal/config"
	"github.com/at-ishikawa/playtrack/internal/schema"
)

func newStateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the stored state as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(cmd, false, func(ctx context.Context, _ *config.Config, rt *bootstrap.Runtime) error {
				data, err := rt.Store.Export(ctx)
				if err != nil {
					return fmt.Errorf("store.Export() > %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			})
		},
	}
}

func newSettingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			return runWithStore(cmd, false, func(ctx context.Context, _ *config.Config, rt *bootstrap.Runtime) error {
				env, err := rt.Store.Get(ctx)
				if err != nil {
					return fmt.Errorf("store.Get() > %w", err)
				}
				settings, err := applySettingsFlags(flags, env.Settings)
				if err != nil {
					return err
				}
				if settings != env.Settings {
					if err := rt.Store.UpdateSettings(ctx, settings); err != nil {
						return fmt.Errorf("store.UpdateSettings() > %w", err)
					}
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s %s\n", bold.Sprint("theme:"), settings.Theme)
				fmt.Fprintf(out, "%s %g\n", bold.Sprint("playback rate:"), settings.PlaybackRate)
				fmt.Fprintf(out, "%s %s\n", bold.Sprint("player mode:"), settings.PlayerMode)
				fmt.Fprintf(out, "%s %t\n", bold.Sprint("keyboard shortcuts:"), settings.KeyboardShortcuts)
				return nil
			})
		},
	}
	cmd.Flags().String("theme", "", "Theme: system, light or dark")
	cmd.Flags().Float64("playback-rate", 1, "Playback rate between 0.25 and 2")
	cmd.Flags().String("player-mode", "", "Player mode: default, theater or fullscreen")
	cmd.Flags().Bool("keyboard-shortcuts", true, "Enable keyboard shortcuts")
	return cmd
}

// applySettingsFlags overrides the fields of settings whose flag was set.
func applySettingsFlags(flags *pflag.FlagSet, settings schema.Settings) (schema.Settings, error) {
	var err error
	if flags.Changed("theme") {
		if settings.Theme, err = flags.GetString("theme"); err != nil {
			return settings, err
		}
	}
	if flags.Changed("playback-rate") {
		if settings.PlaybackRate, err = flags.GetFloat64("playback-rate"); err != nil {
			return settings, err
		}
	}
	if flags.Changed("player-mode") {
		if settings.PlayerMode, err = flags.GetString("player-mode"); err != nil {
			return settings, err
		}
	}
	if flags.Changed("keyboard-shortcuts") {
		if settings.KeyboardShortcuts, err = flags.GetBool("keyboard-shortcuts"); err != nil {
			return settings, err
		}
	}
	return settings, nil
}
