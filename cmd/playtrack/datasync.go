package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"

	"github.com/at-ishikawa/playtrack/internal/bootstrap"
	"github.com/at-ishikawa/playtrack/internal/config"
	"github.com/at-ishikawa/playtrack/internal/datasync"
	"github.com/at-ishikawa/playtrack/internal/store"
)

// resolveFormat prefers an explicit --format over the file extension.
func resolveFormat(name, path string) (datasync.Format, error) {
	if name != "" {
		return datasync.ParseFormat(name)
	}
	return datasync.FormatFromPath(path), nil
}

func newExportCommand() *cobra.Command {
	var (
		output string
		format string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the whole state as JSON or YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := resolveFormat(format, output)
			if err != nil {
				return err
			}
			return runWithStore(cmd, false, func(ctx context.Context, _ *config.Config, rt *bootstrap.Runtime) error {
				exporter := datasync.NewExporter(rt.Store)
				if output == "" || output == "-" {
					return exporter.Export(ctx, cmd.OutOrStdout(), f)
				}

				file, err := renameio.NewPendingFile(output, renameio.WithPermissions(0o644))
				if err != nil {
					return fmt.Errorf("renameio.NewPendingFile(%s) > %w", output, err)
				}
				defer func() {
					_ = file.Cleanup()
				}()
				if err := exporter.Export(ctx, file, f); err != nil {
					return err
				}
				if err := file.CloseAtomicallyReplace(); err != nil {
					return fmt.Errorf("file.CloseAtomicallyReplace(%s) > %w", output, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "exported to %s\n", output)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, stdout when empty")
	cmd.Flags().StringVar(&format, "format", "", "json or yaml, defaults to the output file extension")
	return cmd
}

func newImportCommand() *cobra.Command {
	var (
		format string
		opts   store.ImportOptions
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a JSON or YAML export, - reads stdin",
		Long: `Import an export of any version. Older documents are migrated and every
document is validated before it replaces the current state. With --merge the
imported playlists, videos, progress and notes are added to the current state
and the current settings are kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			f, err := resolveFormat(format, path)
			if err != nil {
				return err
			}

			var reader io.Reader = cmd.InOrStdin()
			if path != "-" {
				file, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("os.Open(%s) > %w", path, err)
				}
				defer func() {
					_ = file.Close()
				}()
				reader = file
			}

			return runWithStore(cmd, false, func(ctx context.Context, _ *config.Config, rt *bootstrap.Runtime) error {
				out := cmd.OutOrStdout()
				bold.Fprintf(out, "Importing %s\n", path)
				if _, err := datasync.NewImporter(rt.Store, out).Import(ctx, reader, f, opts); err != nil {
					return err
				}
				green.Fprintln(out, "done")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "json or yaml, defaults to the file extension")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Show what would change without writing")
	cmd.Flags().BoolVar(&opts.Merge, "merge", false, "Merge into the current state instead of replacing it")
	return cmd
}

func newPruneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove progress and notes of videos that no longer exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(cmd, false, func(ctx context.Context, _ *config.Config, rt *bootstrap.Runtime) error {
				result, err := rt.Store.PruneOrphans(ctx)
				if err != nil {
					return fmt.Errorf("store.PruneOrphans() > %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d progress records and %d notes\n", result.Progress, result.Notes)
				return nil
			})
		},
	}
}
