package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/at-ishikawa/playtrack/internal/bootstrap"
	"github.com/at-ishikawa/playtrack/internal/config"
	"github.com/at-ishikawa/playtrack/internal/log"
)

var (
	configFile string
)

var (
	bold   = color.New(color.Bold)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	faint  = color.New(color.Faint)
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if _, fprintfErr := fmt.Fprintf(os.Stderr, "failed to execute a command: %+v\n", err); fprintfErr != nil {
			panic(fmt.Errorf("failed to output an error: %w. Reason: %w", err, fprintfErr))
		}
		os.Exit(1)
	}
	os.Exit(0)
}

func newRootCommand() *cobra.Command {
	var debugMode bool
	rootCommand := &cobra.Command{
		Use:           "playtrack",
		Short:         "Track watch progress of video playlists",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogger(debugMode)
			return nil
		},
	}
	rootCommand.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCommand.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug mode")

	rootCommand.AddCommand(
		newStateCommand(),
		newSettingsCommand(),
		newPlaylistCommand(),
		newProgressCommand(),
		newWatchCommand(),
		newNoteCommand(),
		newExportCommand(),
		newImportCommand(),
		newPruneCommand(),
		newReportCommand(),
		newServeCommand(),
	)
	return rootCommand
}

// setupLogger configures the global logger based on debug mode
func setupLogger(debugMode bool) {
	level := "info"
	if debugMode {
		level = "debug"
	}
	log.Configure(log.Config{
		Level:  level,
		Output: os.Stderr,
		Pretty: true,
	})
}

func loadConfig() (*config.Config, error) {
	loader, err := config.NewConfigLoader(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create config loader: %w", err)
	}
	return loader.Load()
}

// runWithStore opens the configured store, runs fn and closes everything,
// flushing deferred writes. Only long running commands watch for changes
// made elsewhere.
func runWithStore(cmd *cobra.Command, watch bool, fn func(ctx context.Context, cfg *config.Config, rt *bootstrap.Runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Sync.Watch = cfg.Sync.Watch && watch

	app := bootstrap.New()
	return app.Run(cmd.Context(), func(ctx context.Context) error {
		rt, err := bootstrap.Open(ctx, cfg, app)
		if err != nil {
			return err
		}
		return fn(ctx, cfg, rt)
	})
}
