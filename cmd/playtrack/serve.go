package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/at-ishikawa/playtrack/internal/bootstrap"
	"github.com/at-ishikawa/playtrack/internal/channel"
	"github.com/at-ishikawa/playtrack/internal/config"
	"github.com/at-ishikawa/playtrack/internal/log"
	"github.com/at-ishikawa/playtrack/internal/server"
)

func newServeCommand() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and the change feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			return runWithStore(cmd, true, func(ctx context.Context, cfg *config.Config, rt *bootstrap.Runtime) error {
				serverConfig := cfg.Server
				if flags.Changed("port") {
					serverConfig.Port = port
				}
				logger := log.WithComponent("serve")

				if err := rt.Store.Init(ctx); err != nil {
					return fmt.Errorf("store.Init() > %w", err)
				}
				rt.Store.OnExternalChange(func(change channel.Change) {
					logger.Info().Str("origin", change.Origin).Msg("state changed by another process")
				})

				srv := server.New(rt.Store, rt.Changes, serverConfig)
				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					return srv.ListenAndServe(gctx)
				})
				g.Go(func() error {
					// flush as soon as shutdown starts; the store hook closes it later
					<-gctx.Done()
					return rt.Store.Flush(context.WithoutCancel(gctx))
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on, defaults to server.port")
	return cmd
}
