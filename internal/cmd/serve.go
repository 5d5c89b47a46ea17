package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/betterme/betterme/internal/logger"
	"github.com/betterme/betterme/internal/realtime"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the client core over a local API",
	Long: `Run the companion API the mobile shell talks to. While serving, the
realtime change feed keeps the cache current and stale lists are refreshed
periodically. Stop with Ctrl+C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(r *runner) error {
			if serveAddr != "" {
				r.app.Config.Server.Addr = serveAddr
			}

			r.app.Feed.Prefetch(r.ctx)
			rt := r.app.Realtime()
			srv := r.app.Server()

			g, ctx := errgroup.WithContext(r.ctx)
			g.Go(func() error { return srv.Run(ctx) })
			if rt != nil {
				g.Go(func() error { return rt.Run(ctx) })
			}
			g.Go(func() error {
				refreshLoop(ctx, r, rt, r.app.Config.Server.RefreshEvery)
				return nil
			})

			r.out.Success("Serving on %s", r.app.Config.Server.Addr)
			err := g.Wait()
			if rt != nil {
				stats := rt.Stats()
				logger.Log.Info("Realtime session summary",
					zap.Int64("messages", stats.MessagesReceived),
					zap.Int64("invalidations", stats.Invalidations),
					zap.Int("reconnects", stats.ReconnectCount))
			}
			return err
		})
	},
}

// refreshLoop keeps the session and the cached lists fresh until ctx ends.
func refreshLoop(ctx context.Context, r *runner, rt *realtime.Client, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := r.app.Session.RefreshIfStale(ctx); err != nil {
			logger.WarnWithFields("Session refresh failed", err)
		}
		if rt != nil {
			rt.SetAccessToken(r.app.Backend.AccessToken())
		}
		if err := r.app.Feed.RefreshIfStale(ctx); err != nil && ctx.Err() == nil {
			logger.Log.Debug("Periodic refresh incomplete", zap.Error(err))
		}
	}
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from server.addr)")
}
