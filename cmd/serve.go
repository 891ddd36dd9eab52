package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/saferoute/internal/api"
	"github.com/sells-group/saferoute/internal/cache"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the route scoring HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cells := cellReader(st)
		sc, err := newScorer(cells)
		if err != nil {
			return err
		}

		snapshots := cache.NewSnapshotCache(cfg.Cache.MaxEntries, time.Duration(cfg.Cache.TTLSecs)*time.Second)

		// Admin invalidations drop local snapshots and, with NATS, reach
		// every other instance too.
		targets := cache.Multi{snapshots}
		if cfg.NATS.URL != "" {
			nc, err := cache.ConnectNATS(cfg.NATS.URL)
			if err != nil {
				return err
			}
			defer nc.Close()

			sub, err := cache.Subscribe(nc, cfg.NATS.Subject, snapshots)
			if err != nil {
				return err
			}
			defer sub.Unsubscribe() //nolint:errcheck

			targets = append(targets, cache.NewNATSPublisher(nc, cfg.NATS.Subject))
			zap.L().Info("listening for cache invalidations", zap.String("subject", cfg.NATS.Subject))
		}

		srv := api.NewServer(cfg.Server, sc, snapshots, targets, api.WithBreaker(cells.Breaker())).HTTPServer(servePort)

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
