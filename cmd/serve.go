package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/credresolve/internal/server"
)

const (
	// shutdownGrace is how long in-flight batches get to finish after a signal.
	shutdownGrace = 2 * time.Minute
	// drainTimeout bounds the wait for cancelled batches to release their
	// sessions.
	drainTimeout = 30 * time.Second
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the upload and progress-stream server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		o, err := initOrchestrator("serve")
		if err != nil {
			return err
		}

		// Batches are not tied to the signal context: a shutdown lets them
		// finish within shutdownGrace and only then cancels them.
		batchCtx, cancelBatches := context.WithCancel(context.WithoutCancel(ctx))
		defer cancelBatches()

		srv := server.New(o, server.Options{
			CORSOrigins:    cfg.Server.CORSOrigins,
			MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
			TempDir:        cfg.Server.TempDir,
			KeepAlive:      time.Duration(cfg.Server.KeepAliveSecs) * time.Second,
			BaseContext:    batchCtx,
		})

		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		return runServer(ctx, httpSrv, shutdownGrace, cancelBatches, srv.Wait)
	},
}

// runServer serves until ctx is done. In-flight requests then get grace to
// finish; after that running batches are cancelled and awaited so each one
// releases its browser session before the process exits.
func runServer(ctx context.Context, srv *http.Server, grace time.Duration, cancelBatches context.CancelFunc, waitBatches func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down server", zap.Duration("grace", grace))
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("grace period over, cancelling batches", zap.Error(err))
		}

		cancelBatches()
		drainCtx, cancelDrain := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
		defer cancelDrain()
		err := waitBatches(drainCtx)
		_ = srv.Close()
		if err != nil {
			return eris.Wrap(err, "server shutdown")
		}
		return nil
	})

	return g.Wait()
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
