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

	"github.com/sells-group/leadflow/internal/api"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the job API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		go env.Registry.Run(ctx)
		env.runRelays(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.NewServer(env.Registry, env.Store, cfg.Server.CORSOrigins).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		done := make(chan struct{})
		go func() {
			defer close(done)
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdown(srv, env.Registry, 30*time.Second)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		<-done
		return nil
	},
}

// drainer finishes or stops live jobs.
type drainer interface {
	Shutdown(ctx context.Context) error
}

// shutdown stops jobs, then the HTTP server, each under its own timeout.
// Event streams end only when their job finalizes. The store must stay open
// until this returns.
func shutdown(srv *http.Server, jobs drainer, timeout time.Duration) {
	jobsCtx, cancel := context.WithTimeout(context.Background(), timeout)
	if err := jobs.Shutdown(jobsCtx); err != nil {
		zap.L().Warn("registry shutdown", zap.Error(err))
	}
	cancel()

	srvCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(srvCtx); err != nil {
		zap.L().Warn("server shutdown", zap.Error(err))
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
