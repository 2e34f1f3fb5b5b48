package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/chronochain/internal/api"
	"github.com/jmerrifield20/chronochain/internal/config"
	"github.com/jmerrifield20/chronochain/internal/ledger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ── serve ────────────────────────────────────────────────────────────────────

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a read-only HTTP view of the chain",
	Long: `Load the configured chain and serve it over HTTP:

  GET /api/v1/ledger               length, tip digest and algorithm
  GET /api/v1/ledger/verify        full validation report
  GET /api/v1/ledger/blocks        blocks, filtered by ?since= and ?until=
  GET /api/v1/ledger/blocks/:idx   a single block
  GET /healthz, GET /metrics`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(cmd.Context(), func(l *ledger.Ledger, cfg *config.Config, logger *zap.Logger) error {
			ctx := cmd.Context()
			if err := l.OpenOrCreate(ctx); err != nil {
				return err
			}

			res, err := l.Validate(ctx)
			if err != nil {
				return err
			}
			if !res.Valid {
				logger.Warn("serving a chain that failed validation", zap.Error(res.Err()))
			}

			if cmd.Flags().Changed("port") {
				cfg.Server.Port = servePort
			}
			if !verbose {
				gin.SetMode(gin.ReleaseMode)
			}
			return serve(ctx, api.NewRouter(l, cfg.Server, logger), cfg.Server.Port, logger)
		})
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides server.port)")
}

// serve runs the HTTP server until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, handler http.Handler, port int, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("chronochain HTTP listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
