package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/httpapi"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve presigned upload credentials and object metadata over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.HTTPAddr
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           httpapi.NewRouter(a.logger, a.client, metrics.Handler(a.registry)),
				ReadHeaderTimeout: 10 * time.Second,
			}
			return run(cmd.Context(), srv, a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: S3UPLOAD_HTTP_ADDR)")
	return cmd
}

// run serves until ctx ends, then shuts down gracefully.
func run(ctx context.Context, srv *http.Server, a *app) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
