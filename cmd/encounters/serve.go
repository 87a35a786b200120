package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/encounters.report/internal/api"
	"github.com/banshee-data/encounters.report/internal/db"
	"github.com/banshee-data/encounters.report/internal/monitoring"
	"github.com/banshee-data/encounters.report/internal/report"
)

const shutdownTimeout = 5 * time.Second

func (a *app) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the encounters API, reports and debug console over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openDB()
			if err != nil {
				return err
			}
			defer store.Close()

			handler, err := newHandler(store, a.v.GetString("assets-host"))
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", a.v.GetString("listen"))
			if err != nil {
				return err
			}
			return serve(cmd.Context(), ln, handler)
		},
	}
	f := cmd.Flags()
	f.String("listen", "localhost:8080", "HTTP listen address")
	f.String("assets-host", report.DefaultAssetsHost, "where report pages load their chart scripts from")
	for _, name := range []string{"listen", "assets-host"} {
		if err := a.v.BindPFlag(name, f.Lookup(name)); err != nil {
			panic(err)
		}
	}
	return cmd
}

// newHandler mounts the API and the admin routes on one mux.
func newHandler(store *db.DB, assetsHost string) (http.Handler, error) {
	mux := api.NewServer(store, assetsHost).ServeMux()
	if err := store.AttachAdminRoutes(mux); err != nil {
		return nil, err
	}
	return api.LoggingMiddleware(mux), nil
}

// serve runs an HTTP server on ln until ctx is done, then shuts it down.
func serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	server := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		monitoring.Logger().Info("listening", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		monitoring.Logger().Info("shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logger().Warn("HTTP server shutdown error", "err", err)
			return server.Close()
		}
		return nil
	})
	return g.Wait()
}
