package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/enmesarru/glone/internal/config"
	"github.com/enmesarru/glone/internal/credentials"
	"github.com/enmesarru/glone/internal/logging"
	"github.com/enmesarru/glone/internal/service"
)

func newWatchCmd(root *rootOptions) *cobra.Command {
	var (
		sel         selection
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep providers synchronized until interrupted",
		Long: `Synchronize every provider periodically. The configuration file is
reloaded when it changes and on SIGHUP; providers that were added, changed or
removed get their workers replaced without interrupting the others.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := root.setup(cmd)
			if err != nil {
				return err
			}
			defer a.log.Close()

			ctx := cmd.Context()

			if metricsAddr != "" {
				stop := serveMetrics(metricsAddr, a.log)
				defer stop()
			}

			reload := make(chan struct{}, 1)
			go forwardHangups(ctx, reload)

			svc := service.New().
				Configure(a.root).
				WithConcurrency(sel.concurrency).
				WithResolver(credentials.NewResolver(credentials.WithLogger(a.log))).
				WithLogger(a.log).
				WithReload(reload)

			load := func() ([]*config.Provider, error) {
				r, err := a.paths.Load()
				if err != nil {
					return nil, err
				}
				return r.Match(sel.match)
			}

			return svc.Watch(ctx, a.paths.Config, load)
		},
	}

	sel.addFlags(cmd.Flags())
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	return cmd
}

// forwardHangups turns SIGHUP into reload requests until ctx is done.
func forwardHangups(ctx context.Context, reload chan<- struct{}) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP)
	defer signal.Stop(sig)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			select {
			case reload <- struct{}{}:
			default:
			}
		}
	}
}

func serveMetrics(addr string, log *logging.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infof("serving metrics on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
