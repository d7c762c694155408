// Command nexusd is the nexus server: it wires the Metadata Store, CAS,
// ReBAC Engine, File Service, Versioning Service, API Key Service and Watch
// Journal together behind the JSON-RPC 2.0 surface (spec §4.9, §6): parse
// config, build services, start the listener, wait for a signal. A single
// HTTP listener, env-only configuration (spec §6 "Environment").
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/nexi-lab/nexus/pkg/apikey"
	"github.com/nexi-lab/nexus/pkg/blobstore"
	"github.com/nexi-lab/nexus/pkg/cas"
	"github.com/nexi-lab/nexus/pkg/config"
	"github.com/nexi-lab/nexus/pkg/fileservice"
	"github.com/nexi-lab/nexus/pkg/log"
	"github.com/nexi-lab/nexus/pkg/metadata"
	"github.com/nexi-lab/nexus/pkg/namespace"
	"github.com/nexi-lab/nexus/pkg/rebac"
	"github.com/nexi-lab/nexus/pkg/rpc"
	"github.com/nexi-lab/nexus/pkg/versioning"
	"github.com/nexi-lab/nexus/pkg/watch"
)

// bootstrapTenant is the tenant id the API_KEY env var's admin credential
// belongs to (Open Question resolution, DESIGN.md "Bootstrap admin tenant").
const bootstrapTenant = "default"

// sweepInterval is how often the watch journal's retention reaper and the
// versioning service's expired-workspace reaper run.
const sweepInterval = time.Hour

func main() {
	l := log.New("nexusd")

	cfg, err := config.Load()
	if err != nil {
		l.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	meta, casStore, err := openStorage(cfg, l)
	if err != nil {
		l.Error().Err(err).Msg("failed to open storage")
		os.Exit(1)
	}
	defer meta.Close()

	engine, err := rebac.New(meta)
	if err != nil {
		l.Error().Err(err).Msg("failed to build rebac engine")
		os.Exit(1)
	}
	router := namespace.New(meta)
	files := fileservice.New(meta, casStore, engine, router)
	vers := versioning.New(meta, casStore)
	keys := apikey.New(meta)

	ctx := context.Background()
	if err := keys.EnsureBootstrapAdmin(ctx, bootstrapTenant, cfg.APIKey); err != nil {
		l.Error().Err(err).Msg("failed to provision bootstrap admin key")
		os.Exit(1)
	}

	nc := connectNats(l)
	if nc != nil {
		defer nc.Close()
	}
	watcher := watch.New(meta, nc, log.New("watch"))

	srv := rpc.New(files, vers, engine, keys, router, log.New("rpc"))

	stopSweep := make(chan struct{})
	go runSweeps(ctx, watcher, vers, casStore, l, stopSweep)
	defer close(stopSweep)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: srv.Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		l.Info().Str("addr", httpSrv.Addr).Msg("nexusd listening")
		serveErr <- httpSrv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			l.Error().Err(err).Msg("http server failed")
			os.Exit(1)
		}
	case <-stop:
		l.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			l.Error().Err(err).Msg("graceful shutdown failed")
		}
	}
}

// openStorage builds the Metadata Store and the local-disk CAS backend
// rooted at cfg.DataDir (spec §6: "blobs/<first-2-hex>/<digest>",
// "on-disk metadata.db").
func openStorage(cfg config.Server, l zerolog.Logger) (*metadata.Store, *cas.Store, error) {
	meta, err := metadata.Open(filepath.Join(cfg.DataDir, "metadata.db"), l)
	if err != nil {
		return nil, nil, err
	}
	backend, err := blobstore.NewLocal(filepath.Join(cfg.DataDir, "blobs"))
	if err != nil {
		meta.Close()
		return nil, nil, err
	}
	return meta, cas.New(backend, meta, "local"), nil
}

// connectNats best-effort-connects to the watch journal's live wake-up
// transport. NATS is not one of the env-recognized inputs (spec §6), so a
// deployment with no broker running is expected and supported: the watch
// journal degrades to its poll-interval cadence instead of failing to
// start: unlimited reconnects and logged transitions once connected, but the
// initial connect itself failing is tolerated rather than fatal.
func connectNats(l zerolog.Logger) *nats.Conn {
	nc, err := nats.Connect(nats.DefaultURL,
		nats.MaxReconnects(-1),
		nats.Timeout(2*time.Second),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			l.Warn().Err(err).Msg("nats error")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				l.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			l.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		l.Warn().Err(err).Msg("nats unavailable, watch journal falls back to polling")
		return nil
	}
	return nc
}

func runSweeps(ctx context.Context, w *watch.Service, v *versioning.Service, c *cas.Store, l zerolog.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n, err := w.Reap(ctx); err != nil {
				l.Error().Err(err).Msg("watch journal reap failed")
			} else if n > 0 {
				l.Info().Int64("pruned", n).Msg("watch journal reap")
			}
			if n, err := v.ReapExpiredWorkspaces(ctx); err != nil {
				l.Error().Err(err).Msg("expired workspace reap failed")
			} else if n > 0 {
				l.Info().Int("reaped", n).Msg("expired workspace reap")
			}
			if n, err := c.Reclaim(ctx, time.Now().UTC()); err != nil {
				l.Error().Err(err).Msg("blob reclaim failed")
			} else if n > 0 {
				l.Info().Int("reclaimed", n).Msg("blob reclaim")
			}
		}
	}
}
