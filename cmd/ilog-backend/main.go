// Command ilog-backend runs the ingestion server: the TCP accept loop
// authenticating and persisting agent batches, the HTTP fallback ingest
// path, and the WebSocket streaming fan-out.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mati-cloud/ilog/backend"
	"github.com/mati-cloud/ilog/config"
	"github.com/mati-cloud/ilog/ingest/log"
	"github.com/mati-cloud/ilog/ingest/log/rotate"
)

const defaultConfigLoc = `/opt/ilog/etc/backend.conf`

var (
	confLoc = flag.String("config-file", defaultConfigLoc, "location of the backend configuration file")
	verbose = flag.Bool("v", false, "display verbose status updates to stderr")
)

func main() {
	flag.Parse()

	lg, err := log.NewStderrLoggerEx("", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get stderr logger: %v\n", err)
		os.Exit(1)
	}

	cfg, warnings, err := config.LoadBackendConfig(*confLoc)
	if err != nil {
		lg.FatalCode(1, "failed to load configuration from %s: %v", *confLoc, err)
		return
	}
	for _, w := range warnings {
		lg.Warnf("%s", w)
	}

	if cfg.Backend.Log_File != "" {
		fout, err := rotate.Open(cfg.Backend.Log_File, 0640, rotate.Options{
			MaxSizeMB:  cfg.Backend.Log_Max_Size_MB,
			MaxHistory: cfg.Backend.Log_Max_History,
		})
		if err != nil {
			lg.FatalCode(1, "failed to open log file %s: %v", cfg.Backend.Log_File, err)
			return
		}
		defer fout.Close()
		if err := lg.AddWriter(fout); err != nil {
			lg.Fatal("failed to add log writer: %v", err)
			return
		}
	}
	if cfg.Backend.Log_Level != "" {
		if err := lg.SetLevelString(cfg.Backend.Log_Level); err != nil {
			lg.FatalCode(1, "invalid log level %q: %v", cfg.Backend.Log_Level, err)
			return
		}
	} else if *verbose {
		lg.SetLevel(log.INFO)
	}

	store, err := backend.OpenStore(cfg.Store.Driver, cfg.Store.Dsn)
	if err != nil {
		lg.FatalCode(1, "failed to open store: %v", err)
		return
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	broadcastCh := backend.NewBroadcast()
	srv := backend.NewServer(store, broadcastCh, lg)

	errCh := make(chan error, 2)
	go func() {
		errCh <- srv.Serve(ctx, cfg.Backend.Tcp_Bind)
	}()

	if cfg.Backend.Http_Bind != "" {
		mux := http.NewServeMux()
		mux.Handle("/v1/logs", backend.NewHTTPIngestHandler(store, broadcastCh, lg))
		mux.Handle("/api/logs/stream", backend.NewStreamHandler(store, broadcastCh, cfg.Backend.Jwt_Secret, lg))
		httpSrv := &http.Server{Addr: cfg.Backend.Http_Bind, Handler: mux}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
		go func() {
			<-ctx.Done()
			httpSrv.Close()
		}()
	}

	select {
	case <-ctx.Done():
		lg.Infof("shutting down")
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			lg.Errorf("server exited: %v", err)
		}
	}
}
