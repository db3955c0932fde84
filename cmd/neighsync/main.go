package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hostinger/neighsync/internal/api"
	"github.com/hostinger/neighsync/internal/config"
	"github.com/hostinger/neighsync/internal/dataplane"
	"github.com/hostinger/neighsync/internal/logger"
	"github.com/hostinger/neighsync/internal/metrics"
	"github.com/hostinger/neighsync/internal/neighbor"
	"github.com/hostinger/neighsync/internal/sniffer"
)

var (
	configPath      = flag.String("config", "", "Path to the YAML configuration file")
	snifferMode     = flag.Bool("sniffer", false, "Enable NA sniffer mode for tap interfaces")
	listenInterface = flag.String("interface", "", "Interface receiving the bindings learned by the sniffer")
	apiAddress      = flag.String("port", "", "Address for the API server")
	debugMode       = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	conf, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("%v", err)
	}
	applyFlags(conf)
	logger.Init(conf.Debug)

	if err = conf.Validate(); err != nil {
		logger.Fatal("Invalid configuration: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	conn := dataplane.NewNetlinkConn(nil)
	nm := neighbor.NewNeighborManager(conn, metrics.New(reg))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bindings, err := conf.ResolveBindings(dataplane.LinkHandle)
	if err != nil {
		logger.Fatal("Failed to resolve bindings: %v", err)
	}
	for _, b := range bindings {
		cctx, ccancel := context.WithTimeout(ctx, conf.Timeout)
		nm.AddNeighbor(cctx, b)
		ccancel()
	}

	if conf.Sniffer {
		target, err := dataplane.LinkHandle(conf.Interface)
		if err != nil {
			logger.Fatal("Failed to resolve interface %s: %v", conf.Interface, err)
		}
		go sniffer.Run(ctx, target, nm, conf.ScanInterval)
	}

	mux := http.NewServeMux()
	(&api.API{NM: nm, Gatherer: reg}).Routes(mux)
	srv := &http.Server{Addr: conf.APIAddress, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info("API server listening on %s", conf.APIAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed: %v", err)
		}
	}()

	go nm.SendPings(ctx, conf.PingInterval)

	syncLoop(ctx, nm, conf)

	logger.Info("Shutting down, cleaning up")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), conf.Timeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown: %v", err)
	}
	nm.Cleanup(shutdownCtx)
	if err := conn.Close(); err != nil {
		logger.Error("Closing dataplane connection: %v", err)
	}
}

func applyFlags(conf *config.Config) {
	if *snifferMode {
		conf.Sniffer = true
	}
	if *listenInterface != "" {
		conf.Interface = *listenInterface
	}
	if *apiAddress != "" {
		conf.APIAddress = *apiAddress
	}
	if *debugMode {
		conf.Debug = true
	}
}

func syncLoop(ctx context.Context, nm *neighbor.NeighborManager, conf *config.Config) {
	ticker := time.NewTicker(conf.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sctx, cancel := context.WithTimeout(ctx, conf.Timeout)
		n, err := nm.Sync(sctx)
		cancel()

		if err != nil {
			logger.Warn("Sync incomplete: %v", err)
		}
		if n > 0 {
			logger.Info("Sync re-created %d bindings", n)
		}
	}
}
