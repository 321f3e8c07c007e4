// beacon-demo wires a Config, Logger, Controller, and EventBus together end
// to end against a real (or locally faked) ingestion endpoint, exercising
// the full reporting pipeline from the command line.
//
// Startup sequence:
//  1. Load configuration (env vars, optional YAML file).
//  2. Build the shared Controller, EventBus, and metrics registry.
//  3. Attach a console sink (and, if configured, a NATS bridge) to the bus.
//  4. Build a Logger and fire a handful of sample reports.
//  5. Serve /metrics and block until SIGINT/SIGTERM, then shut down cleanly.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	beacon "github.com/sanjaysingh/beacon-go"
	"github.com/sanjaysingh/beacon-go/internal/config"
	"github.com/sanjaysingh/beacon-go/internal/controller"
	"github.com/sanjaysingh/beacon-go/internal/eventbus"
	"github.com/sanjaysingh/beacon-go/internal/metrics"
	"github.com/sanjaysingh/beacon-go/internal/ratelimit"
	"github.com/sanjaysingh/beacon-go/internal/telemetry"
)

func main() {
	configFile := flag.String("config", "", "Path to a YAML config file (optional; env vars and defaults are used otherwise)")
	metricsAddr := flag.String("metrics", ":9090", "Address to serve Prometheus metrics on")
	natsURL := flag.String("nats", "", "NATS URL to bridge event bus notifications to (optional)")
	flag.Parse()

	baseLog, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "beacon-demo: failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer baseLog.Sync()

	ring := telemetry.NewRing(telemetry.DefaultCapacity)
	log := zap.New(telemetry.NewCaptureCore(baseLog.Core(), ring))
	defer log.Sync()

	cfg := config.New()
	loaders := []config.Loader{config.EnvLoader{}}
	if *configFile != "" {
		loaders = append([]config.Loader{config.FileLoader{Path: *configFile}}, loaders...)
	}
	if err := config.Apply(cfg, loaders...); err != nil {
		log.Fatal("loading configuration", zap.Error(err))
	}
	if cfg.AccessToken == "" || cfg.Environment == "" {
		log.Fatal("beacon-demo requires BEACON_ACCESS_TOKEN and BEACON_ENVIRONMENT to be set")
	}

	bus := eventbus.New(log)
	limiter := ratelimit.NewLimiter(0)
	ctrl := controller.New(bus, ring, limiter, log, controller.DefaultTick)

	reg := prometheus.NewRegistry()
	m := metrics.New("beacon_demo")
	m.MustRegister(reg)
	ctrl.SetMetrics(m)

	bus.Subscribe(eventbus.NewConsoleSink().Handle)

	if *natsURL != "" {
		conn, err := nats.Connect(*natsURL)
		if err != nil {
			log.Warn("nats connect failed, continuing without the bridge", zap.Error(err))
		} else {
			defer conn.Close()
			bus.Subscribe(eventbus.NewNatsBridge(conn, "beacon.events", log).Handle)
			log.Info("nats bridge attached", zap.String("subject", "beacon.events"))
		}
	}

	logger, err := beacon.New(ctrl, bus, cfg, "demo", log)
	if err != nil {
		log.Fatal("building logger", zap.Error(err))
	}

	ring.Capture(telemetry.Item{Source: telemetry.SourceManual, Level: telemetry.LevelInfo, Body: map[string]interface{}{"msg": "beacon-demo started"}})

	logger.Info("beacon-demo started", map[string]interface{}{"pid": os.Getpid()})
	logger.Error(errors.New("sample exception for demonstration"), map[string]interface{}{"sample": true})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		log.Info("metrics server listening", zap.String("addr", *metricsAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received signal, shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown error", zap.Error(err))
	}

	logger.Close()
	log.Info("beacon-demo shut down cleanly")
}
