package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slicegraph/qos-slicer/geocode"
	"github.com/slicegraph/qos-slicer/internal/httpapi"
	"github.com/slicegraph/qos-slicer/internal/logging"
	"github.com/slicegraph/qos-slicer/internal/observability"
	"github.com/slicegraph/qos-slicer/orchestrator"
)

// Config mirrors the teacher's flag-plus-env-default NBI server
// configuration shape (cmd/nbi-server/main.go), adapted to a REST
// listener instead of a gRPC one.
type Config struct {
	ListenAddress    string
	MetricsAddress   string
	LogLevel         string
	LogFormat        string
	ScenarioPath     string
	GeocodeCacheSize int
}

func main() {
	cfg := loadConfig()
	log := logging.New(logging.Config{
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		AddSource: true,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error(context.Background(), "slice-server exited with error", logging.String("error", err.Error()))
		os.Exit(1)
	}
}

func loadConfig() Config {
	defaultListen := envOrDefault("SLICER_LISTEN_ADDRESS", "0.0.0.0:8080")
	defaultMetrics := envOrDefault("SLICER_METRICS_ADDRESS", ":9090")
	defaultLogLevel := envOrDefault("LOG_LEVEL", "info")
	defaultLogFormat := envOrDefault("LOG_FORMAT", "text")
	defaultScenario := envOrDefault("SLICER_SCENARIO_PATH", "")
	defaultCacheSize := envInt("SLICER_GEOCODE_CACHE_SIZE", 4096)

	listenAddr := flag.String("listen-address", defaultListen, "HTTP address the slice control plane listens on")
	metricsAddr := flag.String("metrics-address", defaultMetrics, "HTTP address for Prometheus /metrics (empty to disable)")
	logLevel := flag.String("log-level", defaultLogLevel, "Log level: debug, info, warn")
	logFormat := flag.String("log-format", defaultLogFormat, "Log format: text or json")
	scenarioPath := flag.String("scenario", defaultScenario, "Optional YAML/JSON file with slice descriptions to preload")
	geocodeCacheSize := flag.Int("geocode-cache-size", defaultCacheSize, "Capacity hint for the geocode LRU cache")

	flag.Parse()

	return Config{
		ListenAddress:    *listenAddr,
		MetricsAddress:   *metricsAddr,
		LogLevel:         *logLevel,
		LogFormat:        *logFormat,
		ScenarioPath:     *scenarioPath,
		GeocodeCacheSize: *geocodeCacheSize,
	}
}

func run(ctx context.Context, cfg Config, log logging.Logger) error {
	if log == nil {
		log = logging.Noop()
	}

	traceShutdown := func(context.Context) error { return nil }
	if shutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log); err != nil {
		log.Warn(ctx, "failed to initialise tracing", logging.String("error", err.Error()))
	} else {
		traceShutdown = shutdown
	}
	defer observability.ShutdownWithTimeout(context.Background(), traceShutdown, log)

	graphMetrics, err := observability.NewGraphCollector(nil)
	if err != nil {
		return fmt.Errorf("init graph metrics collector: %w", err)
	}
	geoMetrics, err := observability.NewGeocodeCollector(nil)
	if err != nil {
		return fmt.Errorf("init geocode metrics collector: %w", err)
	}

	// No forward/reverse provider is wired by default: the real
	// geocoding backend is an external effectful dependency (see
	// geocode.ForwardFunc/ReverseFunc); operators that have one inject
	// it here. The cache and its metrics are still live and exercised
	// by every /v1/slices/{name}/nodes/{id}/location request.
	geocoder, err := geocode.NewCachingService(cfg.GeocodeCacheSize, nil, nil)
	if err != nil {
		return fmt.Errorf("init geocode cache: %w", err)
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddress != "" {
		metricsSrv = serveMetrics(cfg.MetricsAddress, graphMetrics, log)
	}

	orch := orchestrator.New()
	mailbox := orchestrator.NewMailbox(64)
	mailboxCtx, mailboxCancel := context.WithCancel(ctx)
	defer mailboxCancel()
	go mailbox.Run(mailboxCtx)

	if cfg.ScenarioPath != "" {
		if err := preloadScenario(orch, cfg.ScenarioPath); err != nil {
			log.Warn(ctx, "failed to preload scenario", logging.String("path", cfg.ScenarioPath), logging.String("error", err.Error()))
		} else {
			log.Info(ctx, "preloaded scenario", logging.String("path", cfg.ScenarioPath))
		}
	}

	server := httpapi.NewServer(orch, mailbox, log, graphMetrics, geocoder, geoMetrics)

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: server.Mux(),
	}

	log.Info(ctx, "starting slice control plane", logging.String("addr", cfg.ListenAddress))
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpSrv.ListenAndServe()
	}()

	var retErr error
	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			retErr = err
		}
	case <-ctx.Done():
		log.Info(ctx, "shutdown requested", logging.String("reason", ctx.Err().Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	return retErr
}

// scenarioFile is the declarative multi-slice description §6 accepts
// at startup, YAML (the original SDK's own model description used
// YAML). Each entry uses the same wire shape POST /v1/slices accepts,
// decoded via httpapi.DecodeSliceSpec so the two paths never diverge.
type scenarioFile struct {
	Slices []map[string]any `yaml:"slices" json:"slices"`
}

func preloadScenario(orch *orchestrator.Orchestrator, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var sf scenarioFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("parse scenario file: %w", err)
	}
	for _, raw := range sf.Slices {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("re-encode scenario slice: %w", err)
		}
		desc, err := httpapi.DecodeSliceSpec(encoded)
		if err != nil {
			return fmt.Errorf("decode scenario slice: %w", err)
		}
		if err := orch.DefineSlice(desc); err != nil {
			return fmt.Errorf("define scenario slice %q: %w", desc.Name, err)
		}
	}
	return nil
}

func serveMetrics(addr string, collector *observability.GraphCollector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.String("error", err.Error()))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}
