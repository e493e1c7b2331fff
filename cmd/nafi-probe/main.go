// Command nafi-probe opens a domain and an endpoint against a fabric
// provider, prints the endpoint's resolved URI, serves Prometheus metrics
// for a fixed interval, and exits. It is a diagnostic tool, not a server:
// useful for checking that a provider's info, domain, and endpoint open
// sequence succeeds on a given host before pointing a real framework at it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/na-ofi/internal/logger"
	"github.com/marmos91/na-ofi/internal/telemetry"
	"github.com/marmos91/na-ofi/pkg/fabric"
	"github.com/marmos91/na-ofi/pkg/na"
)

func main() {
	provider := flag.String("provider", "sockets", "fabric provider: sockets, tcp, verbs, psm2, gni")
	host := flag.String("host", "", "optional host[:service] to bind")
	maxContexts := flag.Int("max-contexts", 1, "max_contexts to request at endpoint open")
	metricsAddr := flag.String("metrics-addr", ":9469", "address to serve /metrics on")
	logLevel := flag.String("log-level", "info", "debug, info, warn, error")
	traceEnabled := flag.Bool("trace-enabled", false, "enable OpenTelemetry tracing")
	traceEndpoint := flag.String("trace-endpoint", "localhost:4317", "OTLP gRPC collector endpoint")
	traceInsecure := flag.Bool("trace-insecure", true, "use an insecure (non-TLS) OTLP connection")
	traceSampleRate := flag.Float64("trace-sample-rate", 1.0, "trace sample rate, 0.0-1.0")
	profileEnabled := flag.Bool("profile-enabled", false, "enable Pyroscope continuous profiling")
	profileEndpoint := flag.String("profile-endpoint", "http://localhost:4040", "Pyroscope server endpoint")
	flag.Parse()

	if err := logger.Init(logger.Config{Output: "stderr", Level: *logLevel, Format: "text"}); err != nil {
		fmt.Fprintf(os.Stderr, "nafi-probe: logger init: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := na.Config{
		Provider:     *provider,
		HostName:     *host,
		ProgressMode: na.ProgressBlocking,
		MaxContexts:  *maxContexts,
		Telemetry: na.TelemetryConfig{
			Enabled:    *traceEnabled,
			Endpoint:   *traceEndpoint,
			Insecure:   *traceInsecure,
			SampleRate: *traceSampleRate,
			Profiling: na.ProfilingConfig{
				Enabled:      *profileEnabled,
				Endpoint:     *profileEndpoint,
				ProfileTypes: []string{"cpu", "alloc_objects", "inuse_objects", "goroutines"},
			},
		},
	}

	if err := run(ctx, cfg, *metricsAddr); err != nil {
		logger.Error("probe failed", logger.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg na.Config, metricsAddr string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "nafi-probe",
		ServiceVersion: "dev",
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "nafi-probe",
		ServiceVersion: "dev",
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("initializing profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
	}()

	logger.InfoCtx(ctx, "telemetry status",
		slog.Bool("tracing_enabled", telemetry.IsEnabled()),
		slog.Bool("profiling_enabled", telemetry.IsProfilingEnabled()))

	iface, err := openProvider(cfg)
	if err != nil {
		return err
	}

	domain, err := na.Open(ctx, iface, cfg)
	if err != nil {
		return fmt.Errorf("opening domain: %w", err)
	}
	defer domain.Close(ctx)

	reg := prometheus.NewRegistry()
	domain.AttachMetrics(reg)

	ep, err := na.OpenEndpoint(ctx, domain, cfg)
	if err != nil {
		return fmt.Errorf("opening endpoint: %w", err)
	}
	defer ep.Close()

	fmt.Printf("endpoint uri: %s\n", ep.URI())
	fmt.Printf("native source reporting: %v\n", ep.NativeSource())
	fmt.Printf("domain refcount: %d\n", domain.RefCount())

	c, err := na.CreateContext(ep)
	if err != nil {
		return fmt.Errorf("creating context 0: %w", err)
	}
	defer c.Destroy()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: metricsAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	logger.InfoCtx(ctx, "probe ready", logger.EndpointURI(ep.URI()))

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Minute):
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// openProvider returns the fabric.Iface for the requested provider. Only
// the in-memory fake is wired here: a real deployment links in the
// provider-specific cgo binding and passes it to na.Open instead.
func openProvider(cfg na.Config) (fabric.Iface, error) {
	net := fabric.NewNetwork()
	return fabric.NewFakeProvider(net), nil
}
