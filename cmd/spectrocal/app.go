package main

import (
	"bufio"
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"spectrocal/internal/blob"
	"spectrocal/internal/config"
	"spectrocal/internal/core"
	"spectrocal/internal/spectro"
)

// app holds the state shared by all commands of one invocation.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	configPath  string
	logLevel    string
	metricsAddr string
	traceFile   string

	cfg     config.Config
	logger  *slog.Logger
	closers []func() error
	stdin   *bufio.Reader
}

// load reads configuration and builds the logger. Flags override the file
// and environment.
func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.metricsAddr != "" {
		cfg.Metrics.Addr = a.metricsAddr
	}
	logger, err := config.NewLogger(cfg.Log, a.errOut)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// close releases everything opened by service.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

// service wires the store, sensor, metrics and, when exports is set, the
// export blob store into a calibration service.
func (a *app) service(ctx context.Context, exports bool) (*core.Service, error) {
	store, err := core.OpenPersistentStore(ctx, a.cfg.Storage, core.NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	opts := []core.Option{
		core.WithLogger(a.logger),
		core.WithSource(a.source()),
		core.WithSampling(a.cfg.Sensor.Samples, a.cfg.Sensor.Delay),
		core.WithExportDecimals(a.cfg.Calibration.Decimals),
	}
	if m := a.metrics(); m != nil {
		opts = append(opts, core.WithMetricsRecorder(m))
	}
	if a.traceFile != "" {
		f, err := os.OpenFile(a.traceFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		a.closers = append(a.closers, f.Close)
		opts = append(opts, core.WithTracer(core.NewJSONTracer(f)))
	}
	if exports {
		bs, err := blob.Open(ctx, a.cfg.Export)
		if err != nil {
			return nil, fmt.Errorf("open export store: %w", err)
		}
		opts = append(opts, core.WithBlobStore(bs))
	}
	return core.NewService(store, opts...), nil
}

func (a *app) source() spectro.Source {
	simulated := spectro.NewSimulated(a.cfg.Sensor.Seed)
	if a.cfg.Sensor.Driver != config.SensorSerial {
		return simulated
	}
	serialCfg := a.cfg.Sensor.Serial
	fb := spectro.NewFallbackSource(func() (spectro.Source, error) {
		return spectro.OpenSerial(serialCfg, nil)
	}, simulated, a.logger)
	a.closers = append(a.closers, fb.Close)
	return fb
}

// metrics builds the configured recorder and, when an address is set,
// serves it until the command finishes.
func (a *app) metrics() core.MetricsRecorder {
	var (
		rec     core.MetricsRecorder
		handler http.Handler
		path    string
	)
	switch a.cfg.Metrics.Backend {
	case "prometheus":
		p := core.NewPrometheusMetricsRecorder(nil)
		rec, handler, path = p, p.Handler(), "/metrics"
	case "expvar":
		rec, handler, path = core.NewExpvarMetricsRecorder(""), expvar.Handler(), "/debug/vars"
	default:
		return nil
	}
	if a.cfg.Metrics.Addr == "" {
		return rec
	}
	ln, err := net.Listen("tcp", a.cfg.Metrics.Addr)
	if err != nil {
		a.logger.Warn("metrics listener unavailable", "addr", a.cfg.Metrics.Addr, "error", err)
		return rec
	}
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics server stopped", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", ln.Addr().String(), "path", path)
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
	return rec
}

// waitForEnter prompts the operator and blocks until a line is read.
func (a *app) waitForEnter(prompt string) error {
	if a.stdin == nil {
		a.stdin = bufio.NewReader(a.in)
	}
	fmt.Fprint(a.out, prompt+" Press Enter when ready. ")
	_, err := a.stdin.ReadString('\n')
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
