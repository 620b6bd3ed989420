package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/constellation-comms/core"
	"github.com/signalsfoundry/constellation-comms/internal/config"
	"github.com/signalsfoundry/constellation-comms/internal/logging"
	"github.com/signalsfoundry/constellation-comms/internal/observability"
	sim "github.com/signalsfoundry/constellation-comms/internal/sim/state"
	"github.com/signalsfoundry/constellation-comms/timectrl"
)

// Options controls one simulator run.
type Options struct {
	ConfigPath   string
	ScenarioPath string
	StorePath    string
	MetricsAddr  string
	Duration     time.Duration
	Tick         time.Duration
	Accelerated  bool
	Resume       bool
	Save         bool
	Verbose      bool
	Start        time.Time

	// Registerer defaults to the global Prometheus registry.
	Registerer prometheus.Registerer
	Out        io.Writer
}

func main() {
	opts := Options{Out: os.Stdout}
	flag.StringVar(&opts.ConfigPath, "config", "", "path to a TOML settings file")
	flag.StringVar(&opts.ScenarioPath, "scenario", "configs/scenario.yaml", "path to a YAML scenario")
	flag.StringVar(&opts.StorePath, "db", "", "session file, overrides the settings file; - disables persistence")
	flag.StringVar(&opts.MetricsAddr, "metrics-addr", "", "HTTP address for Prometheus /metrics, overrides the settings file")
	flag.DurationVar(&opts.Duration, "duration", 60*time.Second, "total simulation duration")
	flag.DurationVar(&opts.Tick, "tick", time.Second, "tick interval")
	flag.BoolVar(&opts.Accelerated, "accelerated", true, "run in accelerated mode (vs real-time)")
	flag.BoolVar(&opts.Resume, "resume", false, "restore the saved session before running")
	flag.BoolVar(&opts.Save, "save", true, "save the session when the run ends")
	flag.BoolVar(&opts.Verbose, "v", false, "print every link each tick")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, log); err != nil {
		log.Error(ctx, "simulator failed", logging.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts Options, log logging.Logger) error {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Tick <= 0 {
		return fmt.Errorf("tick must be positive, got %s", opts.Tick)
	}

	tracing := observability.TracingSettings(cfg.Tracing)
	tracing.Output = opts.Out
	shutdownTracing, err := observability.InitTracing(ctx, tracing, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewGateCollector(opts.Registerer)
	if err != nil {
		return fmt.Errorf("initialise metrics collector: %w", err)
	}
	metricsAddr := cfg.Metrics.Addr
	if opts.MetricsAddr != "" {
		metricsAddr = opts.MetricsAddr
	}
	if metricsSrv := serveMetrics(metricsAddr, collector, log); metricsSrv != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	sess, err := sim.OpenSession(ctx, sim.SessionOptions{
		Config:       cfg,
		ScenarioPath: opts.ScenarioPath,
		StorePath:    opts.StorePath,
		Collector:    collector,
		Log:          log,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	if opts.Resume {
		if err := sess.Load(ctx); err != nil {
			log.Warn(ctx, "session restored with errors", logging.Err(err))
		}
	}

	mode := timectrl.RealTime
	if opts.Accelerated {
		mode = timectrl.Accelerated
	}
	start := opts.Start
	if start.IsZero() {
		start = time.Now().UTC()
	}
	tc := timectrl.NewTimeController(start, opts.Tick, mode)
	tc.AddListener(func(ctx context.Context, simTime time.Time) {
		sess.RunPass(ctx, simTime, sess.Engine)
		report(opts.Out, simTime, sess.Engine.ConnectivityService, opts.Verbose)
	})

	fmt.Fprintf(opts.Out, "Starting simulation: nodes=%d duration=%s tick=%s mode=%v\n",
		sess.Network().Len(), opts.Duration, opts.Tick, mode)
	<-tc.Start(ctx, opts.Duration)
	fmt.Fprintf(opts.Out, "Simulation complete after %d ticks.\n", tc.Ticks())

	if opts.Save && sess.Store != nil {
		if err := sess.Save(context.Background()); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
	}
	return nil
}

func report(out io.Writer, simTime time.Time, cs *core.ConnectivityService, verbose bool) {
	links := cs.Links()
	up := 0
	for _, link := range links {
		if link.IsUp {
			up++
		}
	}
	fmt.Fprintf(out, "[%s] links up: %d/%d\n", simTime.Format(time.RFC3339), up, len(links))
	if !verbose {
		return
	}
	for _, link := range links {
		fmt.Fprintf(out, "↳ Link %-24s [%s ↔ %s] up=%-5v reason=%-18s range=%8.1f km\n",
			link.ID,
			link.NodeA,
			link.NodeB,
			link.IsUp,
			link.Reason,
			link.DistanceKm,
		)
	}
}

func serveMetrics(addr string, collector *observability.GateCollector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" || addr == "-" {
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
