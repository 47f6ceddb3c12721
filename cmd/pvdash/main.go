package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/pvdash/internal/api"
	"codeberg.org/mutker/pvdash/internal/config"
	"codeberg.org/mutker/pvdash/internal/errors"
	"codeberg.org/mutker/pvdash/internal/logger"
	"codeberg.org/mutker/pvdash/internal/metrics"
	"codeberg.org/mutker/pvdash/internal/notify"
	"codeberg.org/mutker/pvdash/internal/pid"
	"codeberg.org/mutker/pvdash/internal/plant"
	"codeberg.org/mutker/pvdash/internal/poller"
	"codeberg.org/mutker/pvdash/internal/telemetry"
	"codeberg.org/mutker/pvdash/internal/updater"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			fmt.Printf("Usage of pvdash:\n%s", config.Usage())
			os.Exit(0)
		}
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Msg("Config loaded")

	if err := pid.Write(cfg.PidFile); err != nil {
		var coded errors.Error
		if errors.As(err, &coded) {
			logger.FatalWithCode(coded).Str("pid_file", cfg.PidFile).Msg("Failed to write PID file")
		}
		logger.Fatal().Err(err).Str("pid_file", cfg.PidFile).Msg("Failed to write PID file")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go handleSignals(cancel)

	err = run(ctx, cfg)
	cancel()
	cleanup(cfg)

	if err != nil {
		logger.Error().Err(err).Msg("Exiting with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	errFactory := errors.New()

	client, err := telemetry.NewClient(cfg.TelemetryConfig(), nil)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}

	reg := plant.NewRegistry()
	if cfg.LoadPlants {
		loadPlants(ctx, client, reg)
	}

	hub := notify.NewHub()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "pvdash",
			Name:      "events_dropped_total",
			Help:      "Change events not delivered because a subscriber buffer was full.",
		}, func() float64 { return float64(hub.Dropped()) }),
	)
	counters, err := metrics.NewCounters(promReg)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitMetrics, err)
	}

	history, err := metrics.NewService(cfg.MetricsConfig(), logger.Component("metrics"))
	if err != nil {
		return errFactory.Wrap(errors.ErrInitMetrics, err)
	}
	defer func() {
		if err := history.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close cycle history")
		}
	}()

	upd := updater.New(reg, hub, logger.Component("updater"), updater.WithCounters(counters))

	p, err := poller.New(cfg.PollerConfig(), reg, client, upd, logger.Component("poller"),
		poller.WithCounters(counters),
		poller.WithHistory(history),
	)
	if err != nil {
		return errFactory.Wrap(errors.ErrPollerStart, err)
	}

	server := api.New(api.Deps{
		Registry:   reg,
		Hub:        hub,
		Gatherer:   promReg,
		Log:        logger.Component("api"),
		StaleAfter: max(time.Minute, 3*cfg.PollerConfig().FastInterval),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Run(gctx)
	})
	g.Go(func() error {
		return server.Run(gctx, cfg.ListenAddr)
	})

	return g.Wait()
}

// loadPlants seeds the registry from the service catalog. A catalog failure
// leaves the registry empty; plants can still be added through the API.
func loadPlants(ctx context.Context, catalog telemetry.Catalog, reg *plant.Registry) {
	plants, err := catalog.ListPlants(ctx)
	if err != nil {
		logger.ErrorWithCode(errors.New().Wrap(errors.ErrLoadPlants, err)).Msg("Plant catalog unavailable")
		return
	}

	for _, p := range plants {
		if _, err := reg.Add(p); err != nil {
			logger.Warn().Err(err).Str("plant", p.Key.String()).Msg("Skipping catalog entry")
		}
	}

	logger.Info().Int("plants", reg.Len()).Interface("keys", reg.Keys()).Msg("Plant catalog loaded")
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func cleanup(cfg *config.Config) {
	if err := pid.Remove(cfg.PidFile); err != nil {
		logger.Error().Err(err).Msg("Failed to remove PID file")
	}
	logger.Info().Msg("Exiting...")
}
