package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/strategos/simcore/internal/core/config"
	"github.com/strategos/simcore/internal/core/ecs"
	"github.com/strategos/simcore/internal/core/observability/log"
	"github.com/strategos/simcore/internal/core/scheduler"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "config:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	lg := log.New(log.ParseLevel(cfg.LogLevel))

	world := scheduler.NewWorld(cfg, lg)
	manager := scheduler.NewManager(world, cfg, lg)

	seedProvinces(world, lg)

	systems := []scheduler.System{
		&economySystem{lg: lg},
		&populationSystem{growth: 0.02},
		&unrestSystem{},
		&censusSystem{lg: lg},
	}
	for _, sys := range systems {
		if err := manager.AddSystem(sys); err != nil {
			lg.Fatal("register system", log.String("system", sys.Name()), log.Error(err))
		}
	}

	if err := manager.Start(); err != nil {
		lg.Fatal("start", log.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-stopCh
		cancel()
	}()

	lg.Info("simulation running",
		log.Int("workers", cfg.EffectiveWorkers()),
		log.Duration("frame_interval", cfg.FrameInterval))

	if err := manager.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		lg.Error("frame loop", log.Error(err))
	}

	manager.Shutdown()
	reportMetrics(manager, world, lg)
}

func seedProvinces(world *scheduler.World, lg log.Log) {
	seeds := []Province{
		{Name: "Aquitania", Population: 120000, TaxRate: 0.05},
		{Name: "Lusitania", Population: 84000, TaxRate: 0.04},
		{Name: "Pannonia", Population: 61000, TaxRate: 0.06},
		{Name: "Bithynia", Population: 97000, TaxRate: 0.05},
	}
	for _, p := range seeds {
		h := world.Entities().CreateNamedEntity(p.Name)
		if err := ecs.AddComponent(world.Access(), h, p); err != nil {
			lg.Fatal("seed province", log.String("province", p.Name), log.Error(err))
		}
	}
}

func reportMetrics(manager *scheduler.Manager, world *scheduler.World, lg log.Log) {
	frames := manager.FrameStats()
	lg.Info("frame stats",
		log.Uint64("frames", frames.Frames),
		log.Duration("avg_frame", frames.AvgFrame),
		log.Duration("avg_wait", frames.AvgWait),
		log.Duration("avg_drain", frames.AvgDrain))

	for _, sm := range manager.AllSystemMetrics() {
		lg.Info("system stats",
			log.String("system", sm.Name),
			log.String("strategy", sm.Strategy.String()),
			log.Bool("enabled", sm.Enabled),
			log.Uint64("updates", sm.Updates),
			log.Uint64("failures", sm.Failures),
			log.Duration("avg_update", sm.AvgUpdate),
			log.Duration("peak_update", sm.PeakUpdate))
	}

	busMetrics := world.Bus().GetMetrics()
	lg.Info("bus stats",
		log.Uint64("published", busMetrics.Published),
		log.Uint64("dispatched", busMetrics.Dispatched),
		log.Uint64("handler_panics", busMetrics.HandlerPanics))

	for name, ts := range world.Access().Stats().Snapshot() {
		lg.Info("access stats",
			log.String("type", name),
			log.Uint64("reads", ts.Reads),
			log.Uint64("writes", ts.Writes),
			log.Uint64("timeouts", ts.Timeouts),
			log.Duration("avg_wait", ts.AverageWait))
	}
}
