package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/annel0/mmo-fauna/internal/api"
	"github.com/annel0/mmo-fauna/internal/clock"
	"github.com/annel0/mmo-fauna/internal/config"
	"github.com/annel0/mmo-fauna/internal/engine"
	"github.com/annel0/mmo-fauna/internal/entity"
	"github.com/annel0/mmo-fauna/internal/eventbus"
	"github.com/annel0/mmo-fauna/internal/logging"
	"github.com/annel0/mmo-fauna/internal/observability"
	"github.com/annel0/mmo-fauna/internal/storage"
	"github.com/annel0/mmo-fauna/internal/world"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигу (по умолчанию $FAUNA_CONFIG)")
	flag.Parse()

	if err := logging.InitDefaultLogger("fauna"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	defer logging.GetLoggerManager().CloseAll()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("❌ Ошибка загрузки конфигурации: %v", err)
		os.Exit(1)
	}
	logging.Info("🐄 Запуск сервиса фауны: мир=%s, популяция=%d, хранилище=%s, шина=%s",
		cfg.World.Name, cfg.World.Population, cfg.Storage.Backend, cfg.EventBus.Backend)

	if err := run(cfg); err != nil {
		logging.Error("❌ %v", err)
		os.Exit(1)
	}
	logging.Info("👋 Сервис фауны остановлен")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logging.Warn("telemetry shutdown: %v", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// === Шина событий ===
	bus, err := openBus(cfg.EventBus)
	if err != nil {
		return err
	}
	defer bus.Close()

	if sub, err := eventbus.StartLoggingListener(bus); err != nil {
		logging.Warn("logging listener: %v", err)
	} else {
		defer sub.Unsubscribe()
	}

	exporter := eventbus.NewMetricsExporter(bus, reg)
	metricsSrv := exporter.StartHTTP(fmt.Sprintf(":%d", cfg.Server.GetMetricsPort()))
	defer exporter.Stop()

	// === Хранилище доверия ===
	trustRepo, err := storage.Open(cfg.Storage, engine.TrustCounter)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer trustRepo.Close()

	// === Мир и движок ===
	clk := clock.NewSystemAt(maxAge(cfg))
	sim := world.NewSimWorld()

	eng := engine.New(engine.Options{
		Config:     cfg.Engine,
		Species:    cfg.Species,
		World:      sim,
		Act:        sim,
		Feedback:   sim,
		Clock:      clk,
		Events:     bus,
		Trust:      trustRepo,
		Registerer: reg,
	})
	defer func() {
		if err := eng.Close(); err != nil {
			logging.Warn("engine close: %v", err)
		}
	}()

	sim.OnDamage(func(victim, attacker entity.ID) { eng.OnDamaged(ctx, victim, attacker) })
	sim.OnDeath(func(victim, killer entity.ID) { eng.OnKilled(ctx, victim, killer) })

	spawner := world.NewSpawner(cfg.World.Name, cfg.World.Seed, float64(cfg.World.Extent), spawnKinds(cfg))
	now := clk.Tick()
	for _, s := range spawner.Populate(sim, cfg.World.Population) {
		eng.Register(s.Creature.ID, s.Creature.Species, now-s.Creature.TicksLived)
	}
	logging.Info("🌱 Расселено %d существ", eng.Count())

	interval := cfg.Engine.TickInterval()
	scheduler := world.NewRegionScheduler(sim, eng, cfg.World.RegionSize, cfg.World.Workers)
	scheduler.SetPreTick(func() {
		sim.Step(interval)
		clk.Advance()
	})
	scheduler.Start(interval)
	defer scheduler.Stop()

	go maintain(ctx, eng, time.Duration(cfg.Engine.MaintenanceSeconds)*time.Second)

	// === Debug REST ===
	rest := api.NewRestServer(api.Config{
		Port:     fmt.Sprintf(":%d", cfg.Server.GetRESTPort()),
		Fauna:    eng,
		Registry: reg,
	})
	restErr := make(chan error, 1)
	go func() { restErr <- rest.Start() }()

	select {
	case <-ctx.Done():
		logging.Info("🛑 Получен сигнал остановки")
	case err := <-restErr:
		if err != nil {
			logging.Error("debug api: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rest.Stop(shutdownCtx); err != nil {
		logging.Warn("debug api shutdown: %v", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("metrics shutdown: %v", err)
	}
	logging.Info("%s", scheduler.GetStats())
	logging.Info("%s", sim.IndexStats())
	return nil
}

func openBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	switch cfg.Backend {
	case "", "memory":
		return eventbus.NewMemoryBus(1024), nil
	case "jetstream":
		bus, err := eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, time.Duration(cfg.Retention)*time.Hour)
		if err != nil {
			return nil, fmt.Errorf("jetstream: %w", err)
		}
		return bus, nil
	default:
		return nil, fmt.Errorf("unknown eventbus backend %q", cfg.Backend)
	}
}

// maxAge старт счётчика тиков: самый долгоживущий вид успевает родиться до нуля.
func maxAge(cfg *config.Config) uint64 {
	out := cfg.Engine.DefaultMaxAgeTicks
	for _, sp := range cfg.Species {
		if sp.MaxAgeTicks > out {
			out = sp.MaxAgeTicks
		}
	}
	return out
}

func spawnKinds(cfg *config.Config) []world.SpawnKind {
	names := make([]string, 0, len(cfg.Species))
	for name := range cfg.Species {
		names = append(names, name)
	}
	sort.Strings(names)

	kinds := make([]world.SpawnKind, 0, len(names))
	for _, name := range names {
		sp := cfg.Species[name]
		kinds = append(kinds, world.SpawnKind{
			Species:     entity.Species(name),
			MaxHealth:   sp.MaxHealth,
			MaxAgeTicks: sp.MaxAgeTicks,
		})
	}
	return kinds
}

func maintain(ctx context.Context, eng *engine.Engine, every time.Duration) {
	if every <= 0 {
		every = 30 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			herds, pruned := eng.Maintain()
			logging.Debug("maintenance: herds=%d pruned=%d registered=%d", herds, pruned, eng.Count())
		}
	}
}
