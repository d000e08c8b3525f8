package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервиса фауны.
type Config struct {
	Engine    EngineConfig             `yaml:"engine"`
	Species   map[string]SpeciesConfig `yaml:"species"`
	Storage   StorageConfig            `yaml:"storage"`
	EventBus  EventBusConfig           `yaml:"eventbus"`
	Server    ServerConfig             `yaml:"server"`
	Telemetry TelemetryConfig          `yaml:"telemetry"`
	World     WorldConfig              `yaml:"world"`
}

// EngineConfig параметры тиков и окон памяти движка.
type EngineConfig struct {
	TicksPerSecond     int     `yaml:"ticks_per_second"`
	MaintenanceSeconds int     `yaml:"maintenance_every_seconds"`
	KinDamageWindow    uint64  `yaml:"kin_damage_window_ticks"`
	FleeSeverity       float64 `yaml:"flee_severity_threshold"`
	PanicSeconds       int     `yaml:"panic_seconds"`
	PlayChance         float64 `yaml:"play_chance"`
	TrustFlushSeconds  int     `yaml:"trust_flush_every_seconds"`
	DefaultMaxAgeTicks uint64  `yaml:"default_max_age_ticks"`
}

// SpeciesConfig строка таблицы поведения вида.
type SpeciesConfig struct {
	MaxAgeTicks uint64  `yaml:"max_age_ticks"`
	MaxHealth   float64 `yaml:"max_health"`
	AggroRadius float64 `yaml:"aggro_radius"`
	ChaseSpeed  float64 `yaml:"chase_speed"`
	FleeSpeed   float64 `yaml:"flee_speed"`
	FoodItem    string  `yaml:"food_item"`
	Aggressive  bool    `yaml:"aggressive"`
}

// StorageConfig выбор бэкенда для счётчиков игроков.
type StorageConfig struct {
	Backend   string `yaml:"backend"` // memory|redis|maria|badger|mongo
	RedisAddr string `yaml:"redis_addr"`
	MariaDSN  string `yaml:"maria_dsn"`
	BadgerDir string `yaml:"badger_dir"`
	MongoURI  string `yaml:"mongo_uri"`
	MongoDB   string `yaml:"mongo_db"`
}

type EventBusConfig struct {
	Backend   string `yaml:"backend"` // memory|jetstream
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type ServerConfig struct {
	RESTPort    int `yaml:"rest_port"`
	MetricsPort int `yaml:"metrics_port"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"`
}

// WorldConfig параметры встроенного симулятора мира.
type WorldConfig struct {
	Name       string `yaml:"name"`
	Seed       int64  `yaml:"seed"`
	Population int    `yaml:"population"`
	Extent     int    `yaml:"extent"`
	RegionSize int    `yaml:"region_size"`
	Workers    int    `yaml:"workers"`
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "FAUNA_REST_PORT", 8088)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "FAUNA_METRICS_PORT", 2112)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// TickInterval длительность одного тика.
func (e EngineConfig) TickInterval() time.Duration {
	if e.TicksPerSecond <= 0 {
		return 50 * time.Millisecond
	}
	return time.Second / time.Duration(e.TicksPerSecond)
}

// DefaultSpecies таблица видов по умолчанию.
func DefaultSpecies() map[string]SpeciesConfig {
	return map[string]SpeciesConfig{
		"cow":     {MaxAgeTicks: 480000, MaxHealth: 10, AggroRadius: 0, ChaseSpeed: 1.0, FleeSpeed: 1.4, FoodItem: "wheat"},
		"sheep":   {MaxAgeTicks: 480000, MaxHealth: 8, AggroRadius: 0, ChaseSpeed: 1.0, FleeSpeed: 1.4, FoodItem: "wheat"},
		"pig":     {MaxAgeTicks: 400000, MaxHealth: 10, AggroRadius: 0, ChaseSpeed: 1.0, FleeSpeed: 1.3, FoodItem: "carrot"},
		"chicken": {MaxAgeTicks: 240000, MaxHealth: 4, AggroRadius: 0, ChaseSpeed: 1.0, FleeSpeed: 1.5, FoodItem: "wheat_seeds"},
		"horse":   {MaxAgeTicks: 720000, MaxHealth: 22, AggroRadius: 6, ChaseSpeed: 1.3, FleeSpeed: 1.8, FoodItem: "apple", Aggressive: true},
		"wolf":    {MaxAgeTicks: 560000, MaxHealth: 8, AggroRadius: 16, ChaseSpeed: 1.4, FleeSpeed: 1.5, FoodItem: "bone", Aggressive: true},
	}
}

// Default возвращает полную конфигурацию по умолчанию.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			TicksPerSecond:     20,
			MaintenanceSeconds: 30,
			KinDamageWindow:    200,
			FleeSeverity:       3,
			PanicSeconds:       10,
			PlayChance:         0.05,
			TrustFlushSeconds:  5,
			DefaultMaxAgeTicks: 480000,
		},
		Species:   DefaultSpecies(),
		Storage:   StorageConfig{Backend: "memory", BadgerDir: "data/trust", MongoDB: "fauna"},
		EventBus:  EventBusConfig{Backend: "memory", Stream: "FAUNA", Retention: 24},
		Server:    ServerConfig{},
		Telemetry: TelemetryConfig{ServiceName: "mmo-fauna"},
		World: WorldConfig{
			Name:       "overworld",
			Seed:       1337,
			Population: 60,
			Extent:     256,
			RegionSize: 64,
			Workers:    4,
		},
	}
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", берётся ENV FAUNA_CONFIG; без файла возвращается Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("FAUNA_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфига %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("разбор конфига %s: %w", path, err)
	}

	// Виды из файла дополняют таблицу по умолчанию
	if cfg.Species == nil {
		cfg.Species = make(map[string]SpeciesConfig)
	}
	for name, sp := range DefaultSpecies() {
		if _, ok := cfg.Species[name]; !ok {
			cfg.Species[name] = sp
		}
	}

	return cfg, nil
}
