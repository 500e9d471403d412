package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to run the scan engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Data      DataConfig      `yaml:"data"`
	Detection DetectionConfig `yaml:"detection"`
	Extract   ExtractConfig   `yaml:"extract"`
	Scanner   ScannerConfig   `yaml:"scanner"`
	Risk      RiskConfig      `yaml:"risk"`
	Store     StoreConfig     `yaml:"store"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP listener used in serve mode.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// DataConfig locates the on-disk working set.
type DataConfig struct {
	Dir             string        `yaml:"dir"`
	ScannersDir     string        `yaml:"scannersDir"`
	WindowHours     int           `yaml:"windowHours"`
	MonitorInterval time.Duration `yaml:"monitorInterval"`
	KeyServices     []string      `yaml:"keyServices"`
}

// SeverityCutoffs maps continuous badness onto severity tiers. Values are
// inclusive lower bounds on the averaged normalised anomaly score.
type SeverityCutoffs struct {
	Critical float64 `yaml:"critical"`
	High     float64 `yaml:"high"`
	Medium   float64 `yaml:"medium"`
}

// LogRateTiers maps log error rates onto severity tiers. A record below the
// Low bound is not anomalous at all.
type LogRateTiers struct {
	High   float64 `yaml:"high"`
	Medium float64 `yaml:"medium"`
	Low    float64 `yaml:"low"`
}

// DetectionConfig tunes the outlier ensemble. Quorum applies to system-level
// samples; process groups are small, so they run a single model with
// ProcessQuorum agreement.
type DetectionConfig struct {
	Quorum          int             `yaml:"quorum"`
	ProcessQuorum   int             `yaml:"processQuorum"`
	MinSamples      int             `yaml:"minSamples"`
	KNNMinSamples   int             `yaml:"knnMinSamples"`
	KNNNeighbors    int             `yaml:"knnNeighbors"`
	ProcessMinGroup int             `yaml:"processMinGroup"`
	IsolationTrees  int             `yaml:"isolationTrees"`
	Severity        SeverityCutoffs `yaml:"severity"`
	LogTiers        LogRateTiers    `yaml:"logTiers"`
}

// ExtractConfig tunes pattern extraction.
type ExtractConfig struct {
	MinAnomalies     int                `yaml:"minAnomalies"`
	ShapeMinFraction float64            `yaml:"shapeMinFraction"`
	ShapeMinCount    int                `yaml:"shapeMinCount"`
	MaxKeywords      int                `yaml:"maxKeywords"`
	MaxShapes        int                `yaml:"maxShapes"`
	DomainFloors     map[string]float64 `yaml:"domainFloors"`
}

// ScannerConfig bounds synthesized scanner execution.
type ScannerConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	TailLines       int           `yaml:"tailLines"`
	MaxReportedHits int           `yaml:"maxReportedHits"`
	MaxAnomalies    int           `yaml:"maxAnomalies"`
}

// RiskConfig parameterises the aggregation formula.
type RiskConfig struct {
	CriticalServices []string `yaml:"criticalServices"`
}

// StoreConfig selects and configures the pattern store backend.
type StoreConfig struct {
	Backend  string         `yaml:"backend"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// RedisConfig configures the Redis-backed pattern store.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// PostgresConfig configures the Postgres-backed pattern store.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SCAN_ENGINE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8780",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Data: DataConfig{
			Dir:             "data",
			ScannersDir:     "scanners",
			WindowHours:     24,
			MonitorInterval: 30 * time.Minute,
			KeyServices: []string{
				"nginx", "mysql", "redis", "postgres", "mongodb", "docker", "sshd",
			},
		},
		Detection: DetectionConfig{
			Quorum:          2,
			ProcessQuorum:   1,
			MinSamples:      2,
			KNNMinSamples:   5,
			KNNNeighbors:    5,
			ProcessMinGroup: 3,
			IsolationTrees:  64,
			Severity:        SeverityCutoffs{Critical: 3.0, High: 2.0, Medium: 1.0},
			LogTiers:        LogRateTiers{High: 0.20, Medium: 0.10, Low: 0.05},
		},
		Extract: ExtractConfig{
			MinAnomalies:     2,
			ShapeMinFraction: 0.10,
			ShapeMinCount:    2,
			MaxKeywords:      10,
			MaxShapes:        5,
			DomainFloors: map[string]float64{
				"cpu_percent":         80,
				"memory_percent":      75,
				"disk_usage_percent":  80,
				"network_connections": 1000,
			},
		},
		Scanner: ScannerConfig{
			Timeout:         120 * time.Second,
			TailLines:       1000,
			MaxReportedHits: 50,
			MaxAnomalies:    10,
		},
		Risk: RiskConfig{
			CriticalServices: []string{"mysql", "nginx", "system", "loki", "postgresql", "redis"},
		},
		Store: StoreConfig{
			Backend: "file",
			Redis: RedisConfig{
				DialTimeout:  2 * time.Second,
				ReadTimeout:  500 * time.Millisecond,
				WriteTimeout: 500 * time.Millisecond,
			},
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func validate(cfg *Config) error {
	switch cfg.Store.Backend {
	case "file", "redis", "postgres":
	default:
		return fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	if cfg.Detection.Quorum < 1 {
		return fmt.Errorf("detection quorum must be >= 1")
	}
	if cfg.Data.WindowHours <= 0 {
		return fmt.Errorf("data window must be positive")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SCAN_ENGINE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("SCAN_ENGINE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("SCAN_ENGINE_DATA_DIR"); v != "" {
		cfg.Data.Dir = v
	}
	if v := os.Getenv("SCAN_ENGINE_SCANNERS_DIR"); v != "" {
		cfg.Data.ScannersDir = v
	}
	if v := os.Getenv("SCAN_ENGINE_WINDOW_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil {
			cfg.Data.WindowHours = hours
		}
	}
	if v := os.Getenv("SCAN_ENGINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SCAN_ENGINE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("SCAN_ENGINE_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("SCAN_ENGINE_REDIS_ADDR"); v != "" {
		cfg.Store.Redis.Addr = v
	}
	if v := os.Getenv("SCAN_ENGINE_REDIS_PASSWORD"); v != "" {
		cfg.Store.Redis.Password = v
	}
	if v := os.Getenv("SCAN_ENGINE_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Store.Redis.DB = db
		}
	}
	if v := os.Getenv("SCAN_ENGINE_POSTGRES_DSN"); v != "" {
		cfg.Store.Postgres.DSN = v
	}
	if v := os.Getenv("SCAN_ENGINE_SCANNER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scanner.Timeout = d
		}
	}
	if v := os.Getenv("SCAN_ENGINE_DETECTION_QUORUM"); v != "" {
		if q, err := strconv.Atoi(v); err == nil {
			cfg.Detection.Quorum = q
		}
	}
	if v := os.Getenv("SCAN_ENGINE_CRITICAL_SERVICES"); v != "" {
		parts := strings.Split(v, ",")
		services := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				services = append(services, p)
			}
		}
		if len(services) > 0 {
			cfg.Risk.CriticalServices = services
		}
	}
}
