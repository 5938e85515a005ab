package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "missionctl.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "MISSIONCTL_PORT")
	setString(&cfg.Server.CORSOrigin, "MISSIONCTL_CORS_ORIGIN")
	setString(&cfg.Store.Backend, "MISSIONCTL_STORE_BACKEND")
	setString(&cfg.Store.Path, "MISSIONCTL_STORE_PATH")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "MISSIONCTL_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "MISSIONCTL_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "MISSIONCTL_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "MISSIONCTL_PG_MAX_CONN_IDLE_TIME")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "MISSIONCTL_LOG_LEVEL")
	setString(&cfg.Logging.Service, "MISSIONCTL_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "MISSIONCTL_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "MISSIONCTL_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "MISSIONCTL_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "MISSIONCTL_RATE_RPS")
	setInt(&cfg.Rate.Burst, "MISSIONCTL_RATE_BURST")
	setInt64(&cfg.Cache.MaxSizeMB, "MISSIONCTL_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.GraphTTL, "MISSIONCTL_CACHE_GRAPH_TTL")

	// Scheduler
	setInt(&cfg.Scheduler.MaxConcurrency, "MISSIONCTL_SCHED_MAX_CONCURRENCY")
	setInt(&cfg.Scheduler.HistoryLimit, "MISSIONCTL_SCHED_HISTORY_LIMIT")
	setDuration(&cfg.Scheduler.DispatchTimeout, "MISSIONCTL_SCHED_DISPATCH_TIMEOUT")

	// Watchdog
	setDuration(&cfg.Watchdog.TickInterval, "MISSIONCTL_WD_TICK_INTERVAL")
	setDuration(&cfg.Watchdog.AgentStaleAfter, "MISSIONCTL_WD_AGENT_STALE_AFTER")
	setDuration(&cfg.Watchdog.AgentDeadAfter, "MISSIONCTL_WD_AGENT_DEAD_AFTER")
	setDuration(&cfg.Watchdog.MissionMaxTime, "MISSIONCTL_WD_MISSION_MAX_TIME")
	setDuration(&cfg.Watchdog.MissionStuckTime, "MISSIONCTL_WD_MISSION_STUCK_TIME")
	setDuration(&cfg.Watchdog.TaskStuckTime, "MISSIONCTL_WD_TASK_STUCK_TIME")
	setDuration(&cfg.Watchdog.SignalCooldown, "MISSIONCTL_WD_SIGNAL_COOLDOWN")
	setInt(&cfg.Watchdog.SignalHistory, "MISSIONCTL_WD_SIGNAL_HISTORY")
	setBool(&cfg.Watchdog.AutoHeal, "MISSIONCTL_WD_AUTO_HEAL")
	setInt(&cfg.Watchdog.HealAttemptCap, "MISSIONCTL_WD_HEAL_ATTEMPT_CAP")

	// Self-healing
	setInt(&cfg.SelfHeal.MaxPendingPerMission, "MISSIONCTL_HEAL_MAX_PENDING")

	// Cost
	setFloat64(&cfg.Cost.TokensPerChar, "MISSIONCTL_COST_TOKENS_PER_CHAR")
	setFloat64(&cfg.Cost.USDPerKiloToken, "MISSIONCTL_COST_USD_PER_KILO_TOKEN")
	setFloat64(&cfg.Cost.MissionBudget, "MISSIONCTL_COST_MISSION_BUDGET")
	setFloat64(&cfg.Cost.CallsPerSecond, "MISSIONCTL_COST_CALLS_PER_SECOND")
	setInt(&cfg.Cost.Burst, "MISSIONCTL_COST_BURST")

	// MCP
	setBool(&cfg.MCP.Enabled, "MISSIONCTL_MCP_ENABLED")
	setString(&cfg.MCP.Name, "MISSIONCTL_MCP_NAME")
	setString(&cfg.MCP.Addr, "MISSIONCTL_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "MISSIONCTL_MCP_API_KEY")

	// Telemetry
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Store.Backend {
	case "jsonfile":
		if cfg.Store.Path == "" {
			return errors.New("store.path is required for the jsonfile backend")
		}
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for the postgres backend")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	default:
		return fmt.Errorf("store.backend must be jsonfile or postgres, got %q", cfg.Store.Backend)
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Scheduler.MaxConcurrency < 1 {
		return errors.New("scheduler.max_concurrency must be >= 1")
	}
	if cfg.Scheduler.HistoryLimit < 1 {
		return errors.New("scheduler.history_limit must be >= 1")
	}
	if cfg.Watchdog.AgentDeadAfter <= cfg.Watchdog.AgentStaleAfter {
		return errors.New("watchdog.agent_dead_after must exceed watchdog.agent_stale_after")
	}
	if cfg.Watchdog.HealAttemptCap < 1 {
		return errors.New("watchdog.heal_attempt_cap must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
