package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/model"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "eligibility.yaml"

// envPrefix prefixes every environment override.
const envPrefix = "ELIGIBILITY_"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := lookupEnv("CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if cfg.Models.File != "" {
		chains, err := LoadModelsFile(cfg.Models.File)
		if err != nil {
			return nil, fmt.Errorf("config models: %w", err)
		}
		cfg.Models.Chains = MergeChains(cfg.Models.Chains, chains)
	}

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

// modelsFile is the document shape of models.file.
type modelsFile struct {
	Chains map[string]model.Chain `yaml:"chains"`
}

// LoadModelsFile reads model priority chains from a standalone YAML file.
// Each chain is validated; a missing file is an error.
func LoadModelsFile(path string) (map[string]model.Chain, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var f modelsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for name, chain := range f.Chains {
		if err := chain.Validate(name); err != nil {
			return nil, err
		}
	}
	return f.Chains, nil
}

// MergeChains returns base overlaid with override, by name.
func MergeChains(base, override map[string]model.Chain) map[string]model.Chain {
	out := make(map[string]model.Chain, len(base)+len(override))
	for name, c := range base {
		out[name] = c
	}
	for name, c := range override {
		out[name] = c
	}
	return out
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Server.CORSOrigin, "CORS_ORIGIN")
	setDuration(&cfg.Server.RequestTimeout, "REQUEST_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "SHUTDOWN_TIMEOUT")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "PG_HEALTH_CHECK")
	setString(&cfg.SQLite.Path, "SQLITE_PATH")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.KVBucket, "NATS_KV_BUCKET")
	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setString(&cfg.LiteLLM.Model, "LITELLM_MODEL")
	setDuration(&cfg.LiteLLM.Timeout, "LITELLM_TIMEOUT")

	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Service, "LOG_SERVICE")
	setBool(&cfg.Logging.Async, "LOG_ASYNC")
	setInt(&cfg.Logging.BufferSize, "LOG_BUFFER_SIZE")
	setInt(&cfg.Logging.Workers, "LOG_WORKERS")

	setInt(&cfg.Breaker.MaxFailures, "BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "RATE_RPS")
	setInt(&cfg.Rate.Burst, "RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "RATE_MAX_IDLE_TIME")

	// Cache
	setInt64(&cfg.Cache.HotMaxSizeMB, "CACHE_HOT_SIZE_MB")
	setDuration(&cfg.Cache.HotTTL, "CACHE_HOT_TTL")
	setString(&cfg.Cache.WarmBackend, "CACHE_WARM_BACKEND")
	setDuration(&cfg.Cache.WarmTTL, "CACHE_WARM_TTL")
	setDuration(&cfg.Cache.WarmSweep, "CACHE_WARM_SWEEP")
	setString(&cfg.Cache.DurableBackend, "CACHE_DURABLE_BACKEND")
	setDuration(&cfg.Cache.IOTimeout, "CACHE_IO_TIMEOUT")

	// Pipeline
	setInt(&cfg.Pipeline.MaxRetries, "PIPELINE_MAX_RETRIES")
	setDuration(&cfg.Pipeline.BackoffBase, "PIPELINE_BACKOFF_BASE")
	setDuration(&cfg.Pipeline.BackoffMax, "PIPELINE_BACKOFF_MAX")
	setDuration(&cfg.Pipeline.StageTimeout, "PIPELINE_STAGE_TIMEOUT")
	setInt(&cfg.Pipeline.MaxInFlight, "PIPELINE_MAX_IN_FLIGHT")
	setDuration(&cfg.Pipeline.DrainTimeout, "PIPELINE_DRAIN_TIMEOUT")

	// Router
	setFloat64(&cfg.Router.ContinueThreshold, "ROUTER_CONTINUE_THRESHOLD")
	setFloat64(&cfg.Router.RetryThreshold, "ROUTER_RETRY_THRESHOLD")
	setInt(&cfg.Router.RetryBudget, "ROUTER_RETRY_BUDGET")
	setStrings(&cfg.Router.Stages, "ROUTER_STAGES")

	// Models
	setString(&cfg.Models.File, "MODELS_FILE")
	setBool(&cfg.Models.Watch, "MODELS_WATCH")
	setDuration(&cfg.Models.LoadTimeout, "MODELS_LOAD_TIMEOUT")

	// Trace
	setString(&cfg.Trace.Dir, "TRACE_DIR")
	setInt(&cfg.Trace.BufferSize, "TRACE_BUFFER_SIZE")
	setDuration(&cfg.Trace.WriteTimeout, "TRACE_WRITE_TIMEOUT")

	// OTEL
	setBool(&cfg.OTEL.Enabled, "OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "OTEL_SAMPLE_RATE")
}

// validate checks that required fields are set and ranges are sane.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}

	switch cfg.Cache.WarmBackend {
	case BackendSQLite:
	case BackendNATS:
		if cfg.NATS.URL == "" {
			return errors.New("nats.url is required for cache.warm_backend=nats")
		}
	default:
		return fmt.Errorf("cache.warm_backend %q is not supported", cfg.Cache.WarmBackend)
	}
	switch cfg.Cache.DurableBackend {
	case BackendSQLite:
	case BackendPostgres:
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	default:
		return fmt.Errorf("cache.durable_backend %q is not supported", cfg.Cache.DurableBackend)
	}
	if (cfg.Cache.WarmBackend == BackendSQLite || cfg.Cache.DurableBackend == BackendSQLite) && cfg.SQLite.Path == "" {
		return errors.New("sqlite.path is required")
	}
	if cfg.Cache.HotTTL <= 0 || cfg.Cache.WarmTTL <= 0 {
		return errors.New("cache ttls must be > 0")
	}
	if cfg.Cache.HotMaxSizeMB < 1 {
		return errors.New("cache.hot_max_size_mb must be >= 1")
	}
	if cfg.Cache.IOTimeout <= 0 {
		return errors.New("cache.io_timeout must be > 0")
	}

	if cfg.Pipeline.MaxRetries < 0 {
		return errors.New("pipeline.max_retries must be >= 0")
	}
	for stage, n := range cfg.Pipeline.StageRetries {
		if n < 0 {
			return fmt.Errorf("pipeline.stage_retries.%s must be >= 0", stage)
		}
	}
	if cfg.Pipeline.StageTimeout <= 0 {
		return errors.New("pipeline.stage_timeout must be > 0")
	}
	if cfg.Pipeline.MaxInFlight < 1 {
		return errors.New("pipeline.max_in_flight must be >= 1")
	}

	r := cfg.Router
	if r.ContinueThreshold < 0 || r.ContinueThreshold > 1 {
		return errors.New("router.continue_threshold must be within [0,1]")
	}
	if r.RetryThreshold < 0 || r.RetryThreshold > 1 {
		return errors.New("router.retry_threshold must be within [0,1]")
	}
	if r.RetryThreshold > r.ContinueThreshold {
		return errors.New("router.retry_threshold must be <= router.continue_threshold")
	}
	if r.RetryBudget < 0 {
		return errors.New("router.retry_budget must be >= 0")
	}
	for stage, n := range r.StageBudgets {
		if n < 0 {
			return fmt.Errorf("router.stage_budgets.%s must be >= 0", stage)
		}
	}

	for name, chain := range cfg.Models.Chains {
		if err := chain.Validate(name); err != nil {
			return err
		}
	}
	if cfg.Models.Watch && cfg.Models.File == "" {
		return errors.New("models.watch requires models.file")
	}
	if cfg.Models.LoadTimeout <= 0 {
		return errors.New("models.load_timeout must be > 0")
	}

	if cfg.Trace.Dir == "" {
		return errors.New("trace.dir is required")
	}
	if cfg.Trace.BufferSize < 1 {
		return errors.New("trace.buffer_size must be >= 1")
	}
	return nil
}

func lookupEnv(key string) string {
	return os.Getenv(envPrefix + key)
}

func setString(dst *string, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func setStrings(dst *[]string, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*dst = out
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
