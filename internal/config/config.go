// Package config loads smellreg configuration from an optional YAML file
// and SMELLREG_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/smellreg/smellreg/internal/domain"
)

// EnvConfigPath names the variable holding the config file path.
const EnvConfigPath = "SMELLREG_CONFIG"

// Load builds the configuration. The tier picks the base defaults
// (SMELLREG_TIER wins over the file's tier), the YAML file at path is
// layered on top when path is non-empty, then environment overrides are
// applied and the result is validated.
func Load(path string) (*domain.Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
	}

	tier := domain.TierCommunity
	if len(data) > 0 {
		var head struct {
			Tier domain.Tier `yaml:"tier"`
		}
		if err := yaml.Unmarshal(data, &head); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
		if head.Tier != "" {
			tier = head.Tier
		}
	}
	if v := os.Getenv("SMELLREG_TIER"); v != "" {
		tier = domain.Tier(v)
	}

	cfg := domain.DefaultConfig()
	if tier == domain.TierPro {
		cfg = domain.ProConfig()
	}

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}
	cfg.Tier = tier

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("SMELLREG_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SMELLREG_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = i
		}
	}
	if os.Getenv("SMELLREG_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
	if v := os.Getenv("SMELLREG_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("SMELLREG_REFERENCE_DIR"); v != "" {
		cfg.Reference.Dir = v
	}
	if v := os.Getenv("SMELLREG_REFERENCE_WATCH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Reference.Watch = b
		}
	}
	if v := os.Getenv("SMELLREG_ENGINE_MAX_WORKERS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Engine.MaxWorkers = i
		}
	}

	if v := os.Getenv("SMELLREG_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("SMELLREG_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("SMELLREG_POSTGRES_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Repository.PostgresPort = i
		}
	}
	if v := os.Getenv("SMELLREG_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("SMELLREG_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("SMELLREG_POSTGRES_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}

	if v := os.Getenv("SMELLREG_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("SMELLREG_REPORT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ReportTTL = d
		}
	}
	if v := os.Getenv("SMELLREG_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}

	if v := os.Getenv("SMELLREG_ASYNC_WORKER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Worker.Enabled = b
		}
	}
	if v := os.Getenv("SMELLREG_TENANTS"); v != "" {
		var ids []string
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		cfg.Worker.TenantIDs = ids
	}
}

// Validate checks the configuration for values the service cannot run with.
func Validate(cfg *domain.Config) error {
	var errs []string

	switch cfg.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		errs = append(errs, fmt.Sprintf("unknown tier %q", cfg.Tier))
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", cfg.Server.Port))
	}
	if cfg.Engine.MaxWorkers <= 0 {
		errs = append(errs, "engine.max_workers must be positive")
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("unsupported repository driver %q", cfg.Repository.Driver))
	}
	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unsupported cache type %q", cfg.Cache.Type))
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		errs = append(errs, fmt.Sprintf("unsupported event bus type %q", cfg.EventBus.Type))
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("unknown logging.level %q", cfg.Logging.Level))
	}
	if cfg.Reference.Watch && cfg.Reference.Dir == "" {
		errs = append(errs, "reference.watch requires reference.dir")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
