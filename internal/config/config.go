// Package config loads Medoracle configuration from a YAML file and
// MEDORACLE_* environment variables on top of the tier defaults.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opensource-finance/medoracle/internal/domain"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override. Nested keys join
// with underscores: MEDORACLE_SERVER_PORT, MEDORACLE_CACHE_REDISADDR.
const EnvPrefix = "MEDORACLE"

// secretKeys are excluded from YAML output and only bound from the
// environment or an explicit file entry.
var secretKeys = []string{
	"repository.postgresPassword",
	"cache.redisPassword",
	"eventBus.natsToken",
}

// Load reads the config file at path (or medoracle.yaml in the working
// directory and /etc/medoracle when path is empty), applies environment
// overrides and validates the result.
func Load(path string) (*domain.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("medoracle")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/medoracle")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	// The tier picks the defaults, so it is resolved before anything else.
	base := domain.DefaultConfig()
	if domain.Tier(v.GetString("tier")) == domain.TierPro {
		base = domain.ProConfig()
	}
	if err := setDefaults(v, base); err != nil {
		return nil, err
	}
	for _, key := range secretKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every field of base as a viper default so that
// AutomaticEnv can override keys the file never mentions.
func setDefaults(v *viper.Viper, base *domain.Config) error {
	raw, err := yaml.Marshal(base)
	if err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("decode defaults: %w", err)
	}
	for key, value := range flatten("", tree) {
		v.SetDefault(key, value)
	}
	return nil
}

func flatten(prefix string, tree map[string]any) map[string]any {
	out := make(map[string]any)
	for k, value := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := value.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = value
	}
	return out
}

// Validate reports every invalid setting in cfg.
func Validate(cfg *domain.Config) error {
	var errs []error

	switch cfg.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		errs = append(errs, fmt.Errorf("tier: unknown tier %q", cfg.Tier))
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", cfg.Server.Port))
	}
	if cfg.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rateLimit: must not be negative"))
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("repository.driver: unsupported driver %q", cfg.Repository.Driver))
	}
	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.type: unsupported cache %q", cfg.Cache.Type))
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		errs = append(errs, fmt.Errorf("eventBus.type: unsupported bus %q", cfg.EventBus.Type))
	}
	if cfg.Normalizer.MinConfidence < 0 || cfg.Normalizer.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("normalizer.minConfidence: %v not in [0,1]", cfg.Normalizer.MinConfidence))
	}
	if len(cfg.Normalizer.DateLayouts) == 0 {
		errs = append(errs, errors.New("normalizer.dateLayouts: at least one layout is required"))
	}
	if cfg.Recorder.MaxAttempts < 1 {
		errs = append(errs, errors.New("recorder.maxAttempts: must be at least 1"))
	}
	if cfg.Recorder.Timeout <= 0 {
		errs = append(errs, errors.New("recorder.timeout: must be positive"))
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unsupported format %q", cfg.Logging.Format))
	}

	return errors.Join(errs...)
}

// Marshal renders cfg as YAML. Secrets are omitted.
func Marshal(cfg *domain.Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
