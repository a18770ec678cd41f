package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from an optional YAML file plus APIWATCH_*
// environment overrides. An empty path skips the file and runs on defaults
// and environment alone.
func Load(path string) (*Config, error) {
	v := viper.New()

	// defaults first
	setDefaults(v)

	// Env Config
	v.SetEnvPrefix("APIWATCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// File Config
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	if cfg.EndpointsFile == "" && cfg.DatabaseURL == "" {
		return nil, errors.New("config: need endpoints_file or database_url as the endpoint source")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", "127.0.0.1:8080")
	v.SetDefault("log_dir", "logs")
	// Register the keys so env-only overrides reach Unmarshal.
	v.SetDefault("database_url", "")
	v.SetDefault("endpoints_file", "")

	v.SetDefault("scheduler.tick", "10s")
	v.SetDefault("scheduler.default_interval", "60s")
	v.SetDefault("scheduler.default_timeout", "30s")
	v.SetDefault("scheduler.max_concurrent", 10)

	v.SetDefault("checks.default_latency_threshold_ms", 0)

	v.SetDefault("retention.days", 30)
	v.SetDefault("retention.sweep_every", "12h")

	v.SetDefault("alerting.notifications_enabled", true)
	v.SetDefault("alerting.notify_on_resolve", true)
	v.SetDefault("alerting.resend_every", "1m")
	v.SetDefault("alerting.resend_batch", 20)
	v.SetDefault("alerting.slack_webhook", "")

	v.SetDefault("api.public_keys", []string{})
	v.SetDefault("api.admin_keys", []string{})
	v.SetDefault("api.allowed_origins", []string{})
	v.SetDefault("api.public_rpm", 120)
	v.SetDefault("api.public_burst", 30)
	v.SetDefault("api.admin_rpm", 30)
	v.SetDefault("api.admin_burst", 10)
}

func validateConfig(cfg *Config) error {
	validate := validator.New()

	if err := validate.Struct(cfg); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			return formatValidationErrors(ve)
		}
		return err
	}
	return nil
}

func formatValidationErrors(ve validator.ValidationErrors) error {
	var sb strings.Builder
	sb.WriteString("config validation failed:\n")

	for _, fe := range ve {
		fmt.Fprintf(&sb, "- field '%s' failed on '%s'\n", fe.Namespace(), fe.Tag())
	}
	return errors.New(sb.String())
}
