package config

import "time"

type SchedulerConfig struct {
	Tick            time.Duration `mapstructure:"tick" validate:"gt=0"`
	DefaultInterval time.Duration `mapstructure:"default_interval" validate:"gt=0"`
	DefaultTimeout  time.Duration `mapstructure:"default_timeout" validate:"gt=0"`
	MaxConcurrent   int           `mapstructure:"max_concurrent" validate:"gte=1"`
}

type ChecksConfig struct {
	// DefaultLatencyThresholdMS applies to endpoints without their own
	// threshold. Zero disables latency alerting for them.
	DefaultLatencyThresholdMS float64 `mapstructure:"default_latency_threshold_ms" validate:"gte=0"`
}

type RetentionConfig struct {
	// Days of history to keep. Zero disables the periodic sweep.
	Days       int           `mapstructure:"days" validate:"gte=0"`
	SweepEvery time.Duration `mapstructure:"sweep_every" validate:"gt=0"`
}

type AlertingConfig struct {
	NotificationsEnabled bool          `mapstructure:"notifications_enabled"`
	NotifyOnResolve      bool          `mapstructure:"notify_on_resolve"`
	ResendEvery          time.Duration `mapstructure:"resend_every" validate:"gt=0"`
	ResendBatch          int           `mapstructure:"resend_batch" validate:"gte=1"`
	SlackWebhook         string        `mapstructure:"slack_webhook" validate:"omitempty,url"`
}

type APIConfig struct {
	PublicKeys     []string `mapstructure:"public_keys"`
	AdminKeys      []string `mapstructure:"admin_keys"`
	PublicRPM      int      `mapstructure:"public_rpm" validate:"gte=1"`
	PublicBurst    int      `mapstructure:"public_burst" validate:"gte=1"`
	AdminRPM       int      `mapstructure:"admin_rpm" validate:"gte=1"`
	AdminBurst     int      `mapstructure:"admin_burst" validate:"gte=1"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type Config struct {
	Addr   string `mapstructure:"addr" validate:"required"`
	LogDir string `mapstructure:"log_dir" validate:"required"`

	// DatabaseURL empty means in-memory stores (dev mode).
	DatabaseURL string `mapstructure:"database_url"`

	// EndpointsFile points at a YAML endpoint declaration. When set it is the
	// registry source; otherwise endpoints are read from the database.
	EndpointsFile string `mapstructure:"endpoints_file"`

	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Checks    ChecksConfig    `mapstructure:"checks"`
	Retention RetentionConfig `mapstructure:"retention"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	API       APIConfig       `mapstructure:"api"`
}
