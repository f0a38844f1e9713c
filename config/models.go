package config

// Config holds the configuration of the application
// Use config.LoadConfig to create a new instance
type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Annotate AnnotateConfig `mapstructure:"annotate"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

type StoreConfig struct {
	Type     string         `mapstructure:"type"     validate:"required"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// AnnotateConfig holds the configuration for the annotation job pipeline.
type AnnotateConfig struct {
	// RetryWaitMS is the fixed wait between dispatch retries.
	RetryWaitMS int `mapstructure:"retry_wait_ms" validate:"gt=0"`
	// HTTPTimeoutSeconds bounds a single prediction service call.
	HTTPTimeoutSeconds int `mapstructure:"http_timeout_seconds" validate:"gt=0"`
	// Services maps an annotation type to its prediction service.
	Services map[string]ServiceConfig `mapstructure:"services"`
}

type ServiceConfig struct {
	URL     string `mapstructure:"url" validate:"omitempty,url"`
	Enabled bool   `mapstructure:"enabled"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}
