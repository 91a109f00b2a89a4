package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// Namespace to watch. Empty means the namespace of the current
	// kubeconfig context (or "default").
	Namespace     string `env:"NAMESPACE"`
	LabelSelector string `env:"LABEL_SELECTOR"`
	// PodQuery is a regular expression matched against pod names.
	PodQuery string `env:"POD_QUERY"`

	Sink   string `env:"SINK" envDefault:"console"`
	Format string `env:"FORMAT" envDefault:"text"`

	FilePath string `env:"FILE_PATH"`

	NATS       NATSConfig
	ClickHouse ClickHouseConfig

	HandleBuffer  int           `env:"HANDLE_BUFFER" envDefault:"256"`
	OutputBuffer  int           `env:"OUTPUT_BUFFER" envDefault:"1024"`
	GracePeriod   time.Duration `env:"GRACE_PERIOD" envDefault:"5s"`
	SinkRetries   uint64        `env:"SINK_RETRIES" envDefault:"3"`
	SinkRetryWait time.Duration `env:"SINK_RETRY_WAIT" envDefault:"500ms"`

	DiagnosticsInterval time.Duration `env:"DIAG_INTERVAL" envDefault:"30s"`
	LogLevel            string        `env:"LOG_LEVEL" envDefault:"info"`
}

type NATSConfig struct {
	URL           string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	Username      string `env:"NATS_USERNAME"`
	Password      string `env:"NATS_PASSWORD"`
	SubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"woodchipper.logs"`
}

type ClickHouseConfig struct {
	Addr          string        `env:"CLICKHOUSE_ADDR"`
	DB            string        `env:"CLICKHOUSE_DB" envDefault:"default"`
	User          string        `env:"CLICKHOUSE_USER" envDefault:"default"`
	Password      string        `env:"CLICKHOUSE_PASSWORD"`
	BatchSize     int           `env:"CLICKHOUSE_BATCH_SIZE" envDefault:"200"`
	FlushInterval time.Duration `env:"CLICKHOUSE_FLUSH_INTERVAL" envDefault:"2s"`
}

func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Sink {
	case "console", "nats", "clickhouse":
	case "file":
		if c.FilePath == "" {
			return fmt.Errorf("FILE_PATH is required for the file sink")
		}
	default:
		return fmt.Errorf("unknown sink %q", c.Sink)
	}

	switch c.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown format %q", c.Format)
	}

	if c.Sink == "clickhouse" && c.ClickHouse.Addr == "" {
		return fmt.Errorf("CLICKHOUSE_ADDR is required for the clickhouse sink")
	}

	if c.HandleBuffer <= 0 || c.OutputBuffer <= 0 {
		return fmt.Errorf("buffer sizes must be positive")
	}

	return nil
}

// Level maps LOG_LEVEL onto a slog level, defaulting to info.
func (c Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
