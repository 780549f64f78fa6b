package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	MaxBodyBytes int64         `env:"HTTP_MAX_BODY_BYTES" envDefault:"10485760"`

	AuthToken   string `env:"AUTH_TOKEN"`
	CORSOrigins string `env:"CORS_ORIGINS"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// DatabaseURL is optional; without it evaluations are kept in memory only.
	DatabaseURL      string `env:"DATABASE_URL"`
	DatabaseMaxConns int32  `env:"DATABASE_MAX_CONNS" envDefault:"10"`
	DatabaseMinConns int32  `env:"DATABASE_MIN_CONNS" envDefault:"2"`

	// Retention purges evaluations older than this; 0 keeps everything.
	Retention time.Duration `env:"EVALUATION_RETENTION" envDefault:"0s"`

	Engine  EngineConfig
	Batch   BatchConfig
	Dataset DatasetConfig
	S3      S3Config
	MQTT    MQTTConfig
	Kafka   KafkaConfig

	WatchDir      string        `env:"WATCH_DIR"`
	WatchDebounce time.Duration `env:"WATCH_DEBOUNCE" envDefault:"2s"`
	ReportDir     string        `env:"REPORT_DIR" envDefault:"./reports"`
}

// EngineConfig holds evaluation defaults. Requests may override strategy
// and threshold.
type EngineConfig struct {
	Strategy       string  `env:"CONSENSUS_STRATEGY" envDefault:"voting"`
	TrustThreshold float64 `env:"TRUST_THRESHOLD" envDefault:"0.8"`
	MaxCells       int     `env:"MAX_ALIGNMENT_CELLS" envDefault:"1000000"`
	Workers        int     `env:"ALIGN_WORKERS" envDefault:"0"`
}

type BatchConfig struct {
	Workers   int `env:"BATCH_WORKERS" envDefault:"2"`
	QueueSize int `env:"BATCH_QUEUE_SIZE" envDefault:"500"`
}

// DatasetConfig describes the CSV column layout and token normalisation.
type DatasetConfig struct {
	ReferenceColumn  string `env:"DATASET_REFERENCE_COLUMN" envDefault:"Human"`
	IDColumn         string `env:"DATASET_ID_COLUMN" envDefault:"segment_url_link"`
	HypothesisPrefix string `env:"DATASET_HYPOTHESIS_PREFIX" envDefault:"Model"`
	Lowercase        bool   `env:"TOKEN_LOWERCASE" envDefault:"false"`
	Normalize        string `env:"TOKEN_NORMALIZE"`
}

type S3Config struct {
	Bucket     string `env:"S3_BUCKET"`
	Region     string `env:"S3_REGION" envDefault:"us-east-1"`
	Endpoint   string `env:"S3_ENDPOINT"`
	AccessKey  string `env:"S3_ACCESS_KEY"`
	SecretKey  string `env:"S3_SECRET_KEY"`
	Prefix     string `env:"S3_PREFIX"`
	LocalCache bool   `env:"S3_LOCAL_CACHE" envDefault:"true"`

	PresignExpiry  time.Duration `env:"S3_PRESIGN_EXPIRY" envDefault:"1h"`
	UploadWorkers  int           `env:"S3_UPLOAD_WORKERS" envDefault:"2"`
	UploadBuffer   int           `env:"S3_UPLOAD_BUFFER" envDefault:"100"`
	ReconcileAfter time.Duration `env:"S3_RECONCILE_INTERVAL" envDefault:"5m"`
}

// Enabled reports whether an S3 bucket is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

type MQTTConfig struct {
	BrokerURL   string `env:"MQTT_BROKER_URL"`
	Topics      string `env:"MQTT_TOPICS" envDefault:"wer/requests/#"`
	ResultTopic string `env:"MQTT_RESULT_TOPIC" envDefault:"wer/results"`
	StatusTopic string `env:"MQTT_STATUS_TOPIC" envDefault:"wer/status"`
	ClientID    string `env:"MQTT_CLIENT_ID" envDefault:"wer-engine"`
	Username    string `env:"MQTT_USERNAME"`
	Password    string `env:"MQTT_PASSWORD"`
}

func (c MQTTConfig) Enabled() bool { return c.BrokerURL != "" }

type KafkaConfig struct {
	Enabled bool   `env:"KAFKA_ENABLED" envDefault:"false"`
	Brokers string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	Topic   string `env:"KAFKA_TOPIC" envDefault:"wer.evaluations"`
}

// BrokerList splits Brokers on commas.
func (c KafkaConfig) BrokerList() []string {
	return splitList(c.Brokers)
}

// Origins splits CORSOrigins on commas.
func (c *Config) Origins() []string {
	return splitList(c.CORSOrigins)
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile       string
	HTTPAddr      string
	LogLevel      string
	DatabaseURL   string
	MQTTBrokerURL string
	WatchDir      string
	ReportDir     string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.MQTTBrokerURL != "" {
		cfg.MQTT.BrokerURL = overrides.MQTTBrokerURL
	}
	if overrides.WatchDir != "" {
		cfg.WatchDir = overrides.WatchDir
	}
	if overrides.ReportDir != "" {
		cfg.ReportDir = overrides.ReportDir
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Engine.Strategy {
	case "voting", "confidence":
	default:
		return fmt.Errorf("CONSENSUS_STRATEGY: unknown strategy %q", c.Engine.Strategy)
	}
	if c.Engine.TrustThreshold < 0 || c.Engine.TrustThreshold > 1 {
		return fmt.Errorf("TRUST_THRESHOLD: %v outside [0, 1]", c.Engine.TrustThreshold)
	}
	if c.Engine.MaxCells < 0 {
		return fmt.Errorf("MAX_ALIGNMENT_CELLS: must not be negative")
	}
	switch strings.ToUpper(c.Dataset.Normalize) {
	case "", "NFC", "NFD", "NFKC", "NFKD":
	default:
		return fmt.Errorf("TOKEN_NORMALIZE: unknown form %q", c.Dataset.Normalize)
	}
	if c.Retention < 0 {
		return fmt.Errorf("EVALUATION_RETENTION: must not be negative")
	}
	if c.Batch.Workers < 1 {
		c.Batch.Workers = 1
	}
	if c.Batch.QueueSize < 1 {
		c.Batch.QueueSize = 1
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
