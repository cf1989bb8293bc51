package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures the full runtime configuration for a PackageFlow service.
type Config struct {
	App     AppConfig
	HTTP    HTTPConfig
	Kafka   KafkaConfig
	Storage StorageConfig
	Tracing TracingConfig
	Policy  PolicyConfig
	Upload  UploadConfig
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"packageflow-gateway"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"APP_LOG_LEVEL" envDefault:"info"`
}

type HTTPConfig struct {
	Addr         string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
}

type KafkaConfig struct {
	Brokers          []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	AuditTopic       string        `env:"KAFKA_AUDIT_TOPIC" envDefault:"packageflow.audit"`
	TasksTopic       string        `env:"KAFKA_TASKS_TOPIC" envDefault:"packageflow.tasks"`
	ProcessorGroupID string        `env:"KAFKA_PROCESSOR_GROUP_ID" envDefault:"packageflow-processor"`
	Retries          int           `env:"KAFKA_RETRIES" envDefault:"3"`
	RetryBackoff     time.Duration `env:"KAFKA_RETRY_BACKOFF" envDefault:"500ms"`
	CompressionCodec string        `env:"KAFKA_COMPRESSION_CODEC" envDefault:"snappy"`
	BatchSize        int           `env:"KAFKA_BATCH_SIZE" envDefault:"100"`
	BatchTimeout     time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"1s"`
}

type StorageConfig struct {
	Provider  string `env:"STORAGE_PROVIDER" envDefault:"minio"`
	Endpoint  string `env:"STORAGE_ENDPOINT" envDefault:"localhost:9000"`
	Region    string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	Bucket    string `env:"STORAGE_INGRESS_BUCKET" envDefault:"packageflow-ingress"`
	AccessKey string `env:"STORAGE_ACCESS_KEY" envDefault:"minioadmin"`
	SecretKey string `env:"STORAGE_SECRET_KEY" envDefault:"minioadmin"`
	UseSSL    bool   `env:"STORAGE_USE_SSL" envDefault:"false"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:"service.namespace=packageflow"`
}

// PolicyConfig holds the validation policy applied to every uploaded archive.
type PolicyConfig struct {
	AllowedOrganizationIDs []string `env:"ALLOWED_ORGANIZATION_IDS" envSeparator:","`
	MaxFileSizeBytes       int64    `env:"MAX_FILE_SIZE_BYTES" envDefault:"1073741824"`
	RequiredExtension      string   `env:"REQUIRED_EXTENSION" envDefault:".zip"`
}

type UploadConfig struct {
	MaxSizeBytes      int64 `env:"UPLOAD_MAX_SIZE_BYTES" envDefault:"1073741824"`
	MultipartMemBytes int64 `env:"UPLOAD_MULTIPART_MEM_BYTES" envDefault:"52428800"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings without which a service cannot run. A
// missing allow-list or audit topic is a startup failure, never a
// per-record one.
func (c *Config) Validate() error {
	if len(c.Policy.AllowedOrganizationIDs) == 0 {
		return errors.New("ALLOWED_ORGANIZATION_IDS must not be empty")
	}
	if c.Kafka.AuditTopic == "" {
		return errors.New("KAFKA_AUDIT_TOPIC must not be empty")
	}
	if c.Kafka.TasksTopic == "" {
		return errors.New("KAFKA_TASKS_TOPIC must not be empty")
	}
	if c.Storage.Bucket == "" {
		return errors.New("STORAGE_INGRESS_BUCKET must not be empty")
	}
	if c.Policy.MaxFileSizeBytes <= 0 {
		return errors.New("MAX_FILE_SIZE_BYTES must be positive")
	}
	return nil
}
