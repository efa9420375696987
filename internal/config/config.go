// Package config loads the revalidator configuration from an optional file
// and REVALIDATOR_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable override.
const EnvPrefix = "REVALIDATOR"

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config is the full process configuration.
type Config struct {
	Schedule        string        `mapstructure:"schedule"`
	EntityPageSize  int           `mapstructure:"entity_page_size" validate:"gt=0,lte=10000"`
	CheckpointEvery int           `mapstructure:"checkpoint_every" validate:"gt=0"`
	EntityTimeout   time.Duration `mapstructure:"entity_timeout" validate:"gt=0"`
	Store           string        `mapstructure:"store" validate:"oneof=postgres memory"`
	LogLevel        string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	OpsAddr         string        `mapstructure:"ops_addr" validate:"required"`

	Database DatabaseConfig  `mapstructure:"database"`
	Hub      HubConfig       `mapstructure:"hub"`
	Kafka    KafkaConfig     `mapstructure:"kafka"`
	Otel     TelemetryConfig `mapstructure:"otel"`
}

// DatabaseConfig configures the postgres pool.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MinConns int32  `mapstructure:"min_conns" validate:"gte=0"`
	MaxConns int32  `mapstructure:"max_conns" validate:"gtefield=MinConns,gt=0"`
}

// HubConfig configures the hub HTTP API used for signer events and username
// proofs.
type HubConfig struct {
	URL            string        `mapstructure:"url" validate:"required,url"`
	RPS            float64       `mapstructure:"rps" validate:"gte=0"`
	Burst          int           `mapstructure:"burst" validate:"gte=0"`
	MaxRetries     uint64        `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" validate:"gte=0"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
}

// KafkaConfig configures revocation event publishing. Publishing is disabled
// when no brokers are set.
type KafkaConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	RevocationTopic string   `mapstructure:"revocation_topic" validate:"required_with=Brokers"`
	ClientID        string   `mapstructure:"client_id"`
}

// Enabled reports whether a broker list was configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// TelemetryConfig configures the otel exporters.
type TelemetryConfig struct {
	ServiceName      string  `mapstructure:"service_name" validate:"required"`
	ExporterEndpoint string  `mapstructure:"exporter_endpoint"`
	SamplingRatio    float64 `mapstructure:"sampling_ratio" validate:"gte=0,lte=1"`
	Insecure         bool    `mapstructure:"insecure"`
}

// SetDefaults registers the default value of every knob on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("schedule", "0 2 * * *")
	v.SetDefault("entity_page_size", 100)
	v.SetDefault("checkpoint_every", 5000)
	v.SetDefault("entity_timeout", 15*time.Minute)
	v.SetDefault("store", StorePostgres)
	v.SetDefault("log_level", "info")
	v.SetDefault("ops_addr", ":9090")

	v.SetDefault("database.url", "")
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("hub.url", "http://localhost:2281")
	v.SetDefault("hub.rps", 50)
	v.SetDefault("hub.burst", 10)
	v.SetDefault("hub.max_retries", 5)
	v.SetDefault("hub.initial_backoff", 500*time.Millisecond)
	v.SetDefault("hub.request_timeout", 30*time.Second)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.revocation_topic", "message-revocations")
	v.SetDefault("kafka.client_id", "revalidator")

	v.SetDefault("otel.service_name", "revalidator")
	v.SetDefault("otel.exporter_endpoint", "")
	v.SetDefault("otel.sampling_ratio", 0.1)
	v.SetDefault("otel.insecure", true)
}

// Load reads the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	// Comma separated broker lists arrive from the environment as one string.
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field constraint and returns all violations as a
// single error with English messages.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	trans, err := englishTranslator(validate)
	if err != nil {
		return err
	}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("failed to validate config: %w", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fe.Translate(trans))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}

	if c.Store == StorePostgres && c.Database.URL == "" {
		return errors.New("invalid config: database.url is required when store is postgres")
	}
	return nil
}

func englishTranslator(validate *validator.Validate) (ut.Translator, error) {
	english := en.New()
	uni := ut.New(english, english)
	trans, _ := uni.GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, fmt.Errorf("failed to register validator translations: %w", err)
	}
	return trans, nil
}
