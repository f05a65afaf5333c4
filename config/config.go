package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Server    ServerConfig
	Broker    BrokerConfig
	WebSocket WebSocketConfig
	Metrics   MetricsConfig
}

type ServerConfig struct {
	Port          int
	AllowedOrigin string
	ReadTimeout   int // Seconds
	WriteTimeout  int // Seconds
}

type BrokerConfig struct {
	Type    string // "redis", "kafka" or "nats"
	Channel string // shared topic carrying cross-instance event envelopes
	Redis   RedisConfig
	Kafka   KafkaConfig
	Nats    NatsConfig
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
}

type NatsConfig struct {
	URL string
}

type WebSocketConfig struct {
	MessageSizeLimit int64
	PingInterval     int // Seconds
	PongTimeout      int // Seconds
	ActivityTimeout  int // Seconds
	WriteTimeout     int // Seconds
	WriteRetries     int
}

type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

var (
	instance *AppConfig
	once     sync.Once
)

// Initialize loads configuration from an optional config.<env>.yaml file,
// environment variables with the RELAY_ prefix, and built-in defaults.
// The service is fully configurable through env vars, so a missing config
// file is not an error; an unreadable one or a failed validation is.
func Initialize(env string) error {
	var initErr error
	once.Do(func() {
		viper.SetConfigName(fmt.Sprintf("config.%s", env))
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")

		viper.AutomaticEnv()
		viper.SetEnvPrefix("RELAY")

		setDefaults()
		bindEnvVars()

		if err := viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				initErr = fmt.Errorf("config file error: %w", err)
				return
			}
		}

		if err := viper.Unmarshal(&instance); err != nil {
			initErr = fmt.Errorf("config unmarshal error: %w", err)
			return
		}

		if err := instance.Validate(); err != nil {
			initErr = fmt.Errorf("config validation failed: %w", err)
			return
		}
	})
	return initErr
}

func Get() *AppConfig {
	return instance
}
