package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func (c *AppConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}
	if c.Server.AllowedOrigin == "" {
		return errors.New("server allowedOrigin must be set")
	}

	if c.Broker.Channel == "" {
		return errors.New("broker channel must be configured")
	}
	switch strings.ToLower(c.Broker.Type) {
	case "redis":
		if c.Broker.Redis.Address == "" {
			return errors.New("redis address must be specified for redis broker")
		}
	case "kafka":
		if len(c.Broker.Kafka.Brokers) == 0 {
			return errors.New("kafka brokers must be specified for kafka broker")
		}
		if c.Broker.Kafka.GroupID == "" {
			return errors.New("kafka groupID must be specified for kafka broker")
		}
	case "nats":
		if c.Broker.Nats.URL == "" {
			return errors.New("nats url must be specified for nats broker")
		}
	default:
		return fmt.Errorf("invalid broker type: %s. Must be 'redis', 'kafka' or 'nats'", c.Broker.Type)
	}

	if c.WebSocket.MessageSizeLimit < 1 {
		return errors.New("message size limit must be positive")
	}
	if c.WebSocket.PingInterval >= c.WebSocket.ActivityTimeout {
		return errors.New("ping interval should be less than activity timeout")
	}
	if c.WebSocket.WriteTimeout < 1 {
		return errors.New("write timeout must be at least 1 second")
	}
	if c.WebSocket.WriteRetries < 0 {
		return errors.New("write retries must not be negative")
	}

	return nil
}

func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "RELAY_PORT")
	viper.BindEnv("server.allowedOrigin", "RELAY_ALLOWED_ORIGIN")

	// Broker
	viper.BindEnv("broker.type", "RELAY_BROKER_TYPE")
	viper.BindEnv("broker.channel", "RELAY_BROKER_CHANNEL")
	viper.BindEnv("broker.redis.address", "RELAY_REDIS_ADDRESS")
	viper.BindEnv("broker.redis.password", "RELAY_REDIS_PASSWORD")
	viper.BindEnv("broker.kafka.brokers", "RELAY_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.groupID", "RELAY_KAFKA_GROUPID")
	viper.BindEnv("broker.nats.url", "RELAY_NATS_URL")

	// WebSocket
	viper.BindEnv("websocket.pingInterval", "RELAY_PING_INTERVAL")
	viper.BindEnv("websocket.pongTimeout", "RELAY_PONG_TIMEOUT")
	viper.BindEnv("websocket.activityTimeout", "RELAY_ACTIVITY_TIMEOUT")
	viper.BindEnv("websocket.writeTimeout", "RELAY_WRITE_TIMEOUT")

	// Metrics
	viper.BindEnv("metrics.enabled", "RELAY_METRICS_ENABLED")
	viper.BindEnv("metrics.port", "RELAY_METRICS_PORT")
}
