package config

import "github.com/spf13/viper"

func setDefaults() {
	// Server
	viper.SetDefault("server.port", 4001)
	viper.SetDefault("server.allowedOrigin", "http://localhost:3000")
	viper.SetDefault("server.readTimeout", 15)
	viper.SetDefault("server.writeTimeout", 15)

	// Broker
	viper.SetDefault("broker.type", "redis")
	viper.SetDefault("broker.channel", "code-review-events")
	viper.SetDefault("broker.redis.address", "localhost:6379")
	viper.SetDefault("broker.redis.password", "")
	viper.SetDefault("broker.redis.db", 0)
	viper.SetDefault("broker.redis.poolSize", 100)
	viper.SetDefault("broker.kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("broker.kafka.groupID", "review-relay")
	viper.SetDefault("broker.nats.url", "nats://localhost:4222")

	// WebSocket
	viper.SetDefault("websocket.messageSizeLimit", 65536)
	viper.SetDefault("websocket.pingInterval", 25)
	viper.SetDefault("websocket.pongTimeout", 30)
	viper.SetDefault("websocket.activityTimeout", 300)
	viper.SetDefault("websocket.writeTimeout", 10)
	viper.SetDefault("websocket.writeRetries", 2)

	// Metrics
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("metrics.path", "/metrics")
}
