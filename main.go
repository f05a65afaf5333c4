package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/f3mi/Collaborative-Code-Review-Knowledge-Sharing-Platform-with-AI-Assist/broker"
	"github.com/f3mi/Collaborative-Code-Review-Knowledge-Sharing-Platform-with-AI-Assist/config"
	"github.com/f3mi/Collaborative-Code-Review-Knowledge-Sharing-Platform-with-AI-Assist/docsync"
	"github.com/f3mi/Collaborative-Code-Review-Knowledge-Sharing-Platform-with-AI-Assist/metrics"
	"github.com/f3mi/Collaborative-Code-Review-Knowledge-Sharing-Platform-with-AI-Assist/server"
	"github.com/f3mi/Collaborative-Code-Review-Knowledge-Sharing-Platform-with-AI-Assist/session"
	"github.com/f3mi/Collaborative-Code-Review-Knowledge-Sharing-Platform-with-AI-Assist/websocket"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}
	if err := config.Initialize(env); err != nil {
		slog.Error("failed to initialize config", "error", err)
		os.Exit(1)
	}
	cfg := config.Get()

	// Each relay instance gets a unique origin id; it tags every envelope
	// published to the bus so the instance can ignore its own echo.
	instanceID := uuid.New().String()
	slog.Info("starting review relay instance", "instance", instanceID)

	if cfg.Metrics.Enabled {
		metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	// A failed bus setup degrades the relay to single-instance delivery;
	// it is logged, not fatal.
	var redisClient *redis.Client
	messageBroker := initBroker(ctx, cfg, instanceID, &redisClient)
	if messageBroker != nil {
		defer messageBroker.Close()
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	registry := session.NewRegistry()
	manager := websocket.NewManager()
	router := websocket.NewRouter(registry, manager, messageBroker, instanceID)
	presence := websocket.NewPresence(router, registry)
	handler := websocket.NewHandler(manager, registry, router, presence, cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.HandleWebSocket)
	mux.Handle("/docsync/", docsync.NewHandler(
		cfg.Server.AllowedOrigin,
		time.Duration(cfg.WebSocket.WriteTimeout)*time.Second,
	))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := server.NewServer(addr, mux,
		time.Duration(cfg.Server.ReadTimeout)*time.Second,
		time.Duration(cfg.Server.WriteTimeout)*time.Second,
	)

	busCtx, stopBus := context.WithCancel(ctx)
	defer stopBus()
	go router.ListenBus(busCtx)

	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()
	slog.Info("review relay listening", "addr", addr, "allowed_origin", cfg.Server.AllowedOrigin)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	slog.Info("shutdown signal received")

	// Drain: refuse new connections, let in-flight deliveries and bus
	// publishes finish, then tear down the bus and the remaining clients.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown did not complete cleanly", "error", err)
	}
	manager.WaitForCompletion()
	stopBus()
	manager.CloseAllConnections("server shutting down")
	slog.Info("review relay stopped")
}

// initBroker builds the configured bus backend. The redis client, when one
// is created, is returned through redisClientOut so main can close it last.
func initBroker(ctx context.Context, cfg *config.AppConfig, instanceID string, redisClientOut **redis.Client) broker.MessageBroker {
	slog.Info("initializing message broker", "type", cfg.Broker.Type, "channel", cfg.Broker.Channel)

	switch strings.ToLower(cfg.Broker.Type) {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Broker.Redis.Address,
			Password: cfg.Broker.Redis.Password,
			DB:       cfg.Broker.Redis.DB,
			PoolSize: cfg.Broker.Redis.PoolSize,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			// The subscription loop keeps retrying, so a bus that is down
			// at startup only delays cross-instance relay.
			slog.Warn("redis not reachable yet, continuing with degraded cross-instance relay", "error", err)
		}
		*redisClientOut = client
		return broker.NewRedisBroker(client, cfg.Broker.Channel)

	case "kafka":
		// Distinct group per instance: every relay must see every envelope.
		groupID := cfg.Broker.Kafka.GroupID + "-" + instanceID
		kafkaBroker, err := broker.NewKafkaBroker(cfg.Broker.Kafka.Brokers, groupID, cfg.Broker.Channel)
		if err != nil {
			slog.Warn("kafka broker unavailable, running single-instance", "error", err)
			return nil
		}
		return kafkaBroker

	case "nats":
		natsBroker, err := broker.NewNatsBroker(cfg.Broker.Nats.URL, "review-relay-"+instanceID, cfg.Broker.Channel)
		if err != nil {
			slog.Warn("nats broker unavailable, running single-instance", "error", err)
			return nil
		}
		return natsBroker

	default:
		// Config validation rejects this earlier; guard anyway.
		slog.Error("invalid broker type", "type", cfg.Broker.Type)
		os.Exit(1)
		return nil
	}
}
