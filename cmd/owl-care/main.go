package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"owl-care/common/logger"
	mqttcommon "owl-care/common/mqtt"
	rediscommon "owl-care/common/redis"
	"owl-care/internal/backend"
	"owl-care/internal/config"
	"owl-care/internal/consumer"
	httpapi "owl-care/internal/http"
	"owl-care/internal/metrics"
	"owl-care/internal/mutation"
	"owl-care/internal/placeholder"
	"owl-care/internal/projection"
	"owl-care/internal/resources"
	"owl-care/internal/service"
	"owl-care/internal/store"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "owl-care")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	registry := resources.NewRegistry(resources.Options{RoundHours: cfg.RoundHours})
	collector := metrics.NewCollector(cfg.MetricsNamespace)
	st := store.New(log)
	gen := placeholder.NewGenerator(nil)

	client := backend.NewClient(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.Timeout,
		Token:   cfg.Backend.Token,
	}, log)

	// 快照缓存（可选）
	var persister *store.Persister
	var redisClient *rediscommon.Client
	if cfg.Redis.Enabled {
		redisClient = rediscommon.NewRedisClient(&cfg.Redis)
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rediscommon.Ping(pingCtx, redisClient); err != nil {
			log.Warn("Redis unavailable, snapshot cache disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			_ = rediscommon.Close(redisClient)
			redisClient = nil
		} else {
			persister = store.NewPersister(store.NewRedisKV(redisClient), cfg.Redis.TTL, log)
			log.Info("Snapshot cache enabled", zap.String("addr", cfg.Redis.Addr))
		}
		pingCancel()
	}

	exec := mutation.New(st, client, registry, log,
		mutation.WithGenerator(gen),
		mutation.WithObserver(collector),
	)
	svc := service.NewSyncService(service.Deps{
		Registry:  registry,
		Store:     st,
		Backend:   client,
		Executor:  exec,
		Projector: projection.NewProjector(gen),
		Persister: persister,
		Observer:  collector,
		Logger:    log,

		// 后端请求超时之后还要留出读取快照的时间
		LoadTimeout: 2 * cfg.Backend.Timeout,
	})

	router := httpapi.NewRouter(httpapi.Options{
		Rows:    httpapi.NewRowsHandler(svc, log),
		Metrics: collector.Handler(),
		Logger:  log,
	})
	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 变更通知（可选）
	var mqttClient *mqttcommon.Client
	var changes *consumer.MQTTConsumer
	if cfg.MQTT.Enabled {
		mqttClient, err = mqttcommon.NewClient(&cfg.MQTT, log)
		if err != nil {
			log.Warn("MQTT unavailable, change notifications disabled", zap.String("broker", cfg.MQTT.Broker), zap.Error(err))
		} else {
			changes = consumer.NewMQTTConsumer(mqttClient, svc, consumer.Options{
				Topic: cfg.MQTT.Topic,
				QoS:   cfg.MQTT.QoS,
				Known: func(resource string) bool {
					_, ok := registry.Get(resource)
					return ok
				},
				Observer: collector,
			}, log)
			go func() {
				if err := changes.Start(ctx); err != nil {
					log.Error("MQTT consumer failed", zap.Error(err))
				}
			}()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("HTTP server failed", zap.Error(err))
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	if changes != nil {
		_ = changes.Stop(shutdownCtx)
	}
	if mqttClient != nil {
		mqttClient.Disconnect()
	}
	_ = rediscommon.Close(redisClient)
}
