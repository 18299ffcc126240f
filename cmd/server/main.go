package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/trogers1052/trading-dashboard/internal/alert"
	"github.com/trogers1052/trading-dashboard/internal/api"
	"github.com/trogers1052/trading-dashboard/internal/config"
	"github.com/trogers1052/trading-dashboard/internal/dashboard"
	"github.com/trogers1052/trading-dashboard/internal/feed"
	"github.com/trogers1052/trading-dashboard/internal/kafka"
	"github.com/trogers1052/trading-dashboard/internal/logger"
	"github.com/trogers1052/trading-dashboard/internal/redis"
)

func main() {
	// Load configuration
	cfg := config.Load()

	base := logger.New(cfg.Log)
	log := base.WithField("component", "server")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	// Feed plumbing
	fetcher := feed.NewHTTPFetcher(
		cfg.API.BaseURL,
		feed.WithTimeout(cfg.API.Timeout),
		feed.WithRateLimit(cfg.API.RateLimit, cfg.API.RateBurst),
	)
	registry := feed.NewRegistry(fetcher, feed.NewMetrics(reg), logrus.NewEntry(base))
	alerts := alert.NewQueue(cfg.Alerts.TTL, logrus.NewEntry(base))

	session, err := dashboard.NewSession(
		registry,
		alerts,
		dashboard.NewAPIActions(fetcher),
		dashboard.Options{
			Descriptors:  dashboard.Catalog(cfg.Feeds),
			PnLThreshold: cfg.Alerts.PnLThreshold,
		},
		logrus.NewEntry(base),
	)
	if err != nil {
		log.WithError(err).Fatal("Failed to build dashboard session")
	}
	log.WithFields(logrus.Fields{
		"api":   cfg.API.BaseURL,
		"feeds": len(registry.Keys()),
	}).Info("Dashboard session ready")

	hub := api.NewHub(logrus.NewEntry(base))
	registry.Subscribe(hub.OnFeedState)
	alerts.Subscribe(hub.OnAlert)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handlerOpts := []api.HandlerOption{api.WithKafka(cfg.Kafka.Enabled)}

	// Connect to Redis
	var publisher *redis.Publisher
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(cfg.Redis)
		if err != nil {
			log.WithError(err).Warn("Failed to connect to Redis (continuing without fan-out)")
		} else {
			defer redisClient.Close()
			log.WithField("addr", cfg.Redis.Address()).Info("Connected to Redis")

			publisher = redis.NewPublisher(redisClient, 256, logrus.NewEntry(base))
			registry.Subscribe(publisher.OnFeedState)
			alerts.Subscribe(publisher.OnAlert)
			go publisher.Run(ctx)

			handlerOpts = append(handlerOpts, api.WithRedis(redisClient))
		}
	}

	// Create and start Kafka consumer for bot events
	var consumer *kafka.EventsConsumer
	if cfg.Kafka.Enabled {
		consumer = kafka.NewEventsConsumer(
			cfg.Kafka.Brokers,
			cfg.Kafka.EventsTopic,
			cfg.Kafka.ConsumerGroup,
			session.Alerts(),
			session,
			logrus.NewEntry(base),
		)
		go func() {
			log.WithFields(logrus.Fields{
				"topic": cfg.Kafka.EventsTopic,
				"group": cfg.Kafka.ConsumerGroup,
			}).Info("Starting Kafka events consumer")
			if err := consumer.Start(ctx); err != nil {
				log.WithError(err).Error("Kafka events consumer error")
			}
		}()
	}

	if err := session.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start feeds")
	}

	// Set up HTTP handler and routes
	handler := api.NewHandler(session, hub, logrus.NewEntry(base), handlerOpts...)
	router := api.SetupRoutes(handler, reg, api.NewHTTPMetrics(reg))

	// Create HTTP server
	addr := cfg.Server.Address()
	// No WriteTimeout: the stream endpoint holds connections open and its
	// pumps set their own deadlines
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithField("addr", addr).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Cancel context to stop Kafka consumer and Redis publisher
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	session.Dispose()

	if consumer != nil {
		if err := consumer.Close(); err != nil {
			log.WithError(err).Warn("Error closing Kafka events consumer")
		}
	}
	if publisher != nil {
		select {
		case <-publisher.Done():
		case <-shutdownCtx.Done():
		}
	}

	log.Info("Server stopped")
}
