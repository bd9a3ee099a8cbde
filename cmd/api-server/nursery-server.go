package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nursery/db"
	"nursery/db/migrations"
	"nursery/internal/auth"
	"nursery/internal/config"
	"nursery/internal/events"
	"nursery/internal/handlers"
	"nursery/internal/idempotency"
	"nursery/internal/logger"
	"nursery/internal/mailer"
	"nursery/internal/ratelimit"
	"nursery/internal/realtime"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logger.New("info", "console")
		l.Fatal().Err(err).Msg("load config")
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	dbConn, err := sqlx.Connect("postgres", cfg.PostgresConn)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot connect to DB")
	}
	defer dbConn.Close()

	if cfg.MigrationsEnabled {
		if err := migrations.Run(dbConn.DB); err != nil {
			log.Fatal().Err(err).Msg("migrations")
		}
	}

	store := db.NewStorage(dbConn)
	opts := []handlers.Option{handlers.WithLogger(log)}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		opts = append(opts, handlers.WithIdempotency(idempotency.NewRedisGuard(rdb, "nursery:order:", idempotency.DefaultTTL)))
	} else {
		log.Warn().Msg("REDIS_ADDR is not set, Idempotency-Key is ignored")
	}

	hub := realtime.NewHub()
	go hub.Run()
	defer hub.Stop()

	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()

	// с Kafka события идут через топик и возвращаются в хаб каждого экземпляра
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		publisher := events.NewKafkaPublisher(events.NewKafkaWriter(brokers, cfg.KafkaOrderTopic))
		defer publisher.Close()
		opts = append(opts, handlers.WithPublisher(publisher))

		reader := events.NewKafkaReader(brokers, cfg.KafkaOrderTopic, cfg.ConsumerGroup())
		relay := events.NewRelay(reader, hub, log)
		go func() {
			if err := relay.Run(relayCtx); err != nil {
				log.Error().Err(err).Msg("kafka relay stopped")
			}
		}()
	} else {
		opts = append(opts, handlers.WithPublisher(hub))
	}

	if cfg.MailAPIURL != "" {
		opts = append(opts, handlers.WithMailer(mailer.NewAPISender(cfg.MailAPIURL, cfg.MailAPIKey, cfg.MailFrom)))
	}

	h := handlers.NewHandler(store, opts...)
	router := handlers.NewRouter(h, handlers.RouterDeps{
		Verifier:       auth.NewVerifier(cfg.JWTSecret),
		OrderLimiter:   ratelimit.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).Limit,
		Websocket:      realtime.NewHandler(hub, cfg.AllowedOrigins(), log),
		AllowedOrigins: cfg.AllowedOrigins(),
	})

	srv := &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	shutdownCompleted := make(chan struct{}, 1)
	go func() {
		<-sigChan
		log.Info().Msg("received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown")
		}
		stopRelay()
		shutdownCompleted <- struct{}{}
	}()

	log.Info().Str("addr", srv.Addr).Msg("starting server")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server")
	}
	<-shutdownCompleted
	log.Info().Msg("shutdown completed")
}
