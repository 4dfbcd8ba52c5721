package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-live/config"
	"prism-live/relay"
)

func main() {
	cfg, err := config.LoadRelay()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	var auth *relay.Auth
	if cfg.TestMode {
		logger.Warn("auth test mode enabled, accepting HS256 tokens")
		auth = relay.NewTestAuth([]byte(cfg.TestSecret))
	} else {
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.AuthDomain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
		auth = relay.NewAuth(jwks, cfg.AuthAudience, "https://"+cfg.AuthDomain+"/")
	}

	hub := relay.NewHub(logger)
	srv := relay.NewServer(hub, auth, cfg.PublishToken, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if cfg.RedisConnectionString != "" {
		redisOpts, err := config.RedisOptions(cfg.RedisConnectionString)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc := redis.NewClient(redisOpts)
		defer rc.Close()
		go relay.SubscribeUpdates(ctx, logger, rc, cfg.UpdatesChannel, srv.Publish)
		logger.WithField("channel", cfg.UpdatesChannel).Info("listening for task events on redis")
	}

	if cfg.QueueConnectionString != "" && cfg.QueueName != "" {
		q, err := relay.NewAzureQueue(ctx, cfg.QueueConnectionString, cfg.QueueName)
		if err != nil {
			log.Fatalf("queue: %v", err)
		}
		go relay.ConsumeQueue(ctx, logger, q, cfg.QueuePollInterval, srv.Publish)
		logger.WithField("queue", cfg.QueueName).Info("consuming task events from storage queue")
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.Addr).Info("relay listening")
		errCh <- srv.Start(cfg.Addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("shutdown")
		}
	}
}
