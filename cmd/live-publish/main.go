// Command live-publish injects one task event into a running relay, either
// through its Redis channel, its storage queue or the POST /events endpoint.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-live/config"
	"prism-live/domain"
	"prism-live/httpclient"
	"prism-live/relay"
)

func main() {
	var (
		via      = flag.String("via", "redis", "transport: redis, queue or http")
		relayURL = flag.String("relay", "http://localhost:3001", "relay base URL for -via http")
		kind     = flag.String("kind", string(domain.KindCreated), "event kind: created, updated, assigned or statusChanged")
		taskID   = flag.String("task", "", "task id")
		title    = flag.String("title", "", "task title")
		status   = flag.String("status", "", "task status")
		assignee = flag.String("assignee", "", "assigned user id")
		actor    = flag.String("actor", "", "user who made the change")
		message  = flag.String("message", "", "notification text overriding the template")
	)
	flag.Parse()

	cfg, err := config.LoadPublisher()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	env := domain.Envelope{Kind: domain.Kind(*kind), Actor: *actor, Message: *message}
	if env.Kind == domain.KindStatusChanged {
		env.TaskID, env.Status = *taskID, *status
	} else {
		env.Task = &domain.Task{
			ID:             *taskID,
			Title:          *title,
			Status:         *status,
			AssignedUserID: *assignee,
			UpdatedAt:      time.Now().UTC(),
		}
	}
	if err := env.Validate(); err != nil {
		log.Fatalf("event: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch *via {
	case "redis":
		if cfg.RedisConnectionString == "" {
			log.Fatal("missing REDIS_CONNECTION_STRING")
		}
		opts, err := config.RedisOptions(cfg.RedisConnectionString)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc := redis.NewClient(opts)
		defer rc.Close()
		err = relay.PublishUpdate(ctx, rc, cfg.UpdatesChannel, env)
		if err != nil {
			log.Fatalf("publish: %v", err)
		}
	case "queue":
		if cfg.QueueConnectionString == "" || cfg.QueueName == "" {
			log.Fatal("missing STORAGE_CONNECTION_STRING or TASK_EVENTS_QUEUE")
		}
		q, err := relay.NewAzureQueue(ctx, cfg.QueueConnectionString, cfg.QueueName)
		if err != nil {
			log.Fatalf("queue: %v", err)
		}
		if err := q.Enqueue(ctx, env); err != nil {
			log.Fatalf("enqueue: %v", err)
		}
	case "http":
		f, err := domain.EncodeEnvelope(env)
		if err != nil {
			log.Fatalf("encode: %v", err)
		}
		api := httpclient.New(*relayURL, func() string { return cfg.PublishToken })
		var out struct {
			Delivered int `json:"delivered"`
		}
		if err := api.PostJSON(ctx, "/events", f, &out); err != nil {
			log.Fatalf("post: %v", err)
		}
		log.WithField("sessions", out.Delivered).Info("event delivered")
		return
	default:
		log.Fatalf("unknown transport %q", *via)
	}
	log.WithFields(log.Fields{"via": *via, "kind": env.Kind, "task": env.TargetID()}).Info("event published")
}
