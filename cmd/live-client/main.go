package main

import (
	"context"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"prism-live/client"
	"prism-live/config"
	"prism-live/connection"
	"prism-live/notify"
	"prism-live/session"
	"prism-live/taskapi"
)

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	sess := session.New(cfg.APIURL, cfg.Token, logger)
	if cfg.Email != "" && cfg.Password != "" {
		id, err := sess.Login(ctx, cfg.Email, cfg.Password)
		if err != nil {
			log.Fatalf("login: %v", err)
		}
		logger.WithField("user", id.UserID).Info("logged in")
	}
	tasks := taskapi.New(sess.HTTP())

	c := client.New(client.Options{
		URL:          cfg.SocketURL,
		MaxAttempts:  cfg.MaxAttempts,
		RetryDelay:   cfg.RetryDelay,
		DialTimeout:  cfg.DialTimeout,
		ToastDelay:   cfg.ToastDelay,
		HistoryLimit: cfg.HistoryLimit,
		Logger:       logger,
	})
	defer c.Close()

	if err := c.OnStateChange(func(st connection.State) {
		entry := logger.WithFields(log.Fields{"status": st.Status, "attempt": st.Attempt})
		if st.Abandoned {
			entry.WithField("error", st.LastError).Error("giving up on live connection")
			stop()
			return
		}
		entry.Info("live connection state")
	}); err != nil {
		log.Fatalf("client: %v", err)
	}
	if err := c.OnToast(func(t notify.Toast, visible bool) {
		if visible {
			logger.WithFields(log.Fields{"kind": t.Kind, "task": t.TaskID}).Info(t.Message)
		}
	}); err != nil {
		log.Fatalf("client: %v", err)
	}
	for _, id := range cfg.TaskRooms {
		if err := c.JoinTaskRoom(id); err != nil {
			log.Fatalf("join task room %s: %v", id, err)
		}
	}

	if err := c.Bootstrap(ctx, sess, tasks); err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	logger.WithField("tasks", len(c.Tasks())).Info("live client started")

	<-ctx.Done()
	logger.WithFields(log.Fields{
		"tasks":         len(c.Tasks()),
		"notifications": len(c.Notifications()),
		"unseen":        c.Unseen(),
	}).Info("shutting down")
}
