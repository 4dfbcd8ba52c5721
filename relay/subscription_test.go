package relay

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"prism-live/domain"
)

func TestSubscribeUpdatesForwardsValidEvents(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan domain.Envelope, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		SubscribeUpdates(ctx, nil, client, "task-events", func(env domain.Envelope) { got <- env })
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	waitUntil(t, "subscriber", func() bool {
		n, err := client.PubSubNumSub(ctx, "task-events").Result()
		return err == nil && n["task-events"] == 1
	})

	if err := client.Publish(ctx, "task-events", "not json").Err(); err != nil {
		t.Fatalf("publish garbage: %v", err)
	}
	if err := client.Publish(ctx, "task-events", `{"event":"taskUpdated","data":{}}`).Err(); err != nil {
		t.Fatalf("publish invalid: %v", err)
	}
	env := domain.Envelope{Kind: domain.KindCreated, Task: &domain.Task{ID: "T1", Title: "Write code"}, Actor: "ann"}
	if err := PublishUpdate(ctx, client, "task-events", env); err != nil {
		t.Fatalf("publish update: %v", err)
	}

	select {
	case e := <-got:
		if e.Kind != domain.KindCreated || e.TargetID() != "T1" || e.Actor != "ann" {
			t.Fatalf("unexpected envelope %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	select {
	case e := <-got:
		t.Fatalf("unexpected extra envelope %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}
