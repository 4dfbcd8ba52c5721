package relay

import (
	"testing"
	"time"

	"prism-live/client"
	"prism-live/connection"
	"prism-live/domain"
)

func TestClientAgainstRelay(t *testing.T) {
	r := startRelay(t)

	c := client.New(client.Options{
		URL:         r.wsURL(),
		RetryDelay:  20 * time.Millisecond,
		DialTimeout: time.Second,
	})
	t.Cleanup(c.Close)

	me := domain.Identity{UserID: "u1", Email: "u1@example.com", Role: domain.RoleUser}
	if err := c.Connect(testToken(t, "u1", domain.RoleUser), &me); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitUntil(t, "user room", func() bool { return r.hub.Members(domain.UserRoom("u1")) == 1 })

	r.srv.Publish(domain.Envelope{
		Kind: domain.KindAssigned,
		Task: &domain.Task{ID: "T1", Title: "Ship it", Status: domain.StatusPending, AssignedUserID: "u1"},
	})
	r.srv.Publish(domain.Envelope{Kind: domain.KindStatusChanged, TaskID: "T1", Status: domain.StatusInProgress})

	waitUntil(t, "status change", func() bool {
		task, ok := c.Task("T1")
		return ok && task.Status == domain.StatusInProgress
	})
	if task, _ := c.Task("T1"); task.Title != "Ship it" {
		t.Fatalf("status change lost fields: %+v", task)
	}
	if n := len(c.Notifications()); n != 2 {
		t.Fatalf("expected 2 notifications, got %d", n)
	}
	if c.Unseen() != 2 {
		t.Fatalf("expected 2 unseen, got %d", c.Unseen())
	}

	// a normal close from the server ends the session without a retry
	if n := r.hub.Disconnect("u1"); n != 1 {
		t.Fatalf("expected one session closed, got %d", n)
	}
	waitUntil(t, "disconnect", func() bool { return !c.IsConnected() })
	time.Sleep(100 * time.Millisecond)
	st := c.State()
	if st.Status != connection.Disconnected || st.LastReason != connection.ReasonServer {
		t.Fatalf("unexpected state %+v", st)
	}
	if r.hub.Sessions() != 0 {
		t.Fatalf("client reconnected after a server close")
	}
}
