package dispatch

import (
	"errors"
	"testing"

	"prism-live/domain"
)

func assigned(id string) domain.Envelope {
	return domain.Envelope{Kind: domain.KindAssigned, Task: &domain.Task{ID: id, Title: "t"}}
}

func TestDispatchRunsHandlersInSubscriptionOrder(t *testing.T) {
	r := New(nil)
	var order []string
	r.On(domain.KindAssigned, func(domain.Envelope) { order = append(order, "first") })
	r.On(domain.KindAssigned, func(domain.Envelope) { order = append(order, "second") })
	r.On(domain.KindCreated, func(domain.Envelope) { order = append(order, "other") })
	r.On(domain.KindAssigned, func(domain.Envelope) { order = append(order, "third") })

	if err := r.Dispatch(assigned("T1")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

func TestDispatchIsolatesPanickingHandler(t *testing.T) {
	r := New(nil)
	ran := false
	r.On(domain.KindAssigned, func(domain.Envelope) { panic("handler bug") })
	r.On(domain.KindAssigned, func(domain.Envelope) { ran = true })

	if err := r.Dispatch(assigned("T1")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !ran {
		t.Fatal("second handler did not run after first panicked")
	}
	if got := r.Stats().HandlerFailures; got != 1 {
		t.Fatalf("expected 1 handler failure, got %d", got)
	}
}

func TestDispatchDropsMalformedEnvelope(t *testing.T) {
	r := New(nil)
	called := false
	r.OnAll(func(domain.Envelope) { called = true })

	err := r.Dispatch(domain.Envelope{Kind: domain.KindCreated})
	if !errors.Is(err, ErrMalformedEnvelope) || !errors.Is(err, domain.ErrMissingTask) {
		t.Fatalf("expected malformed envelope error, got %v", err)
	}
	if called {
		t.Fatal("malformed envelope reached a subscriber")
	}
	st := r.Stats()
	if st.Dropped != 1 || st.Dispatched != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	r := New(nil)
	var a, b int
	unsubA := r.On(domain.KindAssigned, func(domain.Envelope) { a++ })
	r.On(domain.KindAssigned, func(domain.Envelope) { b++ })

	unsubA()
	unsubA()
	if n := r.Subscribers(domain.KindAssigned); n != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n)
	}
	if err := r.Dispatch(assigned("T1")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if a != 0 || b != 1 {
		t.Fatalf("unexpected calls a=%d b=%d", a, b)
	}
}

func TestUnsubscribeDuringDispatch(t *testing.T) {
	r := New(nil)
	var calls []string
	var unsubSecond Unsubscribe
	r.On(domain.KindAssigned, func(domain.Envelope) {
		calls = append(calls, "first")
		unsubSecond()
	})
	unsubSecond = r.On(domain.KindAssigned, func(domain.Envelope) { calls = append(calls, "second") })

	_ = r.Dispatch(assigned("T1"))
	_ = r.Dispatch(assigned("T1"))
	if len(calls) != 3 || calls[2] != "first" {
		t.Fatalf("removal should apply from the next dispatch, got %v", calls)
	}
}

func TestOnAllSubscribesEveryKind(t *testing.T) {
	r := New(nil)
	var kinds []domain.Kind
	unsub := r.OnAll(func(env domain.Envelope) { kinds = append(kinds, env.Kind) })

	_ = r.Dispatch(domain.Envelope{Kind: domain.KindCreated, Task: &domain.Task{ID: "a"}})
	_ = r.Dispatch(domain.Envelope{Kind: domain.KindStatusChanged, TaskID: "a", Status: domain.StatusCompleted})
	unsub()
	_ = r.Dispatch(domain.Envelope{Kind: domain.KindUpdated, Task: &domain.Task{ID: "a"}})

	if len(kinds) != 2 || kinds[0] != domain.KindCreated || kinds[1] != domain.KindStatusChanged {
		t.Fatalf("unexpected kinds %v", kinds)
	}
}

func TestDispatchFrame(t *testing.T) {
	r := New(nil)
	var got domain.Envelope
	r.On(domain.KindStatusChanged, func(env domain.Envelope) { got = env })

	if err := r.DispatchFrame(domain.Frame{Event: domain.EventTaskStatusUpdated, Data: []byte(`{"taskId":"T1","status":"completed"}`)}); err != nil {
		t.Fatalf("dispatch frame: %v", err)
	}
	if got.TaskID != "T1" || got.Status != domain.StatusCompleted {
		t.Fatalf("unexpected envelope %+v", got)
	}
	if err := r.DispatchFrame(domain.Frame{Event: "pong"}); err != nil {
		t.Fatalf("non-task frame should be ignored, got %v", err)
	}
	if err := r.DispatchFrame(domain.Frame{Event: domain.EventTaskCreated, Data: []byte(`{"task":`)}); !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}
