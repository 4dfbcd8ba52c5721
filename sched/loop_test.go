package sched

import (
	"testing"
	"time"
)

func TestLoopRunsPostedWorkInOrder(t *testing.T) {
	l := NewLoop(nil)
	defer l.Close()

	var got []int
	for i := 0; i < 50; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	if err := l.Call(func() {}); err != nil {
		t.Fatalf("call: %v", err)
	}
	var n int
	if err := l.Call(func() { n = len(got) }); err != nil {
		t.Fatalf("call: %v", err)
	}
	if n != 50 {
		t.Fatalf("expected 50 tasks, got %d", n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran out of order: %v", i, got)
		}
	}
}

func TestLoopSurvivesPanickingTask(t *testing.T) {
	l := NewLoop(nil)
	defer l.Close()

	l.Post(func() { panic("boom") })
	ran := false
	if err := l.Call(func() { ran = true }); err != nil {
		t.Fatalf("call: %v", err)
	}
	if !ran {
		t.Fatal("loop stopped after panic")
	}
}

func TestLoopAfterFuncRunsOnLoopAndStops(t *testing.T) {
	l := NewLoop(nil)
	defer l.Close()

	fired := make(chan struct{}, 1)
	l.AfterFunc(10*time.Millisecond, func() { fired <- struct{}{} })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	stopped := l.AfterFunc(50*time.Millisecond, func() { fired <- struct{}{} })
	if !stopped.Stop() {
		t.Fatal("expected Stop to cancel pending timer")
	}
	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLoopCallAfterClose(t *testing.T) {
	l := NewLoop(nil)
	l.Close()
	if err := l.Call(func() {}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
