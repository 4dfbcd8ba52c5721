package reconcile

import (
	"testing"
	"time"

	"prism-live/domain"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func TestRepeatedUpsertOnlyMovesUpdatedAt(t *testing.T) {
	r := New(fixedClock(), nil)
	env := domain.Envelope{Kind: domain.KindUpdated, Task: &domain.Task{
		ID: "T1", Title: "Write report", Status: domain.StatusPending, AssignedUserID: "u1",
	}}

	if c := r.Apply(env); c != Inserted {
		t.Fatalf("expected insert, got %s", c)
	}
	first, _ := r.Get("T1")
	if c := r.Apply(env); c != Merged {
		t.Fatalf("expected merge, got %s", c)
	}
	second, _ := r.Get("T1")

	if r.Len() != 1 {
		t.Fatalf("expected one entry, got %d", r.Len())
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Fatalf("updatedAt must strictly increase: %v then %v", first.UpdatedAt, second.UpdatedAt)
	}
	second.UpdatedAt = first.UpdatedAt
	if second != first {
		t.Fatalf("snapshot changed: %+v vs %+v", first, second)
	}
}

func wire(t *testing.T, event, data string) domain.Envelope {
	t.Helper()
	env, err := domain.DecodeEnvelope(domain.Frame{Event: event, Data: []byte(data)})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env
}

func TestMergeKeepsFieldsMissingFromUpdate(t *testing.T) {
	r := New(nil, nil)
	r.Apply(domain.Envelope{Kind: domain.KindCreated, Task: &domain.Task{
		ID: "T1", Title: "Old", Description: "keep me", Status: domain.StatusPending,
	}})
	r.Apply(wire(t, domain.EventTaskAssigned, `{"task":{"id":"T1","assignedToEmail":"bob@example.com"}}`))

	got, _ := r.Get("T1")
	if got.Title != "Old" || got.Description != "keep me" || got.AssignedToEmail != "bob@example.com" {
		t.Fatalf("unexpected merge result %+v", got)
	}
	if got.Status != domain.StatusPending {
		t.Fatalf("status lost: %+v", got)
	}
}

func TestMergeAppliesClearedFields(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"empty strings", `{"task":{"id":"T1","description":"","assignedUserId":"","assignedToEmail":""}}`},
		{"nulls", `{"task":{"id":"T1","description":null,"assignedUserId":null,"assignedToEmail":null}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := New(nil, nil)
			r.Apply(domain.Envelope{Kind: domain.KindCreated, Task: &domain.Task{
				ID: "T1", Title: "Report", Description: "old", AssignedUserID: "u1", AssignedToEmail: "u1@x",
			}})
			if c := r.Apply(wire(t, domain.EventTaskUpdated, tc.data)); c != Merged {
				t.Fatalf("expected merge, got %s", c)
			}
			got, _ := r.Get("T1")
			if got.Description != "" || got.AssignedUserID != "" || got.AssignedToEmail != "" {
				t.Fatalf("cleared fields kept: %+v", got)
			}
			if got.Title != "Report" {
				t.Fatalf("absent title changed: %+v", got)
			}
			if got.AssignedTo(domain.Identity{UserID: "u1", Email: "u1@x"}) {
				t.Fatal("task still assigned to previous user")
			}
		})
	}
}

func TestMergeTaskIsCompleteSnapshot(t *testing.T) {
	r := New(nil, nil)
	r.MergeTask(domain.Task{ID: "T1", Title: "Report", Description: "old", AssignedUserID: "u1"})
	r.MergeTask(domain.Task{ID: "T1", Title: "Report"})

	got, _ := r.Get("T1")
	if got.Description != "" || got.AssignedUserID != "" {
		t.Fatalf("API response did not replace fields: %+v", got)
	}
}

func TestStatusChangeForUnknownTaskIsIgnored(t *testing.T) {
	r := New(nil, nil)
	c := r.Apply(domain.Envelope{Kind: domain.KindStatusChanged, TaskID: "ghost", Status: domain.StatusCompleted})
	if c != Ignored {
		t.Fatalf("expected ignored, got %s", c)
	}
	if r.Len() != 0 {
		t.Fatalf("status change must not insert, got %d entries", r.Len())
	}
}

func TestStatusChangePatchesOnlyStatus(t *testing.T) {
	r := New(nil, nil)
	r.Apply(domain.Envelope{Kind: domain.KindCreated, Task: &domain.Task{ID: "T1", Title: "A", Status: domain.StatusPending}})
	before, _ := r.Get("T1")

	c := r.Apply(domain.Envelope{Kind: domain.KindStatusChanged, TaskID: "T1", Status: domain.StatusInProgress})
	if c != Patched {
		t.Fatalf("expected patch, got %s", c)
	}
	after, _ := r.Get("T1")
	if after.Status != domain.StatusInProgress || after.Title != "A" {
		t.Fatalf("unexpected task %+v", after)
	}
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Fatal("updatedAt not bumped")
	}
}

func TestInsertStampsArrivalTime(t *testing.T) {
	clock := fixedClock()
	r := New(clock, nil)
	r.Apply(domain.Envelope{Kind: domain.KindCreated, Task: &domain.Task{ID: "T1"}})
	got, _ := r.Get("T1")
	if !got.CreatedAt.Equal(clock()) || !got.UpdatedAt.Equal(clock()) {
		t.Fatalf("expected arrival stamps, got created=%v updated=%v", got.CreatedAt, got.UpdatedAt)
	}

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.MergeTask(domain.Task{ID: "T2", CreatedAt: created})
	got, _ = r.Get("T2")
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("server createdAt overwritten: %v", got.CreatedAt)
	}
}

func TestSnapshotKeepsInsertionOrder(t *testing.T) {
	r := New(nil, nil)
	for _, id := range []string{"c", "a", "b"} {
		r.MergeTask(domain.Task{ID: id})
	}
	r.MergeTask(domain.Task{ID: "a", Title: "again"})
	if !r.RemoveTask("c") || r.RemoveTask("c") {
		t.Fatal("remove should succeed once")
	}

	snap := r.Snapshot()
	if len(snap) != 2 || snap[0].ID != "a" || snap[1].ID != "b" {
		t.Fatalf("unexpected order %+v", snap)
	}
	snap[0].Title = "mutated"
	if got, _ := r.Get("a"); got.Title != "again" {
		t.Fatal("snapshot must be a copy")
	}
}
