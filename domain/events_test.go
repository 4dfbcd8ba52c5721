package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecodeEnvelopeTaskAssigned(t *testing.T) {
	f := Frame{
		Event: EventTaskAssigned,
		Data:  []byte(`{"task":{"id":"T1","title":"Write docs","status":"pending","assignedUserId":"u1"},"createdBy":"alice"}`),
	}
	env, err := DecodeEnvelope(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Kind != KindAssigned {
		t.Fatalf("expected kind assigned, got %s", env.Kind)
	}
	if env.Task == nil || env.Task.ID != "T1" || env.Task.AssignedUserID != "u1" {
		t.Fatalf("unexpected task %+v", env.Task)
	}
	if env.Actor != "alice" {
		t.Fatalf("expected actor from createdBy, got %q", env.Actor)
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestDecodeEnvelopePrefersUpdatedBy(t *testing.T) {
	f := Frame{Event: EventTaskStatusUpdated, Data: []byte(`{"taskId":"T1","status":"completed","createdBy":"a","updatedBy":"b"}`)}
	env, err := DecodeEnvelope(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Actor != "b" {
		t.Fatalf("expected updatedBy actor, got %q", env.Actor)
	}
	if env.TargetID() != "T1" {
		t.Fatalf("unexpected target %q", env.TargetID())
	}
}

func TestDecodeEnvelopeUnknownEvent(t *testing.T) {
	_, err := DecodeEnvelope(Frame{Event: "chatMessage"})
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestEnvelopeValidate(t *testing.T) {
	cases := []struct {
		name string
		env  Envelope
		want error
	}{
		{"created without task", Envelope{Kind: KindCreated}, ErrMissingTask},
		{"updated without id", Envelope{Kind: KindUpdated, Task: &Task{Title: "x"}}, ErrMissingTaskID},
		{"bare status change", Envelope{Kind: KindStatusChanged, TaskID: "T1", Status: StatusCompleted}, nil},
		{"status change without status", Envelope{Kind: KindStatusChanged, TaskID: "T1"}, ErrMissingStatus},
		{"status change without id", Envelope{Kind: KindStatusChanged, Status: StatusPending, Task: &Task{ID: "T1"}}, ErrMissingTaskID},
		{"unknown kind", Envelope{Kind: "deleted", Task: &Task{ID: "T1"}}, ErrUnknownKind},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.env.Validate()
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected valid, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestEncodeEnvelopeRoundTrip(t *testing.T) {
	in := Envelope{Kind: KindUpdated, Task: &Task{ID: "T9", Title: "Ship"}, Actor: "bob"}
	f, err := EncodeEnvelope(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if f.Event != EventTaskUpdated {
		t.Fatalf("unexpected event %s", f.Event)
	}
	out, err := DecodeEnvelope(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Task.ID != "T9" || out.Actor != "bob" {
		t.Fatalf("unexpected envelope %+v", out)
	}
}

func TestRoomFrameArgs(t *testing.T) {
	f, err := RoomFrame(EventJoinTaskRoom, "T1")
	if err != nil {
		t.Fatalf("room frame: %v", err)
	}
	raw, err := MarshalFrame(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := UnmarshalFrame(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	arg, err := back.StringArg()
	if err != nil || arg != "T1" {
		t.Fatalf("expected T1, got %q (%v)", arg, err)
	}

	admin, _ := RoomFrame(EventJoinAdminRoom, "")
	if len(admin.Data) != 0 {
		t.Fatalf("admin frame should carry no payload, got %s", admin.Data)
	}
	if _, err := UnmarshalFrame([]byte(`{"data":1}`)); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("expected ErrEmptyFrame, got %v", err)
	}
}

func TestTaskAssignedTo(t *testing.T) {
	task := Task{ID: "T1", AssignedToEmail: "U1@example.com"}
	if !task.AssignedTo(Identity{UserID: "other", Email: "u1@example.com"}) {
		t.Fatal("expected email match")
	}
	if (Task{ID: "T2"}).AssignedTo(Identity{}) {
		t.Fatal("unassigned task must not match empty identity")
	}
}

func TestEncodeEnvelopeOmitsZeroTimes(t *testing.T) {
	f, err := EncodeEnvelope(Envelope{Kind: KindCreated, Task: &Task{ID: "T1", Title: "Ship"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	data := string(f.Data)
	if strings.Contains(data, "0001-01-01") || strings.Contains(data, "createdAt") {
		t.Fatalf("zero time encoded: %s", data)
	}

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f, _ = EncodeEnvelope(Envelope{Kind: KindCreated, Task: &Task{ID: "T1", CreatedAt: at}})
	env, err := DecodeEnvelope(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !env.Task.CreatedAt.Equal(at) {
		t.Fatalf("createdAt lost: %v", env.Task.CreatedAt)
	}
}

func TestDecodeEnvelopeRecordsPresentFields(t *testing.T) {
	env, err := DecodeEnvelope(Frame{
		Event: EventTaskUpdated,
		Data:  []byte(`{"task":{"id":"T1","title":"New","assignedUserId":null}}`),
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	f := env.Fields
	if f == nil || f.Title == nil || *f.Title != "New" {
		t.Fatalf("title not recorded: %+v", f)
	}
	if f.AssignedUserID == nil || *f.AssignedUserID != "" {
		t.Fatalf("null assignee should clear: %+v", f.AssignedUserID)
	}
	if f.Description != nil || f.Status != nil {
		t.Fatalf("absent fields recorded: %+v", f)
	}

	// re-encoding keeps the distinction between absent and cleared
	out, err := EncodeEnvelope(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	again, err := DecodeEnvelope(out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if again.Fields.Description != nil || again.Fields.AssignedUserID == nil {
		t.Fatalf("fields changed across re-encode: %s", out.Data)
	}
}
