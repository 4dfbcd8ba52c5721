package domain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// Kind identifies the lifecycle event an Envelope carries.
type Kind string

const (
	KindCreated       Kind = "created"
	KindUpdated       Kind = "updated"
	KindAssigned      Kind = "assigned"
	KindStatusChanged Kind = "statusChanged"
)

// Kinds lists every envelope kind in a stable order.
var Kinds = []Kind{KindCreated, KindUpdated, KindAssigned, KindStatusChanged}

// Inbound event names pushed by the notification server.
const (
	EventTaskCreated       = "taskCreated"
	EventTaskUpdated       = "taskUpdated"
	EventTaskAssigned      = "taskAssigned"
	EventTaskStatusUpdated = "taskStatusUpdated"
)

var (
	eventKinds = map[string]Kind{
		EventTaskCreated:       KindCreated,
		EventTaskUpdated:       KindUpdated,
		EventTaskAssigned:      KindAssigned,
		EventTaskStatusUpdated: KindStatusChanged,
	}
	kindEvents = map[Kind]string{
		KindCreated:       EventTaskCreated,
		KindUpdated:       EventTaskUpdated,
		KindAssigned:      EventTaskAssigned,
		KindStatusChanged: EventTaskStatusUpdated,
	}
)

var (
	ErrUnknownEvent  = errors.New("unknown event")
	ErrUnknownKind   = errors.New("unknown envelope kind")
	ErrMissingTask   = errors.New("missing task")
	ErrMissingTaskID = errors.New("missing task id")
	ErrMissingStatus = errors.New("missing status")
)

// Envelope is one task lifecycle event.
type Envelope struct {
	Kind    Kind
	Task    *Task
	TaskID  string
	Status  string
	Actor   string
	Message string

	// Fields records which task fields the payload carried. It is set by
	// DecodeEnvelope; when nil, Task is a complete snapshot.
	Fields *TaskFields
}

// Changes returns the task fields the envelope sets.
func (e Envelope) Changes() (TaskFields, bool) {
	if e.Fields != nil {
		return *e.Fields, true
	}
	if e.Task != nil {
		return FieldsOf(*e.Task), true
	}
	return TaskFields{}, false
}

// TargetID is the id of the task the envelope refers to.
func (e Envelope) TargetID() string {
	if e.Task != nil && e.Task.ID != "" {
		return e.Task.ID
	}
	return e.TaskID
}

// Validate checks that the envelope carries the fields its kind requires.
// Every kind but statusChanged needs a task with an id; statusChanged needs
// taskId and status.
func (e Envelope) Validate() error {
	switch e.Kind {
	case KindCreated, KindUpdated, KindAssigned:
		if e.Task == nil {
			return ErrMissingTask
		}
		if e.Task.ID == "" {
			return ErrMissingTaskID
		}
	case KindStatusChanged:
		if e.TaskID == "" {
			return ErrMissingTaskID
		}
		if e.Status == "" {
			return ErrMissingStatus
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	return nil
}

// envelopeBody is the data object of an inbound task event frame.
type envelopeBody struct {
	Task      json.RawMessage `json:"task,omitempty"`
	TaskID    string          `json:"taskId,omitempty"`
	Status    string          `json:"status,omitempty"`
	Message   string          `json:"message,omitempty"`
	Actor     string          `json:"actor,omitempty"`
	CreatedBy string          `json:"createdBy,omitempty"`
	UpdatedBy string          `json:"updatedBy,omitempty"`
}

// IsTaskEvent reports whether a frame event name is an inbound task event.
func IsTaskEvent(event string) bool {
	_, ok := eventKinds[event]
	return ok
}

// DecodeEnvelope converts an inbound frame into an Envelope. It does not
// validate required fields; see Envelope.Validate.
func DecodeEnvelope(f Frame) (Envelope, error) {
	kind, ok := eventKinds[f.Event]
	if !ok {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
	var body envelopeBody
	if len(f.Data) > 0 {
		if err := sonic.Unmarshal(f.Data, &body); err != nil {
			return Envelope{}, fmt.Errorf("decode %s: %w", f.Event, err)
		}
	}
	fields, err := decodeTaskFields(body.Task)
	if err != nil {
		return Envelope{}, fmt.Errorf("decode %s task: %w", f.Event, err)
	}
	var task *Task
	if fields != nil {
		t := fields.Task()
		task = &t
	}
	actor := body.Actor
	if actor == "" {
		actor = body.UpdatedBy
	}
	if actor == "" {
		actor = body.CreatedBy
	}
	return Envelope{
		Kind:    kind,
		Task:    task,
		TaskID:  body.TaskID,
		Status:  body.Status,
		Actor:   actor,
		Message: body.Message,
		Fields:  fields,
	}, nil
}

// EncodeEnvelope converts an Envelope into the frame the server would push.
func EncodeEnvelope(e Envelope) (Frame, error) {
	event, ok := kindEvents[e.Kind]
	if !ok {
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	body := envelopeBody{
		TaskID:  e.TaskID,
		Status:  e.Status,
		Message: e.Message,
		Actor:   e.Actor,
	}
	if fields, ok := e.Changes(); ok {
		raw, err := sonic.Marshal(fields)
		if err != nil {
			return Frame{}, fmt.Errorf("encode %s task: %w", event, err)
		}
		body.Task = raw
	}
	return NewFrame(event, body)
}

// rawString is used by room frames whose payload is a bare JSON string.
func rawString(s string) (json.RawMessage, error) {
	return sonic.Marshal(s)
}
