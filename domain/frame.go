package domain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// ErrEmptyFrame is returned for messages that carry no event name.
var ErrEmptyFrame = errors.New("frame without event")

// Outbound room-control event names.
const (
	EventJoinUserRoom   = "joinUserRoom"
	EventLeaveUserRoom  = "leaveUserRoom"
	EventJoinAdminRoom  = "joinAdminRoom"
	EventLeaveAdminRoom = "leaveAdminRoom"
	EventJoinTaskRoom   = "joinTaskRoom"
	EventLeaveTaskRoom  = "leaveTaskRoom"
)

// Server-side room names.
const (
	AdminRoom      = "admin"
	userRoomPrefix = "user:"
	taskRoomPrefix = "task:"
)

func UserRoom(userID string) string { return userRoomPrefix + userID }

func TaskRoom(taskID string) string { return taskRoomPrefix + taskID }

// Frame is one JSON text message on the live connection.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame builds a frame, encoding data unless it is nil.
func NewFrame(event string, data any) (Frame, error) {
	f := Frame{Event: event}
	if data == nil {
		return f, nil
	}
	raw, err := sonic.Marshal(data)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s: %w", event, err)
	}
	f.Data = raw
	return f, nil
}

// RoomFrame builds a room-control frame. Admin room frames carry no payload.
func RoomFrame(event, arg string) (Frame, error) {
	f := Frame{Event: event}
	if arg == "" {
		return f, nil
	}
	raw, err := rawString(arg)
	if err != nil {
		return Frame{}, err
	}
	f.Data = raw
	return f, nil
}

// StringArg decodes the payload of a room-control frame.
func (f Frame) StringArg() (string, error) {
	if len(f.Data) == 0 {
		return "", nil
	}
	var s string
	if err := sonic.Unmarshal(f.Data, &s); err != nil {
		return "", fmt.Errorf("decode %s argument: %w", f.Event, err)
	}
	return s, nil
}

func MarshalFrame(f Frame) ([]byte, error) { return sonic.Marshal(f) }

func UnmarshalFrame(data []byte) (Frame, error) {
	var f Frame
	if err := sonic.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	if f.Event == "" {
		return Frame{}, ErrEmptyFrame
	}
	return f, nil
}
