package domain

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/bytedance/sonic"
)

// TaskFields is a task as it appeared on the wire. A nil field was absent
// from the payload; a field pointing at "" was sent empty or null and clears
// the stored value.
type TaskFields struct {
	ID              string     `json:"id"`
	Title           *string    `json:"title,omitempty"`
	Description     *string    `json:"description,omitempty"`
	Status          *string    `json:"status,omitempty"`
	AssignedUserID  *string    `json:"assignedUserId,omitempty"`
	AssignedToEmail *string    `json:"assignedToEmail,omitempty"`
	CreatedAt       *time.Time `json:"createdAt,omitempty"`
	UpdatedAt       *time.Time `json:"updatedAt,omitempty"`
}

// FieldsOf treats t as a complete snapshot: every string field is present,
// zero times are left out.
func FieldsOf(t Task) TaskFields {
	f := TaskFields{
		ID:              t.ID,
		Title:           &t.Title,
		Description:     &t.Description,
		Status:          &t.Status,
		AssignedUserID:  &t.AssignedUserID,
		AssignedToEmail: &t.AssignedToEmail,
	}
	if !t.CreatedAt.IsZero() {
		f.CreatedAt = &t.CreatedAt
	}
	if !t.UpdatedAt.IsZero() {
		f.UpdatedAt = &t.UpdatedAt
	}
	return f
}

// Task materialises the fields, leaving absent ones zero.
func (f TaskFields) Task() Task {
	t := Task{ID: f.ID}
	f.ApplyTo(&t)
	if f.UpdatedAt != nil {
		t.UpdatedAt = *f.UpdatedAt
	}
	return t
}

// ApplyTo copies every present field over dst. UpdatedAt is left to the
// caller.
func (f TaskFields) ApplyTo(dst *Task) {
	set := func(to *string, v *string) {
		if v != nil {
			*to = *v
		}
	}
	set(&dst.Title, f.Title)
	set(&dst.Description, f.Description)
	set(&dst.Status, f.Status)
	set(&dst.AssignedUserID, f.AssignedUserID)
	set(&dst.AssignedToEmail, f.AssignedToEmail)
	if f.CreatedAt != nil && !f.CreatedAt.IsZero() {
		dst.CreatedAt = *f.CreatedAt
	}
}

// decodeTaskFields reads a task object, recording which keys it carried.
func decodeTaskFields(raw json.RawMessage) (*TaskFields, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	var t Task
	if err := sonic.Unmarshal(raw, &t); err != nil {
		return nil, err
	}
	var keys map[string]json.RawMessage
	if err := sonic.Unmarshal(raw, &keys); err != nil {
		return nil, err
	}
	present := func(key string, v string) *string {
		if _, ok := keys[key]; !ok {
			return nil
		}
		return &v
	}
	f := &TaskFields{
		ID:              t.ID,
		Title:           present("title", t.Title),
		Description:     present("description", t.Description),
		Status:          present("status", t.Status),
		AssignedUserID:  present("assignedUserId", t.AssignedUserID),
		AssignedToEmail: present("assignedToEmail", t.AssignedToEmail),
	}
	if !t.CreatedAt.IsZero() {
		f.CreatedAt = &t.CreatedAt
	}
	if !t.UpdatedAt.IsZero() {
		f.UpdatedAt = &t.UpdatedAt
	}
	return f, nil
}
