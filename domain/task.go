package domain

import (
	"strings"
	"time"
)

// Task statuses as reported by the server.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// Task is a snapshot of a single task as carried by events and CRUD responses.
type Task struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	Status          string    `json:"status,omitempty"`
	AssignedUserID  string    `json:"assignedUserId,omitempty"`
	AssignedToEmail string    `json:"assignedToEmail,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// AssignedTo reports whether the task is assigned to the given identity,
// matching either the user id or the email.
func (t Task) AssignedTo(id Identity) bool {
	if t.AssignedUserID != "" && t.AssignedUserID == id.UserID {
		return true
	}
	return t.AssignedToEmail != "" && strings.EqualFold(t.AssignedToEmail, id.Email)
}

// FormatStatus renders a status for humans: "in_progress" becomes "in progress".
func FormatStatus(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}
