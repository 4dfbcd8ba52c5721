// Package taskapi is a client for the task CRUD endpoints. Responses are
// plain snapshots; callers fold them into the live task list.
package taskapi

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"prism-live/domain"
	"prism-live/httpclient"
)

var ErrMissingID = errors.New("task id is required")

type CreateRequest struct {
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	Status          string `json:"status,omitempty"`
	AssignedUserID  string `json:"assignedUserId,omitempty"`
	AssignedToEmail string `json:"assignedToEmail,omitempty"`
}

// UpdateRequest carries a partial update; nil fields are left unchanged.
type UpdateRequest struct {
	Title           *string `json:"title,omitempty"`
	Description     *string `json:"description,omitempty"`
	Status          *string `json:"status,omitempty"`
	AssignedUserID  *string `json:"assignedUserId,omitempty"`
	AssignedToEmail *string `json:"assignedToEmail,omitempty"`
}

type assignRequest struct {
	UserID string `json:"userId"`
}

type Client struct {
	http *httpclient.Client
}

func New(c *httpclient.Client) *Client {
	if c == nil {
		panic("http client is required")
	}
	return &Client{http: c}
}

// List returns all visible tasks, filtered by status when it is not empty.
func (c *Client) List(ctx context.Context, status string) ([]domain.Task, error) {
	path := "/tasks"
	if status != "" {
		path += "?" + url.Values{"status": {status}}.Encode()
	}
	var out []domain.Task
	if err := c.http.GetJSON(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, id string) (domain.Task, error) {
	if id == "" {
		return domain.Task{}, ErrMissingID
	}
	var out domain.Task
	if err := c.http.GetJSON(ctx, taskPath(id), &out); err != nil {
		return domain.Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	return out, nil
}

func (c *Client) Create(ctx context.Context, req CreateRequest) (domain.Task, error) {
	if req.Status == "" {
		req.Status = domain.StatusPending
	}
	var out domain.Task
	if err := c.http.PostJSON(ctx, "/tasks", req, &out); err != nil {
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}
	return out, nil
}

func (c *Client) Update(ctx context.Context, id string, req UpdateRequest) (domain.Task, error) {
	if id == "" {
		return domain.Task{}, ErrMissingID
	}
	var out domain.Task
	if err := c.http.PatchJSON(ctx, taskPath(id), req, &out); err != nil {
		return domain.Task{}, fmt.Errorf("update task %s: %w", id, err)
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrMissingID
	}
	if err := c.http.Delete(ctx, taskPath(id)); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

// Assign hands the task to userID.
func (c *Client) Assign(ctx context.Context, id, userID string) (domain.Task, error) {
	if id == "" {
		return domain.Task{}, ErrMissingID
	}
	var out domain.Task
	if err := c.http.PatchJSON(ctx, taskPath(id)+"/assign", assignRequest{UserID: userID}, &out); err != nil {
		return domain.Task{}, fmt.Errorf("assign task %s: %w", id, err)
	}
	return out, nil
}

func taskPath(id string) string { return "/tasks/" + url.PathEscape(id) }
