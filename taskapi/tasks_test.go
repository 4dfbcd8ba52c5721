package taskapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"

	"prism-live/httpclient"
)

type recorded struct {
	method string
	path   string
	query  string
	body   map[string]any
}

func newServer(t *testing.T, status int, resp string) (*Client, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			_ = sonic.Unmarshal(data, &rec.body)
		}
		calls = append(calls, rec)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, resp)
	}))
	t.Cleanup(srv.Close)
	return New(httpclient.New(srv.URL, func() string { return "tok" })), &calls
}

func TestListWithStatusFilter(t *testing.T) {
	c, calls := newServer(t, http.StatusOK, `[{"id":"T1","title":"a","status":"pending"},{"id":"T2","title":"b","status":"pending"}]`)
	tasks, err := c.List(context.Background(), "pending")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 2 || tasks[1].ID != "T2" {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
	if got := (*calls)[0]; got.path != "/tasks" || got.query != "status=pending" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestCreateDefaultsStatus(t *testing.T) {
	c, calls := newServer(t, http.StatusCreated, `{"id":"T3","title":"new","status":"pending"}`)
	task, err := c.Create(context.Background(), CreateRequest{Title: "new"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.ID != "T3" {
		t.Fatalf("unexpected task %+v", task)
	}
	got := (*calls)[0]
	if got.method != http.MethodPost || got.body["status"] != "pending" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestUpdateSendsOnlySetFields(t *testing.T) {
	c, calls := newServer(t, http.StatusOK, `{"id":"T1","title":"a","status":"completed"}`)
	status := "completed"
	if _, err := c.Update(context.Background(), "T1", UpdateRequest{Status: &status}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got := (*calls)[0]
	if got.method != http.MethodPatch || got.path != "/tasks/T1" {
		t.Fatalf("unexpected request %+v", got)
	}
	if len(got.body) != 1 || got.body["status"] != "completed" {
		t.Fatalf("unexpected body %v", got.body)
	}
}

func TestAssignAndDelete(t *testing.T) {
	c, calls := newServer(t, http.StatusOK, `{"id":"T1","assignedUserId":"u2"}`)
	task, err := c.Assign(context.Background(), "T1", "u2")
	if err != nil || task.AssignedUserID != "u2" {
		t.Fatalf("assign: %+v %v", task, err)
	}
	if err := c.Delete(context.Background(), "T1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if (*calls)[0].path != "/tasks/T1/assign" || (*calls)[0].body["userId"] != "u2" {
		t.Fatalf("unexpected assign request %+v", (*calls)[0])
	}
	if (*calls)[1].method != http.MethodDelete {
		t.Fatalf("unexpected delete request %+v", (*calls)[1])
	}
}

func TestErrors(t *testing.T) {
	c, _ := newServer(t, http.StatusNotFound, `{"error":"not found"}`)
	if _, err := c.Get(context.Background(), "T404"); !httpclient.IsStatus(err, http.StatusNotFound) {
		t.Fatalf("expected 404, got %v", err)
	}
	if _, err := c.Get(context.Background(), ""); !errors.Is(err, ErrMissingID) {
		t.Fatalf("expected ErrMissingID, got %v", err)
	}
}
