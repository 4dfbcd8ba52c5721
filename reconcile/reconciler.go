// Package reconcile folds task envelopes into the locally held task list.
package reconcile

import (
	"time"

	log "github.com/sirupsen/logrus"

	"prism-live/domain"
)

// Change reports what applying an envelope did to the collection.
type Change int

const (
	Ignored Change = iota
	Inserted
	Merged
	Patched
)

func (c Change) String() string {
	switch c {
	case Inserted:
		return "inserted"
	case Merged:
		return "merged"
	case Patched:
		return "patched"
	}
	return "ignored"
}

// Reconciler keeps tasks in insertion order. It is not safe for concurrent
// use.
type Reconciler struct {
	logger *log.Logger
	now    func() time.Time

	order []string
	tasks map[string]domain.Task
	last  time.Time
}

// New returns an empty reconciler. now defaults to time.Now.
func New(now func() time.Time, logger *log.Logger) *Reconciler {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Reconciler{logger: logger, now: now, tasks: make(map[string]domain.Task)}
}

// stamp returns the arrival time, nudged forward so consecutive stamps are
// strictly increasing even when the clock does not move.
func (r *Reconciler) stamp() time.Time {
	t := r.now().UTC()
	if !t.After(r.last) {
		t = r.last.Add(time.Millisecond)
	}
	r.last = t
	return t
}

// Apply folds one validated envelope into the collection.
func (r *Reconciler) Apply(env domain.Envelope) Change {
	switch env.Kind {
	case domain.KindCreated, domain.KindUpdated, domain.KindAssigned:
		fields, ok := env.Changes()
		if !ok || fields.ID == "" {
			return Ignored
		}
		return r.upsert(fields)
	case domain.KindStatusChanged:
		return r.patchStatus(env.TaskID, env.Status)
	}
	return Ignored
}

// MergeTask upserts a complete snapshot returned by a direct API call.
func (r *Reconciler) MergeTask(t domain.Task) Change {
	if t.ID == "" {
		return Ignored
	}
	return r.upsert(domain.FieldsOf(t))
}

// RemoveTask drops id and reports whether it was held.
func (r *Reconciler) RemoveTask(id string) bool {
	if _, ok := r.tasks[id]; !ok {
		return false
	}
	delete(r.tasks, id)
	for i, cur := range r.order {
		if cur == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// upsert inserts the task or shallow-merges every field the update carries,
// empty values included, over the held copy.
func (r *Reconciler) upsert(f domain.TaskFields) Change {
	at := r.stamp()
	cur, ok := r.tasks[f.ID]
	if !ok {
		in := f.Task()
		if in.CreatedAt.IsZero() {
			in.CreatedAt = at
		}
		in.UpdatedAt = at
		r.tasks[in.ID] = in
		r.order = append(r.order, in.ID)
		r.logger.WithField("task", in.ID).Debug("task inserted")
		return Inserted
	}
	f.ApplyTo(&cur)
	cur.UpdatedAt = at
	r.tasks[f.ID] = cur
	return Merged
}

func (r *Reconciler) patchStatus(id, status string) Change {
	cur, ok := r.tasks[id]
	if !ok {
		r.logger.WithField("task", id).Debug("status change for unknown task ignored")
		return Ignored
	}
	cur.Status = status
	cur.UpdatedAt = r.stamp()
	r.tasks[id] = cur
	return Patched
}

func (r *Reconciler) Get(id string) (domain.Task, bool) {
	t, ok := r.tasks[id]
	return t, ok
}

// Snapshot returns a copy of the collection in insertion order.
func (r *Reconciler) Snapshot() []domain.Task {
	out := make([]domain.Task, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tasks[id])
	}
	return out
}

func (r *Reconciler) Len() int { return len(r.order) }
