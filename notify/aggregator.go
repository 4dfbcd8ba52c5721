// Package notify turns dispatched task envelopes into notification records
// and toasts for the signed-in viewer.
package notify

import (
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"prism-live/domain"
)

// DefaultHistoryLimit bounds the notification history.
const DefaultHistoryLimit = 10

// Record is one entry of the notification history.
type Record struct {
	ID        string
	Kind      domain.Kind
	TaskID    string
	Title     string
	Message   string
	Timestamp time.Time
	Seen      bool
}

type Config struct {
	// Viewer returns the identity toasts are filtered for.
	Viewer func() domain.Identity
	// Lookup resolves a task from the reconciled collection.
	Lookup func(id string) (domain.Task, bool)
	Toaster *Toaster

	HistoryLimit int
	Now          func() time.Time
	NewID        func() string
	Logger       *log.Logger
}

// Aggregator keeps the bounded history (newest first) and the unseen count.
// Not safe for concurrent use.
type Aggregator struct {
	cfg     Config
	history []Record
	unseen  int
}

func NewAggregator(cfg Config) *Aggregator {
	if cfg.Toaster == nil {
		panic("toaster is required")
	}
	if cfg.Viewer == nil {
		cfg.Viewer = func() domain.Identity { return domain.Identity{} }
	}
	if cfg.Lookup == nil {
		cfg.Lookup = func(string) (domain.Task, bool) { return domain.Task{}, false }
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	return &Aggregator{cfg: cfg}
}

// Handle records env and shows a toast when it concerns the viewer.
func (a *Aggregator) Handle(env domain.Envelope) {
	id := env.TargetID()
	title := a.title(env, id)
	msg := Render(env, title)

	rec := Record{
		ID:        a.cfg.NewID(),
		Kind:      env.Kind,
		TaskID:    id,
		Title:     title,
		Message:   msg,
		Timestamp: a.cfg.Now(),
	}
	a.history = append([]Record{rec}, a.history...)
	if len(a.history) > a.cfg.HistoryLimit {
		a.history = a.history[:a.cfg.HistoryLimit]
	}
	a.unseen++

	viewer := a.cfg.Viewer()
	if !a.relevant(env, id, viewer) {
		a.cfg.Logger.WithFields(log.Fields{"kind": env.Kind, "task": id}).Debug("notification recorded without toast")
		return
	}
	a.cfg.Toaster.Show(Toast{Message: msg, Kind: env.Kind, TaskID: id})
}

func (a *Aggregator) title(env domain.Envelope, id string) string {
	if env.Task != nil && env.Task.Title != "" {
		return env.Task.Title
	}
	if t, ok := a.cfg.Lookup(id); ok && t.Title != "" {
		return t.Title
	}
	return id
}

// relevant applies the toast rule: admins see everything, others only tasks
// assigned to them.
func (a *Aggregator) relevant(env domain.Envelope, id string, viewer domain.Identity) bool {
	if viewer.IsAdmin() {
		return true
	}
	if viewer.IsZero() {
		return false
	}
	if env.Task != nil && env.Task.AssignedTo(viewer) {
		return true
	}
	t, ok := a.cfg.Lookup(id)
	return ok && t.AssignedTo(viewer)
}

// MarkAllSeen zeroes the unseen counter and marks every record seen.
func (a *Aggregator) MarkAllSeen() {
	for i := range a.history {
		a.history[i].Seen = true
	}
	a.unseen = 0
}

// History returns a copy of the records, newest first.
func (a *Aggregator) History() []Record {
	out := make([]Record, len(a.history))
	copy(out, a.history)
	return out
}

func (a *Aggregator) Unseen() int { return a.unseen }
