// Package client assembles the live task client: one connection, its room
// set, the dispatch bus, the reconciled task list and the notification feed,
// all running on a single event loop.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-live/connection"
	"prism-live/dispatch"
	"prism-live/domain"
	"prism-live/notify"
	"prism-live/reconcile"
	"prism-live/rooms"
	"prism-live/sched"
)

var ErrNotAuthenticated = errors.New("no authenticated session")

type Options struct {
	URL          string
	MaxAttempts  int
	RetryDelay   time.Duration
	DialTimeout  time.Duration
	ToastDelay   time.Duration
	HistoryLimit int

	// Transport defaults to a websocket transport.
	Transport connection.Transport
	Logger    *log.Logger
}

// Session is the credential source used by Bootstrap.
type Session interface {
	Token() string
	IsAuthenticated() bool
	Identity(ctx context.Context) (domain.Identity, error)
}

// TaskLister loads the initial task list.
type TaskLister interface {
	List(ctx context.Context, status string) ([]domain.Task, error)
}

// Client is safe for concurrent use. Every call is executed on the client's
// loop; handlers registered with On run there too and must not call back into
// blocking Client methods.
type Client struct {
	loop   *sched.Loop
	logger *log.Logger

	manager *connection.Manager
	rooms   *rooms.Registry
	bus     *dispatch.Registry
	tasks   *reconcile.Reconciler
	feed    *notify.Aggregator
	toaster *notify.Toaster
}

func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	transport := opts.Transport
	if transport == nil {
		transport = connection.NewWebsocketTransport(opts.DialTimeout)
	}

	loop := sched.NewLoop(logger)
	c := &Client{loop: loop, logger: logger}
	c.manager = connection.NewManager(loop, transport, connection.Options{
		URL:         opts.URL,
		MaxAttempts: opts.MaxAttempts,
		RetryDelay:  opts.RetryDelay,
		DialTimeout: opts.DialTimeout,
	}, logger)
	c.rooms = rooms.New(c.manager, logger)
	c.manager.Bind(c.rooms)

	c.bus = dispatch.New(logger)
	c.manager.OnFrame(func(f domain.Frame) {
		// malformed frames are logged and counted by the bus
		_ = c.bus.DispatchFrame(f)
	})

	c.tasks = reconcile.New(nil, logger)
	c.toaster = notify.NewToaster(loop, opts.ToastDelay, logger)
	c.feed = notify.NewAggregator(notify.Config{
		Viewer:       func() domain.Identity { return c.manager.State().Identity },
		Lookup:       c.tasks.Get,
		Toaster:      c.toaster,
		HistoryLimit: opts.HistoryLimit,
		Logger:       logger,
	})

	// the reconciler sees each envelope before the feed so lookups are current
	c.bus.OnAll(func(env domain.Envelope) { c.tasks.Apply(env) })
	c.bus.OnAll(c.feed.Handle)
	return c
}

func (c *Client) do(fn func()) error { return c.loop.Call(fn) }

// Connect opens the live connection for token. identity may be nil when it
// is already known or not yet available.
func (c *Client) Connect(token string, identity *domain.Identity) error {
	return c.do(func() { c.manager.Connect(token, identity) })
}

func (c *Client) Disconnect() error {
	return c.do(c.manager.Disconnect)
}

// IsConnected never blocks.
func (c *Client) IsConnected() bool { return c.manager.IsConnected() }

func (c *Client) State() connection.State {
	var st connection.State
	_ = c.do(func() { st = c.manager.State() })
	return st
}

// OnStateChange registers fn for connection state transitions. fn runs on
// the loop.
func (c *Client) OnStateChange(fn func(connection.State)) error {
	return c.do(func() { c.manager.OnStateChange(fn) })
}

// Bootstrap restores a session: it resolves the identity, loads the task list
// when lister is not nil, and connects.
func (c *Client) Bootstrap(ctx context.Context, sess Session, lister TaskLister) error {
	if !sess.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	id, err := sess.Identity(ctx)
	if err != nil {
		return fmt.Errorf("resolve identity: %w", err)
	}
	if lister != nil {
		list, err := lister.List(ctx, "")
		if err != nil {
			c.logger.WithError(err).Warn("initial task load failed, continuing with live events only")
		} else if err := c.do(func() {
			for _, t := range list {
				c.tasks.MergeTask(t)
			}
		}); err != nil {
			return err
		}
	}
	c.logger.WithFields(log.Fields{"user": id.UserID, "role": id.Role}).Info("session restored")
	return c.Connect(sess.Token(), &id)
}

func (c *Client) JoinUserRoom(userID string) error {
	return c.do(func() { c.rooms.JoinUserRoom(userID) })
}

func (c *Client) LeaveUserRoom(userID string) error {
	return c.do(func() { c.rooms.LeaveUserRoom(userID) })
}

func (c *Client) JoinAdminRoom() error { return c.do(c.rooms.JoinAdminRoom) }

func (c *Client) LeaveAdminRoom() error { return c.do(c.rooms.LeaveAdminRoom) }

func (c *Client) JoinTaskRoom(taskID string) error {
	return c.do(func() { c.rooms.JoinTaskRoom(taskID) })
}

func (c *Client) LeaveTaskRoom(taskID string) error {
	return c.do(func() { c.rooms.LeaveTaskRoom(taskID) })
}

func (c *Client) Membership() rooms.Membership {
	var m rooms.Membership
	_ = c.do(func() { m = c.rooms.Membership() })
	return m
}

// On subscribes h to kind. The returned function may be called from
// anywhere, including from inside a handler.
func (c *Client) On(kind domain.Kind, h dispatch.Handler) (dispatch.Unsubscribe, error) {
	var unsub dispatch.Unsubscribe
	if err := c.do(func() { unsub = c.bus.On(kind, h) }); err != nil {
		return nil, err
	}
	return func() { c.loop.Post(unsub) }, nil
}

func (c *Client) Stats() dispatch.Stats {
	var st dispatch.Stats
	_ = c.do(func() { st = c.bus.Stats() })
	return st
}

// Tasks returns the reconciled tasks in insertion order.
func (c *Client) Tasks() []domain.Task {
	var out []domain.Task
	_ = c.do(func() { out = c.tasks.Snapshot() })
	return out
}

func (c *Client) Task(id string) (domain.Task, bool) {
	var (
		t  domain.Task
		ok bool
	)
	_ = c.do(func() { t, ok = c.tasks.Get(id) })
	return t, ok
}

// MergeTask folds a CRUD response into the task list. The broadcast event
// for the same change merges into the same entry.
func (c *Client) MergeTask(t domain.Task) error {
	return c.do(func() { c.tasks.MergeTask(t) })
}

func (c *Client) RemoveTask(id string) error {
	return c.do(func() { c.tasks.RemoveTask(id) })
}

func (c *Client) Notifications() []notify.Record {
	var out []notify.Record
	_ = c.do(func() { out = c.feed.History() })
	return out
}

func (c *Client) Unseen() int {
	var n int
	_ = c.do(func() { n = c.feed.Unseen() })
	return n
}

func (c *Client) MarkAllSeen() error { return c.do(c.feed.MarkAllSeen) }

func (c *Client) Toast() (notify.Toast, bool) {
	var (
		t  notify.Toast
		ok bool
	)
	_ = c.do(func() { t, ok = c.toaster.Current() })
	return t, ok
}

func (c *Client) DismissToast() error { return c.do(c.toaster.Dismiss) }

// OnToast registers fn for toast shows and dismissals. fn runs on the loop.
func (c *Client) OnToast(fn func(notify.Toast, bool)) error {
	return c.do(func() { c.toaster.OnChange(fn) })
}

// Close disconnects and stops the loop.
func (c *Client) Close() {
	_ = c.Disconnect()
	c.loop.Close()
}
