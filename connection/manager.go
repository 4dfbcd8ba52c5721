// Package connection owns the live duplex channel to the notification server:
// its state machine, handshake, and bounded retry policy.
package connection

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-live/domain"
	"prism-live/sched"
)

const (
	DefaultMaxAttempts = 5
	DefaultRetryDelay  = time.Second
	DefaultDialTimeout = 10 * time.Second
)

// ErrNotConnected is returned by Emit while no connection is established.
var ErrNotConnected = errors.New("not connected")

type Options struct {
	URL         string
	MaxAttempts int
	RetryDelay  time.Duration
	DialTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	return o
}

// Membership is the room set the manager keeps in step with the connection.
type Membership interface {
	SetIdentity(domain.Identity)
	Replay()
	LeaveAll()
}

// Manager drives the connection state machine. All methods except
// IsConnected must be called on the scheduler's loop.
type Manager struct {
	sched     sched.Scheduler
	transport Transport
	opts      Options
	logger    *log.Logger

	members   Membership
	onFrame   func(domain.Frame)
	observers []func(State)

	state State
	conn  Conn
	gen   uint64
	retry sched.Timer

	connected atomic.Bool

	// spawn runs a dial off the loop; tests replace it to dial inline.
	spawn func(func())
}

func NewManager(s sched.Scheduler, t Transport, opts Options, logger *log.Logger) *Manager {
	if s == nil || t == nil {
		panic("scheduler and transport are required")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Manager{
		sched:     s,
		transport: t,
		opts:      opts.withDefaults(),
		logger:    logger,
		spawn:     func(fn func()) { go fn() },
	}
}

// Bind attaches the room set replayed after every successful connect.
func (m *Manager) Bind(members Membership) { m.members = members }

// OnFrame sets the receiver for inbound frames.
func (m *Manager) OnFrame(fn func(domain.Frame)) { m.onFrame = fn }

// OnStateChange registers an observer called after every state transition.
func (m *Manager) OnStateChange(fn func(State)) { m.observers = append(m.observers, fn) }

// IsConnected is safe to call from any goroutine.
func (m *Manager) IsConnected() bool { return m.connected.Load() }

func (m *Manager) State() State { return m.state }

// Connect establishes the connection for token. When already connected or
// connecting it only records token and identity; a changed identity updates
// room membership without reconnecting.
func (m *Manager) Connect(token string, id *domain.Identity) {
	if id != nil {
		m.state.Identity = *id
		if m.members != nil {
			m.members.SetIdentity(*id)
		}
	}
	if token != "" {
		m.state.Token = token
	}
	if m.state.Status != Disconnected {
		m.logger.WithField("status", m.state.Status).Debug("connect ignored, connection already active")
		return
	}
	m.state.Attempt = 0
	m.state.Abandoned = false
	m.state.LastError = ""
	m.dial()
}

// Disconnect tears the connection down, releases every room and clears the
// identity. Pending retries and in-flight dials are invalidated.
func (m *Manager) Disconnect() {
	m.gen++
	m.stopRetry()
	if m.members != nil {
		m.members.LeaveAll()
	}
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			m.logger.WithError(err).Debug("close connection")
		}
		m.conn = nil
	}
	m.state = State{Status: Disconnected, LastReason: ReasonClient}
	m.setStatus(Disconnected)
	m.logger.Info("live connection closed by client")
}

// Emit writes a room-control request.
func (m *Manager) Emit(event, arg string) error {
	if m.conn == nil {
		return ErrNotConnected
	}
	f, err := domain.RoomFrame(event, arg)
	if err != nil {
		return err
	}
	return m.conn.WriteFrame(f)
}

func (m *Manager) dial() {
	m.gen++
	gen := m.gen
	m.setStatus(Connecting)

	url, token, timeout := m.opts.URL, m.state.Token, m.opts.DialTimeout
	attempt := m.state.Attempt + 1
	m.logger.WithFields(log.Fields{"url": url, "attempt": attempt}).Info("connecting")
	m.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		conn, err := m.transport.Dial(ctx, url, token)
		m.sched.Post(func() { m.dialed(gen, conn, err) })
	})
}

func (m *Manager) dialed(gen uint64, conn Conn, err error) {
	if gen != m.gen {
		if conn != nil {
			_ = conn.Close()
		}
		m.logger.Debug("discarding stale handshake result")
		return
	}
	if err != nil {
		m.state.Attempt++
		m.state.LastError = err.Error()
		m.state.LastReason = ReasonTransport
		entry := m.logger.WithError(err).WithField("attempt", m.state.Attempt)
		if m.state.Attempt >= m.opts.MaxAttempts {
			m.state.Abandoned = true
			entry.Error("giving up on live connection")
			m.setStatus(Disconnected)
			return
		}
		entry.Warn("connect failed, retrying")
		m.scheduleRetry(gen)
		m.notify()
		return
	}

	m.conn = conn
	m.state.Attempt = 0
	m.state.LastError = ""
	m.state.LastReason = ReasonNone
	m.setStatus(Connected)
	m.logger.Info("live connection established")
	if m.members != nil {
		m.members.Replay()
	}
	go m.read(gen, conn)
}

func (m *Manager) read(gen uint64, conn Conn) {
	for {
		f, err := conn.ReadFrame()
		if err != nil {
			if errors.Is(err, ErrBadFrame) {
				m.logger.WithError(err).Warn("skipping undecodable frame")
				continue
			}
			m.sched.Post(func() { m.closed(gen, err) })
			return
		}
		m.sched.Post(func() { m.frame(gen, f) })
	}
}

func (m *Manager) frame(gen uint64, f domain.Frame) {
	if gen != m.gen || m.onFrame == nil {
		return
	}
	m.onFrame(f)
}

func (m *Manager) closed(gen uint64, err error) {
	if gen != m.gen {
		return
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	reason := classify(err)
	m.state.LastReason = reason
	m.state.LastError = err.Error()
	entry := m.logger.WithError(err).WithField("reason", reason)
	if reason == ReasonServer {
		entry.Info("server ended live connection")
		m.setStatus(Disconnected)
		return
	}
	entry.Warn("live connection lost, reconnecting")
	m.setStatus(Connecting)
	m.scheduleRetry(gen)
}

func (m *Manager) scheduleRetry(gen uint64) {
	m.stopRetry()
	m.retry = m.sched.AfterFunc(m.opts.RetryDelay, func() {
		if gen != m.gen {
			return
		}
		m.retry = nil
		m.dial()
	})
}

func (m *Manager) stopRetry() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *Manager) setStatus(s Status) {
	m.state.Status = s
	m.connected.Store(s == Connected)
	m.notify()
}

func (m *Manager) notify() {
	st := m.state
	for _, fn := range m.observers {
		fn(st)
	}
}
