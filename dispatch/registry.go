// Package dispatch implements the typed publish/subscribe bus that fans task
// envelopes out to subscribers.
package dispatch

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"prism-live/domain"
)

// ErrMalformedEnvelope wraps every validation or decoding failure.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Handler receives validated envelopes.
type Handler func(domain.Envelope)

// Unsubscribe removes a handler. Calling it more than once has no effect.
type Unsubscribe func()

type subscriber struct {
	id      uint64
	handler Handler
}

// Stats counts what the registry has done since creation.
type Stats struct {
	Dispatched      uint64
	Dropped         uint64
	HandlerFailures uint64
}

// Registry maps envelope kinds to ordered subscriber lists. It is not safe for
// concurrent use; callers serialise access on one loop.
type Registry struct {
	logger *log.Logger
	subs   map[domain.Kind][]subscriber
	nextID uint64
	stats  Stats
}

func New(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Registry{logger: logger, subs: make(map[domain.Kind][]subscriber)}
}

// On registers h for kind. Handlers run in registration order.
func (r *Registry) On(kind domain.Kind, h Handler) Unsubscribe {
	r.nextID++
	id := r.nextID
	r.subs[kind] = append(r.subs[kind], subscriber{id: id, handler: h})
	r.logger.WithFields(log.Fields{"kind": kind, "subscriber": id}).Debug("handler registered")

	removed := false
	return func() {
		if removed {
			return
		}
		removed = true
		r.remove(kind, id)
	}
}

// OnAll registers h for every kind and returns one handle removing all of them.
func (r *Registry) OnAll(h Handler) Unsubscribe {
	unsubs := make([]Unsubscribe, 0, len(domain.Kinds))
	for _, kind := range domain.Kinds {
		unsubs = append(unsubs, r.On(kind, h))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (r *Registry) remove(kind domain.Kind, id uint64) {
	list := r.subs[kind]
	for i, s := range list {
		if s.id != id {
			continue
		}
		next := make([]subscriber, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		r.subs[kind] = next
		r.logger.WithFields(log.Fields{"kind": kind, "subscriber": id}).Debug("handler removed")
		return
	}
}

// Subscribers reports how many handlers are registered for kind.
func (r *Registry) Subscribers(kind domain.Kind) int { return len(r.subs[kind]) }

func (r *Registry) Stats() Stats { return r.stats }

// Dispatch validates env and delivers it to every handler for its kind. A
// malformed envelope is dropped and reported; it never reaches a handler.
func (r *Registry) Dispatch(env domain.Envelope) error {
	if err := env.Validate(); err != nil {
		r.stats.Dropped++
		r.logger.WithError(err).WithFields(log.Fields{"kind": env.Kind, "task": env.TargetID()}).Warn("dropping malformed envelope")
		return fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	r.stats.Dispatched++
	// the slice is replaced, never mutated, on removal so this snapshot is stable
	for _, s := range r.subs[env.Kind] {
		r.invoke(s, env)
	}
	return nil
}

// DispatchFrame decodes a wire frame and dispatches it. Frames for events
// other than task events are ignored.
func (r *Registry) DispatchFrame(f domain.Frame) error {
	if !domain.IsTaskEvent(f.Event) {
		r.logger.WithField("event", f.Event).Debug("ignoring non-task frame")
		return nil
	}
	env, err := domain.DecodeEnvelope(f)
	if err != nil {
		r.stats.Dropped++
		r.logger.WithError(err).WithField("event", f.Event).Warn("dropping undecodable envelope")
		return fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	return r.Dispatch(env)
}

func (r *Registry) invoke(s subscriber, env domain.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			r.stats.HandlerFailures++
			r.logger.WithFields(log.Fields{
				"kind":       env.Kind,
				"task":       env.TargetID(),
				"subscriber": s.id,
				"panic":      rec,
			}).Error("event handler failed")
		}
	}()
	s.handler(env)
}
