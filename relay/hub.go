// Package relay is a small notification server for the live client. It
// accepts websocket connections, tracks the rooms each one asked for and
// fans task events out to those rooms.
package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"prism-live/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueueSize  = 256
)

type session struct {
	id       string
	identity domain.Identity
	conn     *websocket.Conn
	send     chan []byte
	rooms    map[string]struct{}

	// closeCode is written to the peer when send is closed; guarded by Hub.mu.
	closeCode int
	closeText string
}

// Hub tracks sessions and room membership.
type Hub struct {
	logger *log.Logger

	mu       sync.RWMutex
	sessions map[*session]struct{}
	rooms    map[string]map[*session]struct{}

	// assignees maps task id to the last assignee seen in a routed event.
	assignees map[string]string
}

func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{
		logger:   logger,
		sessions:  make(map[*session]struct{}),
		rooms:     make(map[string]map[*session]struct{}),
		assignees: make(map[string]string),
	}
}

// Serve runs a session for an upgraded connection and returns when it ends.
func (h *Hub) Serve(conn *websocket.Conn, id domain.Identity) {
	s := &session{
		id:        uuid.NewString(),
		identity:  id,
		conn:      conn,
		send:      make(chan []byte, sendQueueSize),
		rooms:     make(map[string]struct{}),
		closeCode: websocket.CloseGoingAway,
	}
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	total := len(h.sessions)
	h.mu.Unlock()
	h.logger.WithFields(log.Fields{"session": s.id, "user": id.UserID, "sessions": total}).Info("live session opened")

	go h.writePump(s)
	h.readPump(s)
}

func (h *Hub) readPump(s *session) {
	defer func() {
		h.remove(s, websocket.CloseGoingAway, "")
		_ = s.conn.Close()
	}()
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithError(err).WithField("session", s.id).Warn("live session read error")
			}
			return
		}
		f, err := domain.UnmarshalFrame(data)
		if err != nil {
			h.logger.WithError(err).WithField("session", s.id).Debug("ignoring bad frame")
			continue
		}
		h.handleFrame(s, f)
	}
}

func (h *Hub) writePump(s *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				h.mu.RLock()
				code, text := s.closeCode, s.closeText
				h.mu.RUnlock()
				_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) handleFrame(s *session, f domain.Frame) {
	arg, err := f.StringArg()
	if err != nil {
		h.logger.WithError(err).WithField("session", s.id).Debug("bad room argument")
		return
	}
	switch f.Event {
	case domain.EventJoinUserRoom:
		if arg != s.identity.UserID && !s.identity.IsAdmin() {
			h.logger.WithFields(log.Fields{"session": s.id, "room": arg}).Warn("user room denied")
			return
		}
		h.join(s, domain.UserRoom(arg))
	case domain.EventLeaveUserRoom:
		h.leave(s, domain.UserRoom(arg))
	case domain.EventJoinAdminRoom:
		if !s.identity.IsAdmin() {
			h.logger.WithField("session", s.id).Warn("admin room denied")
			return
		}
		h.join(s, domain.AdminRoom)
	case domain.EventLeaveAdminRoom:
		h.leave(s, domain.AdminRoom)
	case domain.EventJoinTaskRoom:
		if arg != "" {
			h.join(s, domain.TaskRoom(arg))
		}
	case domain.EventLeaveTaskRoom:
		h.leave(s, domain.TaskRoom(arg))
	default:
		h.logger.WithFields(log.Fields{"session": s.id, "event": f.Event}).Debug("ignoring client event")
	}
}

func (h *Hub) join(s *session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*session]struct{})
		h.rooms[room] = members
	}
	members[s] = struct{}{}
	s.rooms[room] = struct{}{}
	h.logger.WithFields(log.Fields{"session": s.id, "room": room}).Debug("joined room")
}

func (h *Hub) leave(s *session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(s, room)
}

func (h *Hub) leaveLocked(s *session, room string) {
	delete(s.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, s)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// remove drops s from every room and closes its send queue. It is safe to
// call more than once.
func (h *Hub) remove(s *session, code int, text string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s]; !ok {
		return false
	}
	for room := range s.rooms {
		h.leaveLocked(s, room)
	}
	delete(h.sessions, s)
	s.closeCode, s.closeText = code, text
	close(s.send)
	h.logger.WithFields(log.Fields{"session": s.id, "user": s.identity.UserID, "sessions": len(h.sessions)}).Info("live session closed")
	return true
}

// Rooms returns the rooms an event addresses by its own content. A status
// change names no assignee; Publish adds the one it last saw for the task.
func Rooms(env domain.Envelope) []string {
	rooms := []string{domain.AdminRoom}
	if env.Task != nil && env.Task.AssignedUserID != "" {
		rooms = append(rooms, domain.UserRoom(env.Task.AssignedUserID))
	}
	if id := env.TargetID(); id != "" {
		rooms = append(rooms, domain.TaskRoom(id))
	}
	return rooms
}

// remember records the assignee carried by a task event. An event that does
// not mention the assignee leaves the record alone.
func (h *Hub) remember(env domain.Envelope) {
	fields, ok := env.Changes()
	if !ok || fields.ID == "" || fields.AssignedUserID == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if uid := *fields.AssignedUserID; uid != "" {
		h.assignees[fields.ID] = uid
	} else {
		delete(h.assignees, fields.ID)
	}
}

func (h *Hub) routes(env domain.Envelope) []string {
	rooms := Rooms(env)
	if env.Kind == domain.KindStatusChanged {
		if uid, ok := h.assignees[env.TaskID]; ok {
			rooms = append(rooms, domain.UserRoom(uid))
		}
	}
	return rooms
}

// Publish delivers env to every session in its rooms, at most once per
// session, and returns how many sessions it was queued for. Sessions whose
// queue is full are dropped.
func (h *Hub) Publish(env domain.Envelope) (int, error) {
	f, err := domain.EncodeEnvelope(env)
	if err != nil {
		return 0, err
	}
	data, err := domain.MarshalFrame(f)
	if err != nil {
		return 0, err
	}

	h.remember(env)

	var slow []*session
	seen := make(map[*session]struct{})
	h.mu.RLock()
	for _, room := range h.routes(env) {
		for s := range h.rooms[room] {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			select {
			case s.send <- data:
			default:
				slow = append(slow, s)
			}
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.logger.WithField("session", s.id).Warn("send queue full, dropping session")
		h.remove(s, websocket.CloseTryAgainLater, "too slow")
	}
	delivered := len(seen) - len(slow)
	h.logger.WithFields(log.Fields{"kind": env.Kind, "task": env.TargetID(), "sessions": delivered}).Debug("event published")
	return delivered, nil
}

// Disconnect ends every session of userID with a normal close, which clients
// treat as server-initiated and do not retry.
func (h *Hub) Disconnect(userID string) int {
	h.mu.RLock()
	var targets []*session
	for s := range h.sessions {
		if s.identity.UserID == userID {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	n := 0
	for _, s := range targets {
		if h.remove(s, websocket.CloseNormalClosure, "session ended") {
			n++
		}
	}
	return n
}

// Members reports how many sessions are in room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close ends every session.
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		all = append(all, s)
	}
	h.mu.RUnlock()
	for _, s := range all {
		h.remove(s, websocket.CloseGoingAway, "server shutting down")
	}
}
