// Package rooms tracks the room membership the live connection wants and
// replays it whenever a connection is (re)established.
package rooms

import (
	"sort"

	log "github.com/sirupsen/logrus"

	"prism-live/domain"
)

// Emitter sends room-control requests over the live connection.
type Emitter interface {
	IsConnected() bool
	Emit(event, arg string) error
}

// Membership is a copy of the desired room set.
type Membership struct {
	UserRoom  string
	AdminRoom bool
	TaskRooms []string
}

// Empty reports whether no room is held.
func (m Membership) Empty() bool {
	return m.UserRoom == "" && !m.AdminRoom && len(m.TaskRooms) == 0
}

// Registry holds the desired membership. The set is updated even while the
// connection is down so that Replay can restore it. Not safe for concurrent
// use.
type Registry struct {
	emitter Emitter
	logger  *log.Logger

	userRoom  string
	adminRoom bool
	taskRooms map[string]struct{}

	// isAdmin is the role of the last identity bound by SetIdentity.
	isAdmin bool
}

func New(emitter Emitter, logger *log.Logger) *Registry {
	if emitter == nil {
		panic("emitter is required")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Registry{emitter: emitter, logger: logger, taskRooms: make(map[string]struct{})}
}

func (r *Registry) emit(event, arg string) {
	if !r.emitter.IsConnected() {
		r.logger.WithFields(log.Fields{"event": event, "room": arg}).Debug("not connected, membership recorded only")
		return
	}
	if err := r.emitter.Emit(event, arg); err != nil {
		r.logger.WithError(err).WithFields(log.Fields{"event": event, "room": arg}).Warn("room request failed")
	}
}

// JoinUserRoom makes userID the held user room, leaving a different one
// first.
func (r *Registry) JoinUserRoom(userID string) {
	if userID == "" || r.userRoom == userID {
		return
	}
	if r.userRoom != "" {
		r.LeaveUserRoom(r.userRoom)
	}
	r.userRoom = userID
	r.emit(domain.EventJoinUserRoom, userID)
}

// LeaveUserRoom is a no-op unless userID is the held user room.
func (r *Registry) LeaveUserRoom(userID string) {
	if userID == "" || r.userRoom != userID {
		return
	}
	r.userRoom = ""
	r.emit(domain.EventLeaveUserRoom, userID)
}

func (r *Registry) JoinAdminRoom() {
	if r.adminRoom {
		return
	}
	r.adminRoom = true
	r.emit(domain.EventJoinAdminRoom, "")
}

func (r *Registry) LeaveAdminRoom() {
	if !r.adminRoom {
		return
	}
	r.adminRoom = false
	r.emit(domain.EventLeaveAdminRoom, "")
}

func (r *Registry) JoinTaskRoom(taskID string) {
	if taskID == "" {
		return
	}
	if _, ok := r.taskRooms[taskID]; ok {
		return
	}
	r.taskRooms[taskID] = struct{}{}
	r.emit(domain.EventJoinTaskRoom, taskID)
}

// LeaveTaskRoom silently ignores rooms that are not held.
func (r *Registry) LeaveTaskRoom(taskID string) {
	if _, ok := r.taskRooms[taskID]; !ok {
		return
	}
	delete(r.taskRooms, taskID)
	r.emit(domain.EventLeaveTaskRoom, taskID)
}

// SetIdentity derives the user and admin rooms from id. Task rooms are kept.
func (r *Registry) SetIdentity(id domain.Identity) {
	r.isAdmin = id.IsAdmin()
	if id.UserID == "" {
		r.LeaveUserRoom(r.userRoom)
	} else {
		r.JoinUserRoom(id.UserID)
	}
	if id.IsAdmin() {
		r.JoinAdminRoom()
	} else {
		r.LeaveAdminRoom()
	}
}

// Replay re-issues a join for every held room: user room, admin room, then
// task rooms in lexical order. The admin room is only replayed while the
// bound identity is an admin.
func (r *Registry) Replay() {
	m := r.Membership()
	if m.AdminRoom && !r.isAdmin {
		r.logger.Debug("admin room held without admin role, not replayed")
		m.AdminRoom = false
	}
	if m.Empty() {
		return
	}
	r.logger.WithFields(log.Fields{
		"user":  m.UserRoom,
		"admin": m.AdminRoom,
		"tasks": len(m.TaskRooms),
	}).Info("replaying room membership")
	if m.UserRoom != "" {
		r.emit(domain.EventJoinUserRoom, m.UserRoom)
	}
	if m.AdminRoom {
		r.emit(domain.EventJoinAdminRoom, "")
	}
	for _, id := range m.TaskRooms {
		r.emit(domain.EventJoinTaskRoom, id)
	}
}

// LeaveAll leaves every held room and empties the set.
func (r *Registry) LeaveAll() {
	m := r.Membership()
	for _, id := range m.TaskRooms {
		r.LeaveTaskRoom(id)
	}
	r.LeaveAdminRoom()
	r.LeaveUserRoom(m.UserRoom)
}

// Membership returns a copy of the desired set with task rooms sorted.
func (r *Registry) Membership() Membership {
	m := Membership{UserRoom: r.userRoom, AdminRoom: r.adminRoom}
	if len(r.taskRooms) > 0 {
		m.TaskRooms = make([]string, 0, len(r.taskRooms))
		for id := range r.taskRooms {
			m.TaskRooms = append(m.TaskRooms, id)
		}
		sort.Strings(m.TaskRooms)
	}
	return m
}

// HasTaskRoom reports whether taskID is in the desired set.
func (r *Registry) HasTaskRoom(taskID string) bool {
	_, ok := r.taskRooms[taskID]
	return ok
}
