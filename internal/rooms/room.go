package rooms

import (
	"sync"
)

// Room tracks the sessions issued for one room id and how many live
// websocket connections it currently has. Playback and presence data live
// in the store under the room's namespace, not here.
type Room struct {
	id string

	mu         sync.RWMutex
	sessions   map[string]*Session
	tokenIndex map[string]string
	conns      int
}

// Session identifies one joined participant. The token authenticates the
// websocket attach.
type Session struct {
	RoomID      string `json:"roomId"`
	UserID      string `json:"userId"`
	Token       string `json:"token"`
	DisplayName string `json:"displayName"`
}

func newRoom(roomID string) *Room {
	return &Room{
		id:         roomID,
		sessions:   make(map[string]*Session),
		tokenIndex: make(map[string]string),
	}
}

func (r *Room) ID() string {
	return r.id
}

// Prefix is the room's namespace in the store.
func (r *Room) Prefix() string {
	return "rooms/" + r.id + "/"
}

func (r *Room) addSession(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.UserID] = s
	r.tokenIndex[s.Token] = s.UserID
}

func (r *Room) FindByToken(token string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.tokenIndex[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	session, ok := r.sessions[userID]
	if !ok {
		return nil, ErrParticipantNotFound
	}
	return session, nil
}

// AttachConn counts a websocket attach. DetachConn reports how many remain
// so the manager can reap empty rooms.
func (r *Room) AttachConn() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns++
}

func (r *Room) DetachConn() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns > 0 {
		r.conns--
	}
	return r.conns
}

func (r *Room) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns
}

func (r *Room) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
