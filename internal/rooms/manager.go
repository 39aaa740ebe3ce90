package rooms

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/RanFeng/ilog"
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/AumSorathiya/watch-together.github.io/internal/locator"
	"github.com/AumSorathiya/watch-together.github.io/internal/protocol"
	"github.com/AumSorathiya/watch-together.github.io/internal/store"
)

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrInvalidToken        = errors.New("invalid token")
)

const roomIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Manager issues rooms and sessions on top of the shared store.
type Manager struct {
	ms *store.MemStore

	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewManager(ms *store.MemStore) *Manager {
	return &Manager{
		ms:    ms,
		rooms: make(map[string]*Room),
	}
}

func (m *Manager) Store() *store.MemStore {
	return m.ms
}

// CreateRoom makes a new room and the creator's session. A non-empty
// videoURL is validated and seeded into the room's state record; the host
// field stays empty until the first client's election fills it.
func (m *Manager) CreateRoom(ctx context.Context, displayName, videoURL string) (*Session, error) {
	canonical := ""
	if videoURL != "" {
		loc, err := locator.Parse(videoURL)
		if err != nil {
			return nil, err
		}
		canonical = loc.Canonical
	}

	roomID, err := gonanoid.Generate(roomIDAlphabet, 6)
	if err != nil {
		return nil, err
	}
	room := newRoom(roomID)

	m.mu.Lock()
	m.rooms[roomID] = room
	m.mu.Unlock()

	if canonical != "" {
		conn := m.ms.Connect()
		defer conn.Close()
		err := store.PutJSON(ctx, conn, room.Prefix()+"state", protocol.RoomState{
			URL:       canonical,
			UpdatedAt: nowMillis(),
		})
		if err != nil {
			return nil, err
		}
	}

	session := m.issueSession(room, displayName)
	ilog.EventInfo(ctx, "room_created", "roomID", roomID, "userID", session.UserID)
	return session, nil
}

// JoinRoom issues a session for an existing room.
func (m *Manager) JoinRoom(ctx context.Context, roomID, displayName string) (*Session, error) {
	room, err := m.room(roomID)
	if err != nil {
		return nil, err
	}
	session := m.issueSession(room, displayName)
	ilog.EventInfo(ctx, "room_joined", "roomID", roomID, "userID", session.UserID)
	return session, nil
}

func (m *Manager) issueSession(room *Room, displayName string) *Session {
	session := &Session{
		RoomID:      room.ID(),
		UserID:      uuid.NewString(),
		Token:       uuid.NewString(),
		DisplayName: displayName,
	}
	room.addSession(session)
	return session
}

// GetState reads the room's canonical record. A room that exists but has no
// record yet reports a zero state.
func (m *Manager) GetState(ctx context.Context, roomID string) (protocol.RoomState, error) {
	room, err := m.room(roomID)
	if err != nil {
		return protocol.RoomState{}, err
	}
	conn := m.ms.Connect()
	defer conn.Close()

	var state protocol.RoomState
	if err := store.GetJSON(ctx, conn, room.Prefix()+"state", &state); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return protocol.RoomState{}, nil
		}
		return protocol.RoomState{}, err
	}
	return state, nil
}

// LookupParticipant resolves a websocket attach.
func (m *Manager) LookupParticipant(roomID, token string) (*Room, *Session, error) {
	room, err := m.room(roomID)
	if err != nil {
		return nil, nil, err
	}
	session, err := room.FindByToken(token)
	if err != nil {
		return nil, nil, err
	}
	return room, session, nil
}

// CleanupRoom reaps a room once its last connection is gone, wiping its
// namespace from the store.
func (m *Manager) CleanupRoom(room *Room) {
	if room == nil || room.ConnCount() > 0 {
		return
	}
	roomID := room.ID()

	m.mu.Lock()
	current, ok := m.rooms[roomID]
	if !ok || current != room {
		m.mu.Unlock()
		return
	}
	delete(m.rooms, roomID)
	m.mu.Unlock()

	m.ms.DeletePrefix(room.Prefix())
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func (m *Manager) room(roomID string) (*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}
