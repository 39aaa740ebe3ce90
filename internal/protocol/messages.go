package protocol

import "encoding/json"

// RoomState is the single canonical playback record for a room. Only the
// current host writes it; everyone else mirrors it. Timestamps are
// milliseconds since epoch.
type RoomState struct {
	URL       string  `json:"url"`
	Time      float64 `json:"time"`
	Playing   bool    `json:"playing"`
	HostID    string  `json:"hostId"`
	UpdatedAt int64   `json:"updatedAt"`
}

// PresenceEntry is one connected client. Each client owns exactly its own
// entry and refreshes LastSeen on a heartbeat.
type PresenceEntry struct {
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	JoinedAt int64  `json:"joinedAt"`
	LastSeen int64  `json:"lastSeen"`
}

// PlaybackSnapshot mirrors the local video adapter's live state. Never
// shared; used for the local UI and drift computation.
type PlaybackSnapshot struct {
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
	Playing     bool    `json:"playing"`
	Muted       bool    `json:"muted"`
	Volume      float64 `json:"volume"`
}

// ChatMessage lives under the room's chat path, one child per message.
type ChatMessage struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Text   string `json:"text"`
	SentAt int64  `json:"sentAt"`
}

// TypingMarker is the ephemeral value under typing/{userId}.
type TypingMarker struct {
	Name  string `json:"name"`
	Since int64  `json:"since"`
}

// Envelope kinds spoken over the store websocket.
const (
	KindPut          = "PUT"
	KindDelete       = "DELETE"
	KindOnDisconnect = "ON_DISCONNECT"
	KindEvent        = "EVENT"
	KindSnapshot     = "SNAPSHOT"
	KindError        = "ERROR"
)

type Envelope struct {
	Kind string      `json:"kind"`
	Data interface{} `json:"data"`
}

type InboundEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// PathValue carries one write (or delete) of a path under the room
// namespace. Deleted is set on delete events; Value is then absent.
type PathValue struct {
	Path    string          `json:"path"`
	Value   json.RawMessage `json:"value,omitempty"`
	Deleted bool            `json:"deleted,omitempty"`
}

// SnapshotPayload is the full room namespace sent once on connect.
type SnapshotPayload struct {
	Paths []PathValue `json:"paths"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
