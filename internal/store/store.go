// Package store defines the remote state store contract the sync protocol
// runs against: path-addressed values under a room namespace with
// last-write-wins semantics, change notification, and cleanup-on-disconnect.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrNotFound = errors.New("path not found")
	ErrClosed   = errors.New("store connection closed")
)

// Event is one observed change to a path. Watchers may miss intermediate
// values; only the latest value per path is guaranteed to arrive eventually.
type Event struct {
	Path    string
	Value   json.RawMessage
	Deleted bool
}

// Store is one client's connection to a room namespace. Paths are relative
// to the room ("state", "presence/<uid>", "typing/<uid>", "chat/<id>").
type Store interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
	Put(ctx context.Context, path string, value json.RawMessage) error
	Delete(ctx context.Context, path string) error

	// Watch delivers changes for every path under prefix until ctx is
	// cancelled. Notifications are best-effort and may coalesce.
	Watch(ctx context.Context, prefix string) (<-chan Event, error)

	// OnDisconnect registers path for automatic deletion when this
	// connection goes away, graceful or not.
	OnDisconnect(ctx context.Context, path string) error

	Close() error
}

// PutJSON marshals v and writes it at path.
func PutJSON(ctx context.Context, s Store, path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Put(ctx, path, data)
}

// GetJSON reads path and unmarshals it into v.
func GetJSON(ctx context.Context, s Store, path string, v interface{}) error {
	data, err := s.Get(ctx, path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
