package store

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// Persister is an optional durability hook for the in-memory store. Only
// paths accepted by the store's persist filter reach it.
type Persister interface {
	Save(path string, value json.RawMessage) error
	Remove(path string) error
	LoadAll() (map[string]json.RawMessage, error)
}

// MemStore is the reference store implementation: a flat path tree with
// watcher fanout and per-connection disconnect hooks. All rooms share one
// tree; the websocket layer scopes each connection to its room prefix.
type MemStore struct {
	mu       sync.RWMutex
	values   map[string]json.RawMessage
	watchers map[*watcher]struct{}

	persist       Persister
	persistFilter func(path string) bool
}

type watcher struct {
	prefix string
	ch     chan Event
}

type MemOption func(*MemStore)

// WithPersister snapshots writes matching filter into p and reloads them at
// startup. A nil filter persists everything.
func WithPersister(p Persister, filter func(path string) bool) MemOption {
	return func(m *MemStore) {
		m.persist = p
		m.persistFilter = filter
	}
}

func NewMemStore(opts ...MemOption) (*MemStore, error) {
	m := &MemStore{
		values:   make(map[string]json.RawMessage),
		watchers: make(map[*watcher]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.persist != nil {
		loaded, err := m.persist.LoadAll()
		if err != nil {
			return nil, err
		}
		for path, value := range loaded {
			m.values[path] = value
		}
	}
	return m, nil
}

// Connect returns a connection handle. Closing the handle fires its
// registered disconnect deletions; the tree itself stays up.
func (m *MemStore) Connect() *MemConn {
	return &MemConn{ms: m}
}

// Snapshot returns the current value of every path under prefix.
func (m *MemStore) Snapshot(prefix string) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for path, value := range m.values {
		if strings.HasPrefix(path, prefix) {
			out = append(out, Event{Path: path, Value: value})
		}
	}
	return out
}

// DeletePrefix removes every path under prefix. Used when a room is torn
// down after its last participant leaves.
func (m *MemStore) DeletePrefix(prefix string) {
	m.mu.Lock()
	var removed []string
	for path := range m.values {
		if strings.HasPrefix(path, prefix) {
			delete(m.values, path)
			removed = append(removed, path)
		}
	}
	m.mu.Unlock()
	for _, path := range removed {
		m.persistRemove(path)
		m.notify(Event{Path: path, Deleted: true})
	}
}

func (m *MemStore) put(path string, value json.RawMessage) {
	cloned := append(json.RawMessage(nil), value...)
	m.mu.Lock()
	m.values[path] = cloned
	m.mu.Unlock()
	if m.persist != nil && (m.persistFilter == nil || m.persistFilter(path)) {
		_ = m.persist.Save(path, cloned)
	}
	m.notify(Event{Path: path, Value: cloned})
}

func (m *MemStore) delete(path string) {
	m.mu.Lock()
	_, existed := m.values[path]
	delete(m.values, path)
	m.mu.Unlock()
	if !existed {
		return
	}
	m.persistRemove(path)
	m.notify(Event{Path: path, Deleted: true})
}

func (m *MemStore) persistRemove(path string) {
	if m.persist != nil && (m.persistFilter == nil || m.persistFilter(path)) {
		_ = m.persist.Remove(path)
	}
}

func (m *MemStore) get(path string) (json.RawMessage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[path]
	return value, ok
}

// notify is best-effort: a watcher that cannot keep up loses intermediate
// values, which the protocol tolerates.
func (m *MemStore) notify(ev Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for w := range m.watchers {
		if !strings.HasPrefix(ev.Path, w.prefix) {
			continue
		}
		select {
		case w.ch <- ev:
		default:
		}
	}
}

// addWatcher registers a subscriber and replays the current value of every
// matching path, so a late subscriber starts from the present state instead
// of waiting for the next write.
func (m *MemStore) addWatcher(ctx context.Context, prefix string) <-chan Event {
	m.mu.Lock()
	var existing []Event
	for path, value := range m.values {
		if strings.HasPrefix(path, prefix) {
			existing = append(existing, Event{Path: path, Value: value})
		}
	}
	w := &watcher{prefix: prefix, ch: make(chan Event, len(existing)+64)}
	for _, ev := range existing {
		w.ch <- ev
	}
	m.watchers[w] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, w)
		m.mu.Unlock()
		close(w.ch)
	}()

	return w.ch
}

// MemConn is a single client's handle on a MemStore.
type MemConn struct {
	ms *MemStore

	mu      sync.Mutex
	cleanup []string
	closed  bool
}

var _ Store = (*MemConn)(nil)

func (c *MemConn) Get(_ context.Context, path string) (json.RawMessage, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	value, ok := c.ms.get(path)
	if !ok {
		return nil, ErrNotFound
	}
	return value, nil
}

func (c *MemConn) Put(_ context.Context, path string, value json.RawMessage) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.ms.put(path, value)
	return nil
}

func (c *MemConn) Delete(_ context.Context, path string) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.ms.delete(path)
	return nil
}

func (c *MemConn) Watch(ctx context.Context, prefix string) (<-chan Event, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	return c.ms.addWatcher(ctx, prefix), nil
}

func (c *MemConn) OnDisconnect(_ context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.cleanup = append(c.cleanup, path)
	return nil
}

func (c *MemConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cleanup := c.cleanup
	c.cleanup = nil
	c.mu.Unlock()

	for _, path := range cleanup {
		c.ms.delete(path)
	}
	return nil
}

func (c *MemConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
