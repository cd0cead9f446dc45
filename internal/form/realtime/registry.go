package realtime

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bitfantasy/formflow/internal/metrics"
	"go.uber.org/zap"
)

var ErrUnknownConnection = errors.New("unknown connection")

// Scope kinds
const (
	ScopeTask    = "task"
	ScopeCompany = "company"
)

// Scope a routing key: one task or one company.
type Scope struct {
	Kind string
	ID   int64
}

func TaskScope(id int64) Scope    { return Scope{Kind: ScopeTask, ID: id} }
func CompanyScope(id int64) Scope { return Scope{Kind: ScopeCompany, ID: id} }

func (s Scope) String() string {
	return fmt.Sprintf("%s:%d", s.Kind, s.ID)
}

func (s Scope) Valid() bool {
	return (s.Kind == ScopeTask || s.Kind == ScopeCompany) && s.ID > 0
}

// Conn one registered client connection. Frames queued on Send are written by
// the transport's single writer goroutine, so per-connection order is the
// enqueue order.
type Conn struct {
	ID        string
	UserID    string
	CompanyID int64
	Transport string

	send chan []byte
}

// Send frames to write, closed on Unregister.
func (c *Conn) Send() <-chan []byte {
	return c.send
}

// Registry maps task and company scopes to the connections subscribed to
// them.
type Registry struct {
	mu         sync.RWMutex
	conns      map[string]*Conn
	scopes     map[Scope]map[string]struct{}
	connScopes map[string]map[Scope]struct{}

	bufferSize int
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func NewRegistry(bufferSize int, logger *zap.Logger, m *metrics.Metrics) *Registry {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		conns:      make(map[string]*Conn),
		scopes:     make(map[Scope]map[string]struct{}),
		connScopes: make(map[string]map[Scope]struct{}),
		bufferSize: bufferSize,
		logger:     logger,
		metrics:    m,
	}
}

// Register adds a connection. Registering an id twice replaces the old
// connection, which is closed.
func (r *Registry) Register(id, userID string, companyID int64, transport string) *Conn {
	c := &Conn{
		ID:        id,
		UserID:    userID,
		CompanyID: companyID,
		Transport: transport,
		send:      make(chan []byte, r.bufferSize),
	}
	r.mu.Lock()
	if old, ok := r.conns[id]; ok {
		r.removeLocked(old)
	}
	r.conns[id] = c
	total := len(r.conns)
	r.mu.Unlock()

	r.metrics.ConnectionOpened(transport)
	r.logger.Debug("realtime client registered",
		zap.String("conn_id", id), zap.String("user_id", userID),
		zap.String("transport", transport), zap.Int("total", total))
	return c
}

// Unregister drops the connection and every subscription it holds.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		r.removeLocked(c)
	}
	total := len(r.conns)
	r.mu.Unlock()

	if ok {
		r.logger.Debug("realtime client unregistered",
			zap.String("conn_id", id), zap.Int("total", total))
	}
}

func (r *Registry) removeLocked(c *Conn) {
	for s := range r.connScopes[c.ID] {
		if set := r.scopes[s]; set != nil {
			delete(set, c.ID)
			if len(set) == 0 {
				delete(r.scopes, s)
			}
		}
	}
	delete(r.connScopes, c.ID)
	delete(r.conns, c.ID)
	close(c.send)
	r.metrics.ConnectionClosed(c.Transport)
}

// Subscribe is idempotent. It reports whether the subscription is new.
func (r *Registry) Subscribe(connID string, s Scope) (bool, error) {
	if !s.Valid() {
		return false, fmt.Errorf("invalid scope %s", s)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; !ok {
		return false, ErrUnknownConnection
	}
	set := r.scopes[s]
	if set == nil {
		set = make(map[string]struct{})
		r.scopes[s] = set
	}
	if _, dup := set[connID]; dup {
		return false, nil
	}
	set[connID] = struct{}{}
	cs := r.connScopes[connID]
	if cs == nil {
		cs = make(map[Scope]struct{})
		r.connScopes[connID] = cs
	}
	cs[s] = struct{}{}
	return true, nil
}

// Unsubscribe is idempotent. It reports whether a subscription was removed.
func (r *Registry) Unsubscribe(connID string, s Scope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.scopes[s]
	if _, ok := set[connID]; !ok {
		return false
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.scopes, s)
	}
	delete(r.connScopes[connID], s)
	return true
}

// Route queues frame on every connection subscribed to any of scopes, each
// connection at most once, skipping exclude. A connection whose buffer is
// full misses the frame.
func (r *Registry) Route(scopes []Scope, frame []byte, exclude string) (delivered, dropped int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, s := range scopes {
		for id := range r.scopes[s] {
			if id == exclude {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			c := r.conns[id]
			select {
			case c.send <- frame:
				delivered++
			default:
				dropped++
				r.metrics.Dropped(c.Transport)
				r.logger.Warn("realtime client buffer full, dropping frame",
					zap.String("conn_id", id), zap.String("scope", s.String()))
			}
		}
	}
	return delivered, dropped
}

// SendTo queues frame on a single connection.
func (r *Registry) SendTo(connID string, frame []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	if !ok {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		r.metrics.Dropped(c.Transport)
		return false
	}
}

// Subscribers connection ids subscribed to s.
func (r *Registry) Subscribers(s Scope) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.scopes[s]))
	for id := range r.scopes[s] {
		out = append(out, id)
	}
	return out
}

// Count number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Conn looks up a registered connection.
func (r *Registry) Conn(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}
