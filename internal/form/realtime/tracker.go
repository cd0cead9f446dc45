package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// OperationTracker remembers the operation ids a client issued so it can
// ignore the server echo of its own actions.
type OperationTracker struct {
	mu  sync.Mutex
	ttl time.Duration
	ops map[string]time.Time
	now func() time.Time
}

func NewOperationTracker(ttl time.Duration) *OperationTracker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &OperationTracker{ttl: ttl, ops: make(map[string]time.Time), now: time.Now}
}

// Issue returns a new operation id and tracks it.
func (t *OperationTracker) Issue() string {
	id := uuid.New().String()
	t.Track(id)
	return id
}

func (t *OperationTracker) Track(opID string) {
	if opID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.ops[opID] = now.Add(t.ttl)
	for id, exp := range t.ops {
		if now.After(exp) {
			delete(t.ops, id)
		}
	}
}

// IsOwn reports whether opID was issued here and has not expired.
func (t *OperationTracker) IsOwn(opID string) bool {
	if opID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	exp, ok := t.ops[opID]
	if !ok {
		return false
	}
	if t.now().After(exp) {
		delete(t.ops, opID)
		return false
	}
	return true
}

// ShouldProcess is !IsOwn(m.OperationID).
func (t *OperationTracker) ShouldProcess(m Message) bool {
	return !t.IsOwn(m.OperationID)
}
