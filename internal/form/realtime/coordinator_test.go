package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryAudit struct {
	mu   sync.Mutex
	rows []entity.WebsocketMessage
	err  error
}

func (a *memoryAudit) Create(_ context.Context, m *entity.WebsocketMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.rows = append(a.rows, *m)
	return nil
}

type failingGuard struct{}

func (failingGuard) Claim(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}
func (failingGuard) Release(context.Context, string) error { return nil }

func newCoordinator(t *testing.T, buffer int, opts CoordinatorOptions) (*Coordinator, *Registry) {
	t.Helper()
	reg := NewRegistry(buffer, nil, nil)
	return NewCoordinator(reg, nil, opts), reg
}

func TestCoordinator_GeneratesOperationID(t *testing.T) {
	c, reg := newCoordinator(t, 8, CoordinatorOptions{})
	conn := reg.Register("a", "u", 0, TransportWebSocket)
	_, _ = reg.Subscribe("a", TaskScope(1))

	ok := c.Broadcast(context.Background(), TypeTaskUpdate, TaskUpdatePayload{TaskID: 1, ID: 1, Status: entity.TaskStatusInProgress, Progress: 40}, Target{TaskID: 1})
	require.True(t, ok)

	frames := drain(conn)
	require.Len(t, frames, 1)
	msg, err := Decode(frames[0])
	require.NoError(t, err)
	assert.NotEmpty(t, msg.OperationID)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestCoordinator_DuplicateOperationSuppressed(t *testing.T) {
	c, reg := newCoordinator(t, 8, CoordinatorOptions{})
	conn := reg.Register("a", "u", 0, TransportWebSocket)
	_, _ = reg.Subscribe("a", TaskScope(1))

	target := Target{TaskID: 1, OperationID: "op-1"}
	payload := ClearFieldsPayload{TaskID: 1, FormType: "kyb", OperationID: "op-1"}
	assert.True(t, c.Broadcast(context.Background(), TypeClearFields, payload, target))
	assert.False(t, c.Broadcast(context.Background(), TypeClearFields, payload, target))
	assert.Len(t, drain(conn), 1)

	// same operation, different message type is a separate emission
	assert.True(t, c.Broadcast(context.Background(), TypeTaskUpdate, TaskUpdatePayload{TaskID: 1}, target))
}

func TestCoordinator_ReusedOperationIDNewRevision(t *testing.T) {
	c, reg := newCoordinator(t, 8, CoordinatorOptions{})
	conn := reg.Register("a", "u", 0, TransportWebSocket)
	_, _ = reg.Subscribe("a", TaskScope(1))
	ctx := context.Background()

	first := Target{TaskID: 1, OperationID: "client-op", Revision: "1700000000000000001"}
	second := Target{TaskID: 1, OperationID: "client-op", Revision: "1700000000000000002"}
	assert.True(t, c.Broadcast(ctx, TypeTaskUpdate, TaskUpdatePayload{TaskID: 1, Progress: 40}, first))
	assert.True(t, c.Broadcast(ctx, TypeTaskUpdate, TaskUpdatePayload{TaskID: 1, Progress: 60}, second))
	// replay of the second commit
	assert.False(t, c.Broadcast(ctx, TypeTaskUpdate, TaskUpdatePayload{TaskID: 1, Progress: 60}, second))

	frames := drain(conn)
	require.Len(t, frames, 2)
	msg, err := Decode(frames[1])
	require.NoError(t, err)
	assert.Equal(t, "client-op", msg.OperationID)
}

func TestCoordinator_NoSubscribers(t *testing.T) {
	c, reg := newCoordinator(t, 8, CoordinatorOptions{})
	other := reg.Register("b", "u", 0, TransportWebSocket)
	_, _ = reg.Subscribe("b", TaskScope(2))

	assert.False(t, c.Broadcast(context.Background(), TypeTaskUpdate, TaskUpdatePayload{TaskID: 1}, Target{TaskID: 1}))
	assert.Empty(t, drain(other), "no fan-out to unrelated tasks")

	assert.False(t, c.Broadcast(context.Background(), TypeTaskUpdate, nil, Target{}))
}

func TestCoordinator_ExcludesOriginator(t *testing.T) {
	c, reg := newCoordinator(t, 8, CoordinatorOptions{})
	sender := reg.Register("sender", "u", 0, TransportWebSocket)
	peer := reg.Register("peer", "u", 0, TransportWebSocket)
	_, _ = reg.Subscribe("sender", TaskScope(3))
	_, _ = reg.Subscribe("peer", TaskScope(3))

	ok := c.Broadcast(context.Background(), TypeClearFields, ClearFieldsPayload{TaskID: 3}, Target{TaskID: 3, Exclude: "sender"})
	assert.True(t, ok)
	assert.Empty(t, drain(sender))
	assert.Len(t, drain(peer), 1)
}

func TestCoordinator_PreservesPerTaskOrder(t *testing.T) {
	c, reg := newCoordinator(t, 1024, CoordinatorOptions{})
	conn := reg.Register("a", "u", 0, TransportWebSocket)
	_, _ = reg.Subscribe("a", TaskScope(1))

	const writers, perWriter = 4, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				c.Broadcast(context.Background(), TypeTaskUpdate,
					map[string]int{"writer": w, "seq": i}, Target{TaskID: 1})
			}
		}(w)
	}
	wg.Wait()

	last := map[int]int{}
	for w := 0; w < writers; w++ {
		last[w] = -1
	}
	frames := drain(conn)
	require.Len(t, frames, writers*perWriter)
	for _, f := range frames {
		msg, err := Decode(f)
		require.NoError(t, err)
		var p map[string]int
		require.NoError(t, msg.DecodePayload(&p))
		assert.Greater(t, p["seq"], last[p["writer"]], "writer %d out of order", p["writer"])
		last[p["writer"]] = p["seq"]
	}
}

func TestCoordinator_LegacyDataField(t *testing.T) {
	c, reg := newCoordinator(t, 8, CoordinatorOptions{EmitLegacyData: true})
	conn := reg.Register("a", "u", 0, TransportWebSocket)
	_, _ = reg.Subscribe("a", CompanyScope(4))

	c.Broadcast(context.Background(), TypeCompanyTabsUpdated, CompanyTabsPayload{CompanyID: 4}, Target{CompanyID: 4})
	frames := drain(conn)
	require.Len(t, frames, 1)
	assert.Contains(t, string(frames[0]), `"data":`)
	assert.Contains(t, string(frames[0]), `"payload":`)
}

func TestCoordinator_Audit(t *testing.T) {
	audit := &memoryAudit{}
	c, reg := newCoordinator(t, 8, CoordinatorOptions{Audit: audit})
	reg.Register("a", "u", 0, TransportWebSocket)
	_, _ = reg.Subscribe("a", TaskScope(1))

	c.Broadcast(context.Background(), TypeTaskUpdate, TaskUpdatePayload{TaskID: 1}, Target{TaskID: 1, CompanyID: 2, OperationID: "op-a"})
	c.Broadcast(context.Background(), TypeTaskUpdate, TaskUpdatePayload{TaskID: 9}, Target{TaskID: 9})

	require.Len(t, audit.rows, 2)
	assert.Equal(t, "op-a", audit.rows[0].OperationID)
	assert.Equal(t, 1, audit.rows[0].Recipients)
	require.NotNil(t, audit.rows[0].CompanyID)
	assert.Equal(t, int64(2), *audit.rows[0].CompanyID)
	assert.Equal(t, 0, audit.rows[1].Recipients)

	audit.err = errors.New("db down")
	assert.True(t, c.Broadcast(context.Background(), TypeTaskUpdate, TaskUpdatePayload{TaskID: 1}, Target{TaskID: 1}),
		"audit failure does not fail the broadcast")
}

func TestCoordinator_DedupStoreFailureStillDelivers(t *testing.T) {
	reg := NewRegistry(8, nil, nil)
	c := NewCoordinator(reg, failingGuard{}, CoordinatorOptions{})
	conn := reg.Register("a", "u", 0, TransportWebSocket)
	_, _ = reg.Subscribe("a", TaskScope(1))

	assert.True(t, c.Broadcast(context.Background(), TypeTaskUpdate, TaskUpdatePayload{TaskID: 1}, Target{TaskID: 1}))
	assert.Len(t, drain(conn), 1)
}

func TestOperationTracker(t *testing.T) {
	tr := NewOperationTracker(time.Minute)
	now := time.Unix(100, 0)
	tr.now = func() time.Time { return now }

	id := tr.Issue()
	assert.True(t, tr.IsOwn(id))
	assert.False(t, tr.ShouldProcess(Message{Type: TypeClearFields, OperationID: id}))
	assert.True(t, tr.ShouldProcess(Message{Type: TypeClearFields, OperationID: "someone-else"}))
	assert.True(t, tr.ShouldProcess(Message{Type: TypeTaskUpdate}))

	now = now.Add(2 * time.Minute)
	assert.False(t, tr.IsOwn(id))
}
