package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"github.com/bitfantasy/formflow/internal/form/guard"
	"github.com/bitfantasy/formflow/internal/form/realtime"
	"github.com/bitfantasy/formflow/internal/form/repository"
	"github.com/bitfantasy/formflow/internal/form/storage"
	"github.com/bitfantasy/formflow/internal/form/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type sentMessage struct {
	Type    string
	Payload interface{}
	Target  realtime.Target
}

// recordingBroadcaster captures broadcasts in call order.
type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, msgType string, payload interface{}, target realtime.Target) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sentMessage{Type: msgType, Payload: payload, Target: target})
	return true
}

func (b *recordingBroadcaster) messages() []sentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentMessage(nil), b.sent...)
}

func (b *recordingBroadcaster) types() []string {
	var out []string
	for _, m := range b.messages() {
		out = append(out, m.Type)
	}
	return out
}

func (b *recordingBroadcaster) reset() {
	b.mu.Lock()
	b.sent = nil
	b.mu.Unlock()
}

type serviceEnv struct {
	db    *gorm.DB
	repos *repository.Repositories
	store *storage.LocalStore
	bc    *recordingBroadcaster
	guard *guard.MemoryGuard
	clock *fakeClock
	svc   *Services
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupServices(t *testing.T) *serviceEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	g := guard.NewMemoryGuard().WithClock(clock.Now)
	bc := &recordingBroadcaster{}
	repos := repository.NewRepositories(db)
	svc := NewServices(db, repos, store, bc, Options{
		Guard:         g,
		ClearCooldown: 5 * time.Second,
		ArtifactRetry: RetryPolicy{Attempts: 3, Initial: time.Millisecond, Max: 5 * time.Millisecond, Timeout: 5 * time.Second},
		UnlockRetry:   RetryPolicy{Attempts: 3, Initial: time.Millisecond, Max: 5 * time.Millisecond, Timeout: 5 * time.Second},
	})
	return &serviceEnv{db: db, repos: repos, store: store, bc: bc, guard: g, clock: clock, svc: svc}
}

// seedTask creates a task of formType with n fields, the first completed of
// them answered, and its stored state recomputed.
func (e *serviceEnv) seedTask(t *testing.T, formType string, n, completed int) (*entity.Company, *entity.Task, []string) {
	t.Helper()
	company := testutil.SeedCompany(t, e.db, "Acme Ltd")
	task := testutil.SeedTask(t, e.db, company.ID, formType)
	keys := testutil.SeedFields(t, e.db, formType, n)
	e.svc.Catalog.Invalidate(formType)
	testutil.SeedResponses(t, e.db, task, keys[:completed])
	res, err := e.svc.Response.Recompute(context.Background(), task.ID, "system")
	require.NoError(t, err)
	e.bc.reset()
	return company, res.Task, keys
}

func answers(keys ...string) []ResponseInput {
	in := make([]ResponseInput, len(keys))
	for i, k := range keys {
		in[i] = ResponseInput{Ref: entity.FieldKeyRef(k), Value: "yes"}
	}
	return in
}

// scriptedGenerator fails the first failures calls, optionally blocks on
// gate, then delegates to the real generator.
type scriptedGenerator struct {
	next     ArtifactGenerator
	failures int32
	calls    int32
	gate     chan struct{}
	started  chan struct{}
}

var errGeneratorDown = errors.New("renderer unavailable")

func (g *scriptedGenerator) Generate(ctx context.Context, in ArtifactInput) (Artifact, error) {
	n := atomic.AddInt32(&g.calls, 1)
	if g.started != nil && n == 1 {
		close(g.started)
	}
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return Artifact{}, ctx.Err()
		}
	}
	if n <= atomic.LoadInt32(&g.failures) {
		return Artifact{}, errGeneratorDown
	}
	return g.next.Generate(ctx, in)
}
