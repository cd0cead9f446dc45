package guard

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGuard_Cooldown(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	g := NewMemoryGuard().WithClock(func() time.Time { return now })

	ok, err := g.Claim(ctx, "clear:ky3p:7", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(4 * time.Second)
	ok, _ = g.Claim(ctx, "clear:ky3p:7", 5*time.Second)
	assert.False(t, ok, "inside cooldown")

	ok, _ = g.Claim(ctx, "clear:kyb:7", 5*time.Second)
	assert.True(t, ok, "different key")

	now = now.Add(2 * time.Second)
	ok, _ = g.Claim(ctx, "clear:ky3p:7", 5*time.Second)
	assert.True(t, ok, "cooldown elapsed")

	require.NoError(t, g.Release(ctx, "clear:ky3p:7"))
	ok, _ = g.Claim(ctx, "clear:ky3p:7", 5*time.Second)
	assert.True(t, ok, "released")
}

func TestMemoryGuard_ConcurrentClaims(t *testing.T) {
	g := NewMemoryGuard()
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := g.Claim(context.Background(), "k", time.Minute); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestRedisGuard(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	g := NewRedisGuard(rdb, "")

	ok, err := g.Claim(ctx, "clear:kyb:1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("formflow:guard:clear:kyb:1"))

	ok, err = g.Claim(ctx, "clear:kyb:1", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(6 * time.Second)
	ok, err = g.Claim(ctx, "clear:kyb:1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, g.Release(ctx, "clear:kyb:1"))
	assert.False(t, mr.Exists("formflow:guard:clear:kyb:1"))
}

func TestKeyedMutex_SerialisesPerKey(t *testing.T) {
	k := NewKeyedMutex()
	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("task:1")
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive)
	assert.Equal(t, 0, k.Size())
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	k := NewKeyedMutex()
	unlockA := k.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := k.Lock("b")
		unlockB()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
}

func TestInFlight(t *testing.T) {
	f := NewInFlight()
	assert.True(t, f.Acquire("submit:1"))
	assert.False(t, f.Acquire("submit:1"))
	assert.True(t, f.Acquire("submit:2"))
	f.Release("submit:1")
	assert.True(t, f.Acquire("submit:1"))
}
