package storage

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/bitfantasy/formflow/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	body := []byte("artifact-bytes")
	info, err := s.Put(ctx, "tasks/7/a.xlsx", bytes.NewReader(body), int64(len(body)), "application/octet-stream")
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), info.Size)

	got, err := s.Stat(ctx, "tasks/7/a.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "tasks/7/a.xlsx", got.Key)

	rc, err := s.Get(ctx, "tasks/7/a.xlsx")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, body, data)

	require.NoError(t, s.Remove(ctx, "tasks/7/a.xlsx"))
	_, err = s.Stat(ctx, "tasks/7/a.xlsx")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	// removing twice is fine
	assert.NoError(t, s.Remove(ctx, "tasks/7/a.xlsx"))
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	_, err = s.Put(context.Background(), "../escape", bytes.NewReader(nil), 0, "")
	assert.Error(t, err)
}

func TestLocalStore_SizeMismatch(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	_, err = s.Put(context.Background(), "short", bytes.NewReader([]byte("ab")), 5, "")
	assert.Error(t, err)
	_, err = s.Stat(context.Background(), "short")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLocalStore_CancelledContext(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Put(ctx, "x", bytes.NewReader([]byte("abc")), 3, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_Driver(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Driver: "local", LocalRoot: t.TempDir()}}
	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, s)

	cfg.Storage.Driver = "ftp"
	_, err = New(context.Background(), cfg)
	assert.Error(t, err)
}
