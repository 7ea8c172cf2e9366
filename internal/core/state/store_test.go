package state

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/warden/internal/core/domain"
	"github.com/vietddude/warden/internal/infra/storage/memory"
)

type failingBackend struct {
	readErr  error
	writeErr error
}

func (f *failingBackend) Read(context.Context) (domain.PersistedState, error) {
	return nil, f.readErr
}

func (f *failingBackend) Write(context.Context, domain.PersistedState) error {
	return f.writeErr
}

func (f *failingBackend) Close() error { return nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStore_LoadEmptyWritesDefaults(t *testing.T) {
	backend := memory.NewMemoryStorage()
	s := NewStore(backend, WithLogger(quietLogger()))

	require.NoError(t, s.Load(context.Background()))

	assert.Equal(t, 1, backend.Writes())
	stored, err := backend.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.PersistedState{"users": map[string]any{}, "groups": map[string]any{}}, stored)
}

func TestStore_LoadMergesDefaults(t *testing.T) {
	backend := memory.NewMemoryStorage()
	require.NoError(t, backend.Write(context.Background(), domain.PersistedState{
		"users": map[string]any{"1": "bob"},
	}))
	s := NewStore(backend, WithLogger(quietLogger()))

	require.NoError(t, s.Load(context.Background()))

	assert.Equal(t, 1, backend.Writes(), "existing state is not rewritten on load")
	assert.Equal(t, domain.PersistedState{
		"users":  map[string]any{"1": "bob"},
		"groups": map[string]any{},
	}, s.Snapshot())
}

func TestStore_SaveThenLoadRoundTrip(t *testing.T) {
	backend := memory.NewMemoryStorage()
	s := NewStore(backend, WithLogger(quietLogger()))
	require.NoError(t, s.Load(context.Background()))

	require.NoError(t, s.Update(func(st domain.PersistedState) error {
		st.Collection("users")["42"] = map[string]any{"name": "alice"}
		return nil
	}))
	require.NoError(t, s.Save(context.Background()))
	require.NoError(t, s.Save(context.Background()))

	reloaded := NewStore(backend, WithLogger(quietLogger()))
	require.NoError(t, reloaded.Load(context.Background()))
	assert.Equal(t, s.Snapshot(), reloaded.Snapshot())
}

func TestStore_SnapshotIsIsolated(t *testing.T) {
	s := NewStore(memory.NewMemoryStorage(), WithLogger(quietLogger()))
	require.NoError(t, s.Load(context.Background()))

	snap := s.Snapshot()
	snap.Collection("users")["x"] = 1

	assert.Empty(t, s.Snapshot()["users"])
}

func TestStore_Replace(t *testing.T) {
	s := NewStore(memory.NewMemoryStorage(), WithLogger(quietLogger()))
	s.Replace(domain.PersistedState{"settings": map[string]any{"lang": "en"}})

	snap := s.Snapshot()
	assert.Contains(t, snap, "users")
	assert.Contains(t, snap, "groups")
	assert.Equal(t, map[string]any{"lang": "en"}, snap["settings"])
	assert.NoError(t, s.Save(context.Background()))
}

func TestStore_Errors(t *testing.T) {
	s := NewStore(&failingBackend{readErr: errors.New("disk gone")}, WithLogger(quietLogger()))
	err := s.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load state")

	assert.ErrorIs(t, s.Save(context.Background()), ErrNotLoaded)

	s = NewStore(&failingBackend{writeErr: errors.New("read-only")}, WithLogger(quietLogger()))
	assert.Error(t, s.Load(context.Background()), "writing defaults fails")
}

func TestStore_ServeSavesPeriodicallyAndOnStop(t *testing.T) {
	backend := memory.NewMemoryStorage()
	mock := clock.NewMock()
	s := NewStore(backend, WithClock(mock), WithSaveInterval(5*time.Second), WithLogger(quietLogger()))
	require.NoError(t, s.Load(context.Background()))
	require.Equal(t, 1, backend.Writes())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	require.Eventually(t, func() bool {
		mock.Add(5 * time.Second)
		return backend.Writes() >= 2
	}, time.Second, 5*time.Millisecond)

	before := backend.Writes()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("saver did not stop")
	}
	assert.GreaterOrEqual(t, backend.Writes(), before+1)
}
