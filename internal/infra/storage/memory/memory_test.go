package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/warden/internal/core/domain"
)

func TestStorage_WriteIsolatesCaller(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	state := domain.PersistedState{"users": map[string]any{"1": "bob"}}
	require.NoError(t, s.Write(ctx, state))
	state["users"].(map[string]any)["1"] = "mallory"

	got, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bob", got["users"].(map[string]any)["1"])
	assert.Equal(t, 1, s.Writes())
}
