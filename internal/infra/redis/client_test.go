package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/warden/internal/core/domain"
)

func TestStateKey(t *testing.T) {
	assert.Equal(t, "warden:state", stateKey("warden"))
	assert.Equal(t, "staging:state", stateKey("staging"))
}

func TestEncodeDecodeFields(t *testing.T) {
	state := domain.PersistedState{
		"users":  map[string]any{"7": map[string]any{"lang": "en"}},
		"groups": map[string]any{},
	}

	fields, err := encodeFields(state)
	require.NoError(t, err)
	assert.Equal(t, []any{"groups", "{}", "users", `{"7":{"lang":"en"}}`}, fields)

	decoded, err := decodeFields(map[string]string{
		"groups": "{}",
		"users":  `{"7":{"lang":"en"}}`,
	})
	require.NoError(t, err)
	assert.Equal(t, state, decoded)
}

func TestDecodeFields(t *testing.T) {
	state, err := decodeFields(nil)
	require.NoError(t, err)
	assert.Nil(t, state)

	_, err = decodeFields(map[string]string{"users": "{broken"})
	assert.Error(t, err)
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient(Config{URL: "not-a-redis-url"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse redis URL")
}
