package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistedState_WithDefaults(t *testing.T) {
	var empty PersistedState
	got := empty.WithDefaults()
	assert.Equal(t, PersistedState{"users": map[string]any{}, "groups": map[string]any{}}, got)

	existing := PersistedState{"users": map[string]any{"42": "alice"}, "settings": "x"}
	got = existing.WithDefaults()
	assert.Equal(t, map[string]any{"42": "alice"}, got["users"])
	assert.Equal(t, map[string]any{}, got["groups"])
	assert.Equal(t, "x", got["settings"])
	_, mutated := existing["groups"]
	assert.False(t, mutated, "WithDefaults must not modify the receiver")
}

func TestPersistedState_CloneIsDeep(t *testing.T) {
	orig := PersistedState{
		"users": map[string]any{
			"1": map[string]any{"name": "bob", "tags": []any{"a", "b"}},
		},
	}
	clone := orig.Clone()

	user := clone["users"].(map[string]any)["1"].(map[string]any)
	user["name"] = "eve"
	user["tags"].([]any)[0] = "z"

	origUser := orig["users"].(map[string]any)["1"].(map[string]any)
	assert.Equal(t, "bob", origUser["name"])
	assert.Equal(t, "a", origUser["tags"].([]any)[0])
}

func TestPersistedState_Collection(t *testing.T) {
	s := PersistedState{}
	c := s.Collection("groups")
	c["-100"] = true

	require.Contains(t, s, "groups")
	assert.Equal(t, map[string]any{"-100": true}, s["groups"])
}
