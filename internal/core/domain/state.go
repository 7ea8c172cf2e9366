package domain

// PersistedState is the durable application mapping. Top-level keys are
// collections such as "users" and "groups".
type PersistedState map[string]any

// DefaultCollections are merged into every loaded state.
var DefaultCollections = []string{"users", "groups"}

// WithDefaults returns a copy of s where every missing default collection
// is present as an empty map.
func (s PersistedState) WithDefaults() PersistedState {
	out := s.Clone()
	if out == nil {
		out = make(PersistedState, len(DefaultCollections))
	}
	for _, key := range DefaultCollections {
		if _, ok := out[key]; !ok {
			out[key] = map[string]any{}
		}
	}
	return out
}

// Collection returns the named top-level map, creating it when absent.
func (s PersistedState) Collection(name string) map[string]any {
	if c, ok := s[name].(map[string]any); ok {
		return c
	}
	c := map[string]any{}
	s[name] = c
	return c
}

// Clone deep-copies maps and slices so snapshots can be written without
// holding the owner's lock.
func (s PersistedState) Clone() PersistedState {
	if s == nil {
		return nil
	}
	out := make(PersistedState, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = cloneValue(inner)
		}
		return m
	case PersistedState:
		return t.Clone()
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = cloneValue(inner)
		}
		return s
	default:
		return v
	}
}
