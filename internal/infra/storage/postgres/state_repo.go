package postgres

import (
	"context"
	"fmt"
	"sort"

	"github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/vietddude/warden/internal/core/domain"
)

// StateRepo stores each top-level state collection as one JSONB row.
type StateRepo struct {
	db *DB
}

func NewStateRepo(db *DB) *StateRepo {
	return &StateRepo{db: db}
}

type stateRow struct {
	Collection string `db:"collection"`
	Data       []byte `db:"data"`
}

func (r *StateRepo) Read(ctx context.Context) (domain.PersistedState, error) {
	var rows []stateRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT collection, data FROM bot_state`); err != nil {
		return nil, fmt.Errorf("failed to query state: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	state := make(domain.PersistedState, len(rows))
	for _, row := range rows {
		var v any
		if err := json.Unmarshal(row.Data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode collection %s: %w", row.Collection, err)
		}
		state[row.Collection] = v
	}
	return state, nil
}

// Write upserts every collection and deletes rows for collections that are
// gone, in one transaction.
func (r *StateRepo) Write(ctx context.Context, state domain.PersistedState) error {
	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	sort.Strings(names)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM bot_state WHERE NOT (collection = ANY($1))`,
		pq.Array(names),
	); err != nil {
		return fmt.Errorf("failed to prune state: %w", err)
	}

	for _, name := range names {
		data, err := json.Marshal(state[name])
		if err != nil {
			return fmt.Errorf("failed to encode collection %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bot_state (collection, data, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (collection) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
			name, data,
		); err != nil {
			return fmt.Errorf("failed to upsert collection %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit state: %w", err)
	}
	return nil
}

// Health pings the database.
func (r *StateRepo) Health(ctx context.Context) error {
	return r.db.Health(ctx)
}

func (r *StateRepo) Close() error {
	return r.db.Close()
}
