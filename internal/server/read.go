package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gridstone/tidewater/internal/entity"
	"github.com/gridstone/tidewater/internal/remote"
)

// ChangesSince returns every change with seq greater than since, plus
// the scope's current seq as the next cursor. Tombstones are included
// so clients learn about deletions. Results are ordered deterministically:
// ORDER BY seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty Changed slice (not nil) when the client is caught up.
func (s *Store) ChangesSince(ctx context.Context, scopeID string, since int64) (remote.Delta, error) {
	seq, err := s.scopeSeq(ctx, scopeID)
	if err != nil {
		return remote.Delta{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT type, id, version, deleted, payload, updated_at
		FROM entities
		WHERE scope_id = ? AND seq > ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, scopeID, since)
	if err != nil {
		return remote.Delta{}, fmt.Errorf("changes since: %w", err)
	}
	defer rows.Close()

	changed := []remote.Envelope{}
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return remote.Delta{}, fmt.Errorf("changes since: %w", err)
		}
		changed = append(changed, env)
	}
	if err := rows.Err(); err != nil {
		return remote.Delta{}, fmt.Errorf("changes since: %w", err)
	}

	return remote.Delta{
		Changed: changed,
		Cursor:  remote.Cursor(strconv.FormatInt(seq, 10)),
	}, nil
}

// Snapshot returns every live entity in the scope along with the
// current cursor, for initial hydration. Tombstones are excluded: a
// fresh client has nothing to delete.
func (s *Store) Snapshot(ctx context.Context, scopeID string) (remote.Snapshot, error) {
	seq, err := s.scopeSeq(ctx, scopeID)
	if err != nil {
		return remote.Snapshot{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT type, id, version, deleted, payload, updated_at
		FROM entities
		WHERE scope_id = ? AND deleted = 0
		ORDER BY type ASC, id COLLATE BINARY ASC
	`, scopeID)
	if err != nil {
		return remote.Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	defer rows.Close()

	entities := []remote.Envelope{}
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return remote.Snapshot{}, fmt.Errorf("snapshot: %w", err)
		}
		entities = append(entities, env)
	}
	if err := rows.Err(); err != nil {
		return remote.Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}

	return remote.Snapshot{
		ScopeID:  scopeID,
		Entities: entities,
		Cursor:   remote.Cursor(strconv.FormatInt(seq, 10)),
	}, nil
}

// scopeSeq reads the scope's logical clock, failing with NOT_FOUND for
// unknown scopes.
func (s *Store) scopeSeq(ctx context.Context, scopeID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT seq FROM scopes WHERE id = ?`, scopeID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, remote.NewScopeNotFoundError(scopeID)
	}
	if err != nil {
		return 0, fmt.Errorf("read scope seq: %w", err)
	}
	return seq, nil
}

// scanEnvelope reconstructs a wire envelope from an entities row.
// Tombstone rows have a NULL payload.
func scanEnvelope(rows *sql.Rows) (remote.Envelope, error) {
	var (
		typ       string
		id        string
		version   int64
		deleted   bool
		payload   sql.NullString
		updatedAt string
	)
	if err := rows.Scan(&typ, &id, &version, &deleted, &payload, &updatedAt); err != nil {
		return remote.Envelope{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return remote.Envelope{}, fmt.Errorf("parse updated_at for %s/%s: %w", typ, id, err)
	}
	env := remote.Envelope{
		Type:      entity.Type(typ),
		ID:        id,
		Version:   version,
		Deleted:   deleted,
		UpdatedAt: ts,
	}
	if payload.Valid {
		env.Payload = json.RawMessage(payload.String)
	}
	return env, nil
}
