package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gridstone/tidewater/internal/entity"
	"github.com/gridstone/tidewater/internal/remote"
)

// CreateEntity inserts a new entity into a scope, assigning version 1
// (or, when re-creating a tombstoned id, the next version after the
// tombstone; per-entity versions never restart).
//
// Fails with CONFLICT if the id is live, NOT_FOUND if the scope is
// unknown, VALIDATION_FAILURE if the payload is malformed.
func (s *Store) CreateEntity(ctx context.Context, scopeID string, typ entity.Type, payload json.RawMessage) (remote.Envelope, error) {
	id, err := validatePayload(typ, payload, "")
	if err != nil {
		return remote.Envelope{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return remote.Envelope{}, fmt.Errorf("create entity: begin tx: %w", err)
	}
	defer tx.Rollback()

	var prevVersion int64
	var deleted bool
	err = tx.QueryRowContext(ctx,
		`SELECT version, deleted FROM entities WHERE scope_id = ? AND type = ? AND id = ?`,
		scopeID, string(typ), id,
	).Scan(&prevVersion, &deleted)
	switch {
	case err == nil && !deleted:
		return remote.Envelope{}, remote.NewConflictError(typ, id)
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return remote.Envelope{}, fmt.Errorf("create entity: %w", err)
	}

	seq, err := bumpScopeSeq(ctx, tx, scopeID)
	if err != nil {
		return remote.Envelope{}, err
	}

	now := time.Now().UTC()
	env, err := stampPayload(typ, id, prevVersion+1, now, now, payload)
	if err != nil {
		return remote.Envelope{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entities (scope_id, type, id, version, deleted, payload, updated_at, seq)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT(scope_id, type, id) DO UPDATE
		SET version = excluded.version, deleted = 0, payload = excluded.payload,
		    updated_at = excluded.updated_at, seq = excluded.seq
	`, scopeID, string(typ), id, env.Version, string(env.Payload), now.Format(time.RFC3339Nano), seq)
	if err != nil {
		return remote.Envelope{}, fmt.Errorf("create entity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return remote.Envelope{}, fmt.Errorf("create entity: commit: %w", err)
	}
	return env, nil
}

// UpdateEntity replaces an entity's payload and increments its version.
// Fails with NOT_FOUND if the id is absent or tombstoned.
func (s *Store) UpdateEntity(ctx context.Context, scopeID string, typ entity.Type, id string, payload json.RawMessage) (remote.Envelope, error) {
	if _, err := validatePayload(typ, payload, id); err != nil {
		return remote.Envelope{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return remote.Envelope{}, fmt.Errorf("update entity: begin tx: %w", err)
	}
	defer tx.Rollback()

	var version int64
	var deleted bool
	err = tx.QueryRowContext(ctx,
		`SELECT version, deleted FROM entities WHERE scope_id = ? AND type = ? AND id = ?`,
		scopeID, string(typ), id,
	).Scan(&version, &deleted)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && deleted) {
		return remote.Envelope{}, remote.NewNotFoundError(typ, id)
	}
	if err != nil {
		return remote.Envelope{}, fmt.Errorf("update entity: %w", err)
	}

	seq, err := bumpScopeSeq(ctx, tx, scopeID)
	if err != nil {
		return remote.Envelope{}, err
	}

	now := time.Now().UTC()
	env, err := stampPayload(typ, id, version+1, now, time.Time{}, payload)
	if err != nil {
		return remote.Envelope{}, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE entities SET version = ?, payload = ?, updated_at = ?, seq = ?
		WHERE scope_id = ? AND type = ? AND id = ?
	`, env.Version, string(env.Payload), now.Format(time.RFC3339Nano), seq, scopeID, string(typ), id)
	if err != nil {
		return remote.Envelope{}, fmt.Errorf("update entity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return remote.Envelope{}, fmt.Errorf("update entity: commit: %w", err)
	}
	return env, nil
}

// DeleteEntity tombstones an entity. Idempotent: deleting an absent or
// already-deleted id succeeds without writing anything.
func (s *Store) DeleteEntity(ctx context.Context, scopeID string, typ entity.Type, id string) error {
	if !entity.ValidTypes[typ] {
		return remote.NewValidationError(typ, id, "unknown entity type")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete entity: begin tx: %w", err)
	}
	defer tx.Rollback()

	var version int64
	var deleted bool
	err = tx.QueryRowContext(ctx,
		`SELECT version, deleted FROM entities WHERE scope_id = ? AND type = ? AND id = ?`,
		scopeID, string(typ), id,
	).Scan(&version, &deleted)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && deleted) {
		return scopeExists(ctx, tx, scopeID)
	}
	if err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}

	seq, err := bumpScopeSeq(ctx, tx, scopeID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE entities SET version = ?, deleted = 1, payload = NULL, updated_at = ?, seq = ?
		WHERE scope_id = ? AND type = ? AND id = ?
	`, version+1, now.Format(time.RFC3339Nano), seq, scopeID, string(typ), id)
	if err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete entity: commit: %w", err)
	}
	return nil
}

// bumpScopeSeq advances the scope's logical clock and returns the new
// value. Fails with NOT_FOUND if the scope is unknown. Every write path
// checks scope existence through this single point.
func bumpScopeSeq(ctx context.Context, tx *sql.Tx, scopeID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE scopes SET seq = seq + 1 WHERE id = ?`, scopeID)
	if err != nil {
		return 0, fmt.Errorf("bump scope seq: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bump scope seq: %w", err)
	}
	if n == 0 {
		return 0, remote.NewScopeNotFoundError(scopeID)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT seq FROM scopes WHERE id = ?`, scopeID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("read scope seq: %w", err)
	}
	return seq, nil
}

// scopeExists returns NOT_FOUND if the scope is unknown, nil otherwise.
func scopeExists(ctx context.Context, tx *sql.Tx, scopeID string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM scopes WHERE id = ?`, scopeID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return remote.NewScopeNotFoundError(scopeID)
	}
	if err != nil {
		return fmt.Errorf("check scope: %w", err)
	}
	return nil
}

// validatePayload rejects malformed payloads before they reach the
// durable store: unknown types, non-object payloads, missing ids, and a
// payload id disagreeing with the target id.
func validatePayload(typ entity.Type, payload json.RawMessage, wantID string) (string, error) {
	if !entity.ValidTypes[typ] {
		return "", remote.NewValidationError(typ, wantID, "unknown entity type")
	}
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return "", remote.NewValidationError(typ, wantID, "payload is not a JSON object")
	}
	if probe.ID == "" {
		return "", remote.NewValidationError(typ, wantID, "payload missing id")
	}
	if wantID != "" && probe.ID != wantID {
		return "", remote.NewValidationError(typ, wantID, fmt.Sprintf("payload id %q does not match target id", probe.ID))
	}
	if _, err := entity.New(typ, payload); err != nil {
		return "", remote.NewValidationError(typ, probe.ID, err.Error())
	}
	return probe.ID, nil
}

// stampPayload rewrites the server-owned metadata fields inside the
// payload so the stored document always agrees with the envelope the
// client receives and later merges by version.
func stampPayload(typ entity.Type, id string, version int64, updatedAt, createdAt time.Time, payload json.RawMessage) (remote.Envelope, error) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return remote.Envelope{}, remote.NewValidationError(typ, id, "payload is not a JSON object")
	}
	fields["id"] = id
	fields["version"] = version
	fields["updated_at"] = updatedAt.Format(time.RFC3339Nano)
	if !createdAt.IsZero() {
		fields["created_at"] = createdAt.Format(time.RFC3339Nano)
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return remote.Envelope{}, remote.NewValidationError(typ, id, "payload not serializable: "+err.Error())
	}
	return remote.Envelope{
		Type:      typ,
		ID:        id,
		Version:   version,
		UpdatedAt: updatedAt,
		Payload:   raw,
	}, nil
}
