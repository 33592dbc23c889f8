package remote

import (
	"encoding/json"
	"sort"
	"time"
)

// payloadID extracts the "id" field from an envelope payload. Entity ids
// are minted by the client (optimistic inserts need an id before the
// remote round-trip), so a create payload without one is malformed.
func payloadID(env Envelope) (string, error) {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(env.Payload, &probe); err != nil {
		return "", NewValidationError(env.Type, "", "payload is not a JSON object")
	}
	if probe.ID == "" {
		return "", NewValidationError(env.Type, "", "payload missing id")
	}
	return probe.ID, nil
}

// stampMeta rewrites the server-owned metadata fields inside the payload
// (version, updated_at, and created_at when createdAt is non-zero) so the
// payload always agrees with the envelope. The client decodes payloads,
// not envelopes, into entity values; letting them drift would let a
// merged entity carry a version other than the one the merge compared.
func stampMeta(env Envelope, version int64, updatedAt time.Time, createdAt time.Time) (Envelope, error) {
	var fields map[string]any
	if err := json.Unmarshal(env.Payload, &fields); err != nil {
		return Envelope{}, NewValidationError(env.Type, env.ID, "payload is not a JSON object")
	}
	fields["id"] = env.ID
	fields["version"] = version
	fields["updated_at"] = updatedAt.UTC().Format(time.RFC3339Nano)
	if !createdAt.IsZero() {
		fields["created_at"] = createdAt.UTC().Format(time.RFC3339Nano)
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return Envelope{}, NewValidationError(env.Type, env.ID, "payload not serializable: "+err.Error())
	}
	env.Payload = raw
	env.Version = version
	env.UpdatedAt = updatedAt
	return env, nil
}

// sortEnvelopes orders envelopes by (type, id) for deterministic wire
// output and golden traces.
func sortEnvelopes(envs []Envelope) {
	sort.Slice(envs, func(i, j int) bool {
		if envs[i].Type != envs[j].Type {
			return envs[i].Type < envs[j].Type
		}
		return envs[i].ID < envs[j].ID
	})
}
