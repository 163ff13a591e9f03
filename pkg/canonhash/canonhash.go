// Package canonhash implements the canonical content hashing and chain
// hashing used by the proof ledger.
//
// Canonical hashing rule: take the designated subset of a proof's fields,
// serialize them as canonical JSON (sorted keys, no whitespace), and hash
// the UTF-8 bytes with SHA-256. Two correct implementations must produce
// byte-identical canonical JSON for the same logical proof or ledgers
// become non-portable.
package canonhash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// GenesisHash anchors the first entry of every chain: 64 ASCII zeros,
// the length of a SHA-256 hex digest.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// HashableFields is the designated field subset used for content hashing.
// Fields outside this set (signature, verified_at, received_at and the
// hash fields themselves) may vary without invalidating the chain. Do not
// extend this set to "hash everything": mutable audit metadata is excluded
// deliberately.
var HashableFields = []string{
	"event_id",
	"event_hash",
	"event_type",
	"event_timestamp",
	"decision_id",
	"decision_hash",
	"decision_outcome",
	"decision_rule",
	"decision_rule_version",
	"decision_inputs",
	"decision_explanation",
	"action_id",
	"action_type",
	"action_status",
	"action_details",
	"action_error",
	"proof_timestamp",
}

// ContentHash computes the deterministic SHA-256 hex digest over the
// designated fields of data. Fields absent from data are skipped, not an
// error. Non-primitive values (times, fmt.Stringer implementations) are
// reduced to their string form before serialization.
func ContentHash(data map[string]any) (string, error) {
	return ContentHashFields(data, HashableFields)
}

// ContentHashFields is ContentHash with an explicit field subset.
func ContentHashFields(data map[string]any, fields []string) (string, error) {
	subset := make(map[string]any, len(fields))
	for _, f := range fields {
		v, ok := data[f]
		if !ok {
			continue
		}
		subset[f] = canonicalValue(v)
	}
	b, err := json.Marshal(subset)
	if err != nil {
		return "", fmt.Errorf("canonical encode: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// ChainHash binds a proof to its predecessor:
//
//	SHA256(previousHash + ":" + contentHash)
//
// Pure function. The separator is exactly one ASCII colon; changing it
// makes the chain incompatible with every persisted proof.
func ChainHash(previousHash, contentHash string) string {
	sum := sha256.Sum256([]byte(previousHash + ":" + contentHash))
	return hex.EncodeToString(sum[:])
}

// IsHexHash reports whether v is exactly 64 hex characters, the only
// accepted on-wire hash format.
func IsHexHash(v string) bool {
	if len(v) != 64 {
		return false
	}
	_, err := hex.DecodeString(v)
	return err == nil
}

// MutableAuditFields may change after a proof is sealed and are excluded
// from whole-record fingerprints.
var MutableAuditFields = []string{"signature", "verified_at", "received_at"}

// Fingerprint hashes every field of data except the mutable audit
// fields. Unlike ContentHash it also covers content_hash and chain_hash,
// so the same content at a different chain position fingerprints
// differently. Used for collision and duplicate detection.
func Fingerprint(data map[string]any) (string, error) {
	subset := make(map[string]any, len(data))
	for k, v := range data {
		subset[k] = canonicalValue(v)
	}
	for _, f := range MutableAuditFields {
		delete(subset, f)
	}
	b, err := json.Marshal(subset)
	if err != nil {
		return "", fmt.Errorf("canonical encode: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// HashString hashes a raw string with SHA-256 and returns the hex digest.
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func canonicalValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = canonicalValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = canonicalValue(inner)
		}
		return out
	case fmt.Stringer:
		return t.String()
	default:
		return v
	}
}
