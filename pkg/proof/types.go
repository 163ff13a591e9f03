// Package proof defines the proof record type and the lineage and chain
// validators that make the ledger tamper-evident.
package proof

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prooflane/prooflane/pkg/canonhash"
)

// Record is one immutable decision/action event in a proof chain.
//
// A record is hashed once at creation and never mutated afterwards;
// mutation is the threat this package exists to detect. String fields are
// treated as absent when empty, matching the canonical hashing rule that
// skips missing fields.
type Record struct {
	ProofID        string `json:"proof_id"`
	ParentID       string `json:"parent_id,omitempty"`
	SequenceNumber *int   `json:"sequence_number,omitempty"`

	EventID        string `json:"event_id,omitempty"`
	EventHash      string `json:"event_hash,omitempty"`
	EventType      string `json:"event_type,omitempty"`
	EventTimestamp string `json:"event_timestamp,omitempty"`

	DecisionID          string         `json:"decision_id,omitempty"`
	DecisionHash        string         `json:"decision_hash,omitempty"`
	DecisionOutcome     string         `json:"decision_outcome,omitempty"`
	DecisionRule        string         `json:"decision_rule,omitempty"`
	DecisionRuleVersion string         `json:"decision_rule_version,omitempty"`
	DecisionInputs      map[string]any `json:"decision_inputs,omitempty"`
	DecisionExplanation string         `json:"decision_explanation,omitempty"`

	ActionID      string         `json:"action_id,omitempty"`
	ActionType    string         `json:"action_type,omitempty"`
	ActionStatus  string         `json:"action_status,omitempty"`
	ActionDetails map[string]any `json:"action_details,omitempty"`
	ActionError   string         `json:"action_error,omitempty"`

	ProofTimestamp string `json:"proof_timestamp,omitempty"`

	ContentHash string `json:"content_hash,omitempty"`
	ChainHash   string `json:"chain_hash,omitempty"`

	// Mutable audit metadata, excluded from content hashing.
	Signature  string `json:"signature,omitempty"`
	VerifiedAt string `json:"verified_at,omitempty"`
	ReceivedAt string `json:"received_at,omitempty"`
}

// RequiredFields must all be present for a record to pass individual
// validation.
var RequiredFields = []string{
	"proof_id",
	"event_id",
	"event_hash",
	"event_type",
	"decision_id",
	"decision_hash",
	"decision_outcome",
	"action_id",
	"action_type",
	"action_status",
	"proof_timestamp",
}

// UnmarshalJSON accepts both "sequence_number" (canonical) and "sequence"
// (legacy call sites) for the sequence field.
func (r *Record) UnmarshalJSON(b []byte) error {
	type alias Record
	aux := struct {
		*alias
		Sequence *int `json:"sequence,omitempty"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if r.SequenceNumber == nil && aux.Sequence != nil {
		r.SequenceNumber = aux.Sequence
	}
	return nil
}

// IsRoot reports whether the record claims to start a chain: no parent,
// or a self-parent.
func (r *Record) IsRoot() bool {
	return r.ParentID == "" || r.ParentID == r.ProofID
}

// Sequence returns the sequence number and whether one was supplied.
func (r *Record) Sequence() (int, bool) {
	if r.SequenceNumber == nil {
		return 0, false
	}
	return *r.SequenceNumber, true
}

// Fields returns the record as a flat field map containing only the
// fields that are actually set. This is the input shape for canonical
// hashing.
func (r *Record) Fields() map[string]any {
	m := map[string]any{}
	put := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	put("proof_id", r.ProofID)
	put("parent_id", r.ParentID)
	if r.SequenceNumber != nil {
		m["sequence_number"] = *r.SequenceNumber
	}
	put("event_id", r.EventID)
	put("event_hash", r.EventHash)
	put("event_type", r.EventType)
	put("event_timestamp", r.EventTimestamp)
	put("decision_id", r.DecisionID)
	put("decision_hash", r.DecisionHash)
	put("decision_outcome", r.DecisionOutcome)
	put("decision_rule", r.DecisionRule)
	put("decision_rule_version", r.DecisionRuleVersion)
	if r.DecisionInputs != nil {
		m["decision_inputs"] = r.DecisionInputs
	}
	put("decision_explanation", r.DecisionExplanation)
	put("action_id", r.ActionID)
	put("action_type", r.ActionType)
	put("action_status", r.ActionStatus)
	if r.ActionDetails != nil {
		m["action_details"] = r.ActionDetails
	}
	put("action_error", r.ActionError)
	put("proof_timestamp", r.ProofTimestamp)
	put("content_hash", r.ContentHash)
	put("chain_hash", r.ChainHash)
	put("signature", r.Signature)
	put("verified_at", r.VerifiedAt)
	put("received_at", r.ReceivedAt)
	return m
}

// ComputeContentHash hashes the record's designated content fields.
func (r *Record) ComputeContentHash() (string, error) {
	return canonhash.ContentHash(r.Fields())
}

// Seal computes and stores the record's content hash and chain hash,
// linking it to previousChainHash (canonhash.GenesisHash for a root).
// Called once by the producer; resealing an already-distributed record is
// exactly the mutation the validators reject.
func (r *Record) Seal(previousChainHash string) error {
	if previousChainHash == "" {
		previousChainHash = canonhash.GenesisHash
	}
	ch, err := r.ComputeContentHash()
	if err != nil {
		return err
	}
	r.ContentHash = ch
	r.ChainHash = canonhash.ChainHash(previousChainHash, ch)
	return nil
}

// MarshalLine encodes the record as a single compact JSON line for JSONL
// ledgers.
func (r *Record) MarshalLine() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal proof: %w", err)
	}
	return b, nil
}

// ParseRecord decodes a single JSON proof object.
func ParseRecord(b []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("invalid proof json: %w", err)
	}
	return &r, nil
}

func isValidUUID(v string) bool {
	_, err := uuid.Parse(v)
	return err == nil
}

func isValidTimestamp(v string) bool {
	if v == "" {
		return false
	}
	_, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v))
	return err == nil
}
