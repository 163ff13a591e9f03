// Package integrity enforces cryptographic immutability for proof
// artifacts submitted one at a time. It keeps registries of everything it
// has accepted and rejects hash collisions, lineage truncation,
// out-of-order submission, and duplicates.
package integrity

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prooflane/prooflane/pkg/canonhash"
	"github.com/prooflane/prooflane/pkg/proof"
)

// ViolationType identifies the class of integrity violation.
type ViolationType string

const (
	ViolationHashCollision     ViolationType = "HASH_COLLISION"
	ViolationHashMismatch      ViolationType = "HASH_MISMATCH"
	ViolationLineageTruncation ViolationType = "LINEAGE_TRUNCATION"
	ViolationLineageGap        ViolationType = "LINEAGE_GAP"
	ViolationOutOfOrder        ViolationType = "OUT_OF_ORDER"
	ViolationDuplicateProof    ViolationType = "DUPLICATE_PROOF"
	ViolationMissingParent     ViolationType = "MISSING_PARENT"
	ViolationCircularReference ViolationType = "CIRCULAR_REFERENCE"
	ViolationInvalidHashFormat ViolationType = "INVALID_HASH_FORMAT"
)

// CheckResult reports one integrity check. Evidence carries
// violation-specific detail for the audit trail.
type CheckResult struct {
	Valid         bool           `json:"valid"`
	ViolationType ViolationType  `json:"violation_type,omitempty"`
	ProofID       string         `json:"proof_id,omitempty"`
	Reason        string         `json:"reason"`
	Evidence      map[string]any `json:"evidence,omitempty"`
	Timestamp     string         `json:"timestamp"`
}

// AuditEntry renders the result in the shape the audit log stores.
func (r CheckResult) AuditEntry() map[string]any {
	return map[string]any{
		"event":          "proof_integrity_check",
		"valid":          r.Valid,
		"violation_type": string(r.ViolationType),
		"proof_id":       r.ProofID,
		"reason":         r.Reason,
		"evidence":       r.Evidence,
		"timestamp":      r.Timestamp,
	}
}

func pass(proofID, reason string) CheckResult {
	return CheckResult{
		Valid:     true,
		ProofID:   proofID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func fail(vt ViolationType, proofID, reason string, evidence map[string]any) CheckResult {
	return CheckResult{
		Valid:         false,
		ViolationType: vt,
		ProofID:       proofID,
		Reason:        reason,
		Evidence:      evidence,
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// CollisionError is raised when two distinct proofs fingerprint to the
// same hash. Treated as an active attack, not a validation failure.
type CollisionError struct {
	ProofID         string
	HashValue       string
	ExistingProofID string
	DetectedAt      time.Time
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("hash collision detected: %s collides with %s at hash %s...",
		e.ProofID, e.ExistingProofID, e.HashValue[:16])
}

// TruncationError is raised when a proof references a parent the checker
// has never accepted.
type TruncationError struct {
	ProofID        string
	ExpectedParent string
	DetectedAt     time.Time
}

func (e *TruncationError) Error() string {
	return fmt.Sprintf("lineage truncation detected: %s expected parent %s, got none",
		e.ProofID, e.ExpectedParent)
}

// OutOfOrderError is raised when a proof's sequence number does not
// follow its parent's.
type OutOfOrderError struct {
	ProofID          string
	ExpectedSequence int
	ActualSequence   int
	DetectedAt       time.Time
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("out-of-order proof: %s expected seq %d, got %d",
		e.ProofID, e.ExpectedSequence, e.ActualSequence)
}

// Checker verifies proof artifacts against everything it has already
// accepted. Safe for concurrent use.
type Checker struct {
	mu sync.Mutex

	// fingerprint -> proof_id, for collision detection
	hashes map[string]string
	// proof_id -> sequence number
	sequences map[string]int
	// proof_id -> parent_id
	lineage map[string]string
	known   map[string]struct{}

	log *slog.Logger
}

// NewChecker builds an empty checker. A nil logger falls back to
// slog.Default.
func NewChecker(log *slog.Logger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		hashes:    map[string]string{},
		sequences: map[string]int{},
		lineage:   map[string]string{},
		known:     map[string]struct{}{},
		log:       log,
	}
}

// VerifyProof checks one artifact against the registries and registers it
// on success.
//
// Format problems and duplicates come back as failed results. Collision,
// missing parent, and out-of-order submission are returned as typed
// errors alongside the failed result, because they indicate tampering
// rather than sloppy input.
func (c *Checker) VerifyProof(r *proof.Record) (CheckResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	proofID := r.ProofID
	if proofID == "" {
		proofID = "UNKNOWN"
	}

	if result := c.checkHashFormat(r, proofID); !result.Valid {
		c.logViolation(result)
		return result, nil
	}

	fingerprint, err := canonhash.Fingerprint(r.Fields())
	if err != nil {
		return fail(ViolationHashMismatch, proofID, "fingerprint computation failed", map[string]any{
			"error": err.Error(),
		}), fmt.Errorf("fingerprint proof %s: %w", proofID, err)
	}

	if existing, ok := c.hashes[fingerprint]; ok && existing != proofID {
		result := fail(ViolationHashCollision, proofID,
			fmt.Sprintf("hash collision with %s", existing), map[string]any{
				"hash":           fingerprint[:16] + "...",
				"existing_proof": existing,
			})
		c.logViolation(result)
		return result, &CollisionError{
			ProofID:         proofID,
			HashValue:       fingerprint,
			ExistingProofID: existing,
			DetectedAt:      time.Now().UTC(),
		}
	}

	if _, dup := c.known[proofID]; dup {
		result := fail(ViolationDuplicateProof, proofID, "duplicate proof submission", nil)
		c.logViolation(result)
		return result, nil
	}

	if !r.IsRoot() {
		if _, ok := c.known[r.ParentID]; !ok {
			result := fail(ViolationMissingParent, proofID,
				fmt.Sprintf("parent %s not found", r.ParentID), map[string]any{
					"parent_id": r.ParentID,
				})
			c.logViolation(result)
			return result, &TruncationError{
				ProofID:        proofID,
				ExpectedParent: r.ParentID,
				DetectedAt:     time.Now().UTC(),
			}
		}
	}

	if result, ooErr := c.checkSequence(r, proofID); !result.Valid {
		c.logViolation(result)
		return result, ooErr
	}

	c.register(r, proofID, fingerprint)

	return pass(proofID, "proof integrity verified"), nil
}

// VerifyChain validates an ordered chain as one unit: root start, parent
// linkage, no circular references, positional sequence numbers. Stops at
// the first violation; full-chain hash validation lives in the proof
// package.
func (c *Checker) VerifyChain(records []*proof.Record) CheckResult {
	if len(records) == 0 {
		return pass("", "empty chain is valid")
	}

	first := records[0]
	if !first.IsRoot() {
		result := fail(ViolationLineageTruncation, first.ProofID,
			"chain does not start at root", map[string]any{"parent_id": first.ParentID})
		c.logViolation(result)
		return result
	}

	seen := map[string]struct{}{first.ProofID: {}}
	for i := 1; i < len(records); i++ {
		rec := records[i]

		if _, dup := seen[rec.ProofID]; dup {
			result := fail(ViolationCircularReference, rec.ProofID,
				fmt.Sprintf("circular reference detected at position %d", i),
				map[string]any{"position": i})
			c.logViolation(result)
			return result
		}

		prevID := records[i-1].ProofID
		if rec.ParentID != prevID {
			result := fail(ViolationLineageGap, rec.ProofID,
				fmt.Sprintf("lineage gap: expected parent %s, got %s", prevID, rec.ParentID),
				map[string]any{
					"expected_parent": prevID,
					"actual_parent":   rec.ParentID,
					"position":        i,
				})
			c.logViolation(result)
			return result
		}

		if seq, ok := rec.Sequence(); ok && seq != i {
			result := fail(ViolationOutOfOrder, rec.ProofID,
				fmt.Sprintf("sequence mismatch: expected %d, got %d", i, seq),
				map[string]any{
					"expected_sequence": i,
					"actual_sequence":   seq,
				})
			c.logViolation(result)
			return result
		}

		seen[rec.ProofID] = struct{}{}
	}

	return pass("", fmt.Sprintf("chain of %d proofs verified", len(records)))
}

// DetectLineageCorruption checks a proof's claimed parent against a known
// valid lineage (proof ids, oldest first).
func (c *Checker) DetectLineageCorruption(r *proof.Record, knownLineage []string) CheckResult {
	if len(knownLineage) == 0 {
		if !r.IsRoot() {
			result := fail(ViolationLineageTruncation, r.ProofID,
				"root proof claims non-self parent", map[string]any{
					"claimed_parent": r.ParentID,
				})
			c.logViolation(result)
			return result
		}
		return pass(r.ProofID, "root proof lineage valid")
	}

	expectedParent := knownLineage[len(knownLineage)-1]
	if r.ParentID != expectedParent {
		result := fail(ViolationLineageTruncation, r.ProofID,
			fmt.Sprintf("lineage corruption: expected %s, got %s", expectedParent, r.ParentID),
			map[string]any{
				"expected_parent":      expectedParent,
				"claimed_parent":       r.ParentID,
				"known_lineage_length": len(knownLineage),
			})
		c.logViolation(result)
		return result
	}

	return pass(r.ProofID, "lineage verified")
}

// ClearRegistries drops all accepted state. Testing only.
func (c *Checker) ClearRegistries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hashes = map[string]string{}
	c.sequences = map[string]int{}
	c.lineage = map[string]string{}
	c.known = map[string]struct{}{}
}

func (c *Checker) checkHashFormat(r *proof.Record, proofID string) CheckResult {
	checks := []struct {
		field string
		value string
	}{
		{"content_hash", r.ContentHash},
		{"decision_hash", r.DecisionHash},
		{"chain_hash", r.ChainHash},
	}
	for _, chk := range checks {
		if chk.value == "" {
			continue
		}
		if !canonhash.IsHexHash(chk.value) {
			return fail(ViolationInvalidHashFormat, proofID,
				fmt.Sprintf("invalid %s format", chk.field), map[string]any{
					"field":  chk.field,
					"length": len(chk.value),
				})
		}
	}
	return pass(proofID, "hash formats valid")
}

func (c *Checker) checkSequence(r *proof.Record, proofID string) (CheckResult, error) {
	seq, hasSeq := r.Sequence()

	if r.IsRoot() {
		if hasSeq && seq != 0 {
			return fail(ViolationOutOfOrder, proofID,
					fmt.Sprintf("root proof should have sequence 0, got %d", seq),
					map[string]any{
						"expected_sequence": 0,
						"actual_sequence":   seq,
					}), &OutOfOrderError{
					ProofID:          proofID,
					ExpectedSequence: 0,
					ActualSequence:   seq,
					DetectedAt:       time.Now().UTC(),
				}
		}
		return pass(proofID, "root sequence valid"), nil
	}

	parentSeq, ok := c.sequences[r.ParentID]
	if !ok {
		parentSeq = -1
	}
	expected := parentSeq + 1
	if hasSeq && seq != expected {
		return fail(ViolationOutOfOrder, proofID,
				fmt.Sprintf("expected sequence %d, got %d", expected, seq),
				map[string]any{
					"expected_sequence": expected,
					"actual_sequence":   seq,
					"parent_sequence":   parentSeq,
				}), &OutOfOrderError{
				ProofID:          proofID,
				ExpectedSequence: expected,
				ActualSequence:   seq,
				DetectedAt:       time.Now().UTC(),
			}
	}
	return pass(proofID, "sequence valid"), nil
}

func (c *Checker) register(r *proof.Record, proofID, fingerprint string) {
	c.hashes[fingerprint] = proofID
	c.known[proofID] = struct{}{}
	c.lineage[proofID] = r.ParentID
	if seq, ok := r.Sequence(); ok {
		c.sequences[proofID] = seq
	} else {
		c.sequences[proofID] = 0
	}
}

func (c *Checker) logViolation(result CheckResult) {
	c.log.Error("integrity violation",
		"violation_type", string(result.ViolationType),
		"proof_id", result.ProofID,
		"reason", result.Reason,
		"evidence", result.Evidence,
	)
}
