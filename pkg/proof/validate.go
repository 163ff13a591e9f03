package proof

import (
	"fmt"
	"strings"
	"time"

	"github.com/prooflane/prooflane/pkg/canonhash"
)

// Break kinds derived from validator error text. Callers classify
// failures by scanning error strings for the keywords "mutation" and
// "sequence"/"gap"; that keyword contract is load-bearing and must not
// be dropped without updating every consumer.
const (
	BreakMutation    = "MUTATION"
	BreakSequenceGap = "SEQUENCE_GAP"
	BreakLineage     = "LINEAGE_BREAK"
)

// ValidationResult is the outcome of a validation pass: overall pass or
// fail, the accumulated human-readable errors in detection order, any
// non-fatal warnings, and a metadata bag with at least the validation
// timestamp.
type ValidationResult struct {
	Passed   bool           `json:"passed"`
	Errors   []string       `json:"errors"`
	Warnings []string       `json:"warnings"`
	Metadata map[string]any `json:"metadata"`
}

// Contains reports whether any error message contains keyword,
// case-insensitively. This is the query predicate behind keyword-based
// failure classification.
func (v ValidationResult) Contains(keyword string) bool {
	k := strings.ToLower(keyword)
	for _, e := range v.Errors {
		if strings.Contains(strings.ToLower(e), k) {
			return true
		}
	}
	return false
}

// ClassifyBreakIfFailed is ClassifyBreak for passed-or-failed results:
// it returns "" when the result passed.
func ClassifyBreakIfFailed(v ValidationResult) string {
	if v.Passed {
		return ""
	}
	return ClassifyBreak(v)
}

// ClassifyBreak maps a failed result onto one of the three break kinds.
func ClassifyBreak(v ValidationResult) string {
	switch {
	case v.Contains("mutation"):
		return BreakMutation
	case v.Contains("sequence") || v.Contains("gap"):
		return BreakSequenceGap
	default:
		return BreakLineage
	}
}

func newResult(errors, warnings []string, metadata map[string]any) ValidationResult {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["validated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	return ValidationResult{
		Passed:   len(errors) == 0,
		Errors:   errors,
		Warnings: warnings,
		Metadata: metadata,
	}
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}

// ValidateRecord checks a single record in isolation: required fields
// present, proof_id is a UUID, hash fields are 64 hex characters, and the
// proof timestamp parses.
func ValidateRecord(r *Record) ValidationResult {
	return ValidateRecordAgainstHash(r, "")
}

// ValidateRecordAgainstHash is ValidateRecord plus, when expectedHash is
// non-empty, a recomputation of the content hash against it.
func ValidateRecordAgainstHash(r *Record, expectedHash string) ValidationResult {
	var errors []string

	fields := r.Fields()
	var missing []string
	for _, f := range RequiredFields {
		if _, ok := fields[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		errors = append(errors, fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")))
	}

	if r.ProofID != "" && !isValidUUID(r.ProofID) {
		errors = append(errors, fmt.Sprintf("invalid proof_id format: %s", r.ProofID))
	}
	if r.EventHash != "" && !canonhash.IsHexHash(r.EventHash) {
		errors = append(errors, fmt.Sprintf("invalid event_hash format: %s", shortHash(r.EventHash)))
	}
	if r.DecisionHash != "" && !canonhash.IsHexHash(r.DecisionHash) {
		errors = append(errors, fmt.Sprintf("invalid decision_hash format: %s", shortHash(r.DecisionHash)))
	}
	if r.ProofTimestamp != "" && !isValidTimestamp(r.ProofTimestamp) {
		errors = append(errors, fmt.Sprintf("invalid proof_timestamp format: %s", r.ProofTimestamp))
	}

	if expectedHash != "" {
		computed, err := r.ComputeContentHash()
		if err != nil {
			errors = append(errors, fmt.Sprintf("content hash computation failed: %v", err))
		} else if computed != expectedHash {
			errors = append(errors, fmt.Sprintf(
				"content hash mismatch: expected %s, computed %s",
				shortHash(expectedHash), shortHash(computed)))
		}
	}

	return newResult(errors, nil, map[string]any{
		"field_count":       len(fields),
		"has_expected_hash": expectedHash != "",
	})
}

// ValidateLineage determines whether candidate correctly extends
// existing. With an empty existing chain the candidate must be a valid
// root sealed against the genesis hash; otherwise its chain hash must
// bind to the last element's chain hash and its sequence number must be
// the last element's plus one.
func ValidateLineage(candidate *Record, existing []*Record) ValidationResult {
	return ValidateLineageFrom(candidate, existing, canonhash.GenesisHash)
}

// ValidateLineageFrom is ValidateLineage with an explicit genesis hash.
func ValidateLineageFrom(candidate *Record, existing []*Record, genesisHash string) ValidationResult {
	var errors []string
	var warnings []string

	if rec := ValidateRecordAgainstHash(candidate, ""); !rec.Passed {
		for _, e := range rec.Errors {
			errors = append(errors, "candidate: "+e)
		}
		return newResult(errors, warnings, map[string]any{"stage": "record_validation"})
	}

	expectedPrevious := genesisHash
	expectedSequence := 0
	if len(existing) > 0 {
		last := existing[len(existing)-1]
		expectedPrevious = last.ChainHash
		if expectedPrevious == "" {
			warnings = append(warnings, "last existing proof has no chain_hash, falling back to genesis")
			expectedPrevious = genesisHash
		}
		if seq, ok := last.Sequence(); ok {
			expectedSequence = seq + 1
		} else {
			expectedSequence = len(existing)
		}
	} else if !candidate.IsRoot() {
		errors = append(errors, fmt.Sprintf(
			"chain is empty but candidate claims parent %s (not a valid root)", candidate.ParentID))
	}

	if seq, ok := candidate.Sequence(); ok && seq != expectedSequence {
		errors = append(errors, fmt.Sprintf(
			"sequence discontinuity: expected %d, got %d (forward-only lineage violated)",
			expectedSequence, seq))
	}

	contentHash := candidate.ContentHash
	if contentHash == "" {
		computed, err := candidate.ComputeContentHash()
		if err != nil {
			errors = append(errors, fmt.Sprintf("content hash computation failed: %v", err))
			return newResult(errors, warnings, map[string]any{"stage": "content_hash"})
		}
		contentHash = computed
	}

	if candidate.ChainHash != "" {
		expected := canonhash.ChainHash(expectedPrevious, contentHash)
		if candidate.ChainHash != expected {
			errors = append(errors, fmt.Sprintf(
				"chain hash mismatch: proof does not chain to previous (expected previous=%s, computed chain=%s, got chain=%s)",
				shortHash(expectedPrevious), shortHash(expected), shortHash(candidate.ChainHash)))
		}
	} else if len(existing) > 0 {
		warnings = append(warnings, "candidate has no chain_hash, lineage cannot be verified")
	}

	return newResult(errors, warnings, map[string]any{
		"expected_sequence":  expectedSequence,
		"expected_previous":  shortHash(expectedPrevious),
		"proof_count_before": len(existing),
	})
}

// ValidateNoMutation recomputes the record's content hash and compares it
// to the hash taken when the proof was created. A mismatch means a
// hashable field was changed or removed after sealing. Changes to
// non-hashable fields are invisible here by design.
func ValidateNoMutation(r *Record, originalContentHash string) ValidationResult {
	var errors []string
	current, err := r.ComputeContentHash()
	if err != nil {
		errors = append(errors, fmt.Sprintf("content hash computation failed: %v", err))
		return newResult(errors, nil, nil)
	}
	if current != originalContentHash {
		errors = append(errors, fmt.Sprintf(
			"proof mutation detected: original hash=%s, current hash=%s",
			shortHash(originalContentHash), shortHash(current)))
	}
	return newResult(errors, nil, map[string]any{
		"original_hash": shortHash(originalContentHash),
		"current_hash":  shortHash(current),
	})
}

// ValidateChain validates an ordered proof sequence as one unit,
// detecting mutation, deletion, reordering, duplicates, and sequence
// gaps. All violations are accumulated in index order; the validator
// never short-circuits.
//
// When a stored content hash disagrees with the recomputed one, the
// stored hash is carried forward into the next chain-hash expectation so
// the corruption is pinned to the single tampered proof instead of
// cascading into every later entry.
func ValidateChain(proofs []*Record) ValidationResult {
	return ValidateChainFrom(proofs, canonhash.GenesisHash)
}

// ValidateChainFrom is ValidateChain with an explicit genesis hash.
func ValidateChainFrom(proofs []*Record, genesisHash string) ValidationResult {
	var errors []string
	var warnings []string

	if len(proofs) == 0 {
		return newResult(nil, []string{"empty proof chain"}, map[string]any{"proof_count": 0})
	}

	if first := proofs[0]; !first.IsRoot() {
		errors = append(errors, fmt.Sprintf(
			"proof 0: chain does not start at a valid root (parent_id=%s)", first.ParentID))
	}

	seen := map[string]int{}
	previousChainHash := genesisHash

	for i, p := range proofs {
		if rec := ValidateRecordAgainstHash(p, ""); !rec.Passed {
			for _, e := range rec.Errors {
				errors = append(errors, fmt.Sprintf("proof %d: %s", i, e))
			}
		}

		if prev, dup := seen[p.ProofID]; dup {
			errors = append(errors, fmt.Sprintf(
				"proof %d: circular reference, proof_id %s already appeared at position %d",
				i, p.ProofID, prev))
		} else {
			seen[p.ProofID] = i
		}

		if i > 0 {
			prevID := proofs[i-1].ProofID
			if p.ParentID != prevID {
				errors = append(errors, fmt.Sprintf(
					"proof %d: lineage gap, expected parent %s, got %s", i, prevID, p.ParentID))
			}
		}

		if seq, ok := p.Sequence(); ok && seq != i {
			errors = append(errors, fmt.Sprintf(
				"proof %d: sequence mismatch, expected %d, got %d", i, i, seq))
		}

		computed, err := p.ComputeContentHash()
		if err != nil {
			errors = append(errors, fmt.Sprintf("proof %d: content hash computation failed: %v", i, err))
			continue
		}
		contentHash := computed
		if p.ContentHash != "" {
			if p.ContentHash != computed {
				errors = append(errors, fmt.Sprintf(
					"proof %d: content mutation detected, stored hash=%s, computed hash=%s",
					i, shortHash(p.ContentHash), shortHash(computed)))
			}
			// Carry the stored hash forward so only the tampered
			// proof fails, not everything after it.
			contentHash = p.ContentHash
		}

		if p.ChainHash != "" {
			expected := canonhash.ChainHash(previousChainHash, contentHash)
			if p.ChainHash != expected {
				errors = append(errors, fmt.Sprintf(
					"proof %d: chain hash mismatch, stored=%s, expected=%s",
					i, shortHash(p.ChainHash), shortHash(expected)))
			}
			previousChainHash = p.ChainHash
		} else {
			warnings = append(warnings, fmt.Sprintf("proof %d: missing chain_hash", i))
			previousChainHash = canonhash.ChainHash(previousChainHash, contentHash)
		}
	}

	return newResult(errors, warnings, map[string]any{
		"proof_count":      len(proofs),
		"error_count":      len(errors),
		"final_chain_hash": shortHash(previousChainHash),
	})
}
