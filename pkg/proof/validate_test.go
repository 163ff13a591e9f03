package proof

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/prooflane/prooflane/pkg/canonhash"
)

func testRecord(t *testing.T, seq int, parentID string) *Record {
	t.Helper()
	n := seq
	return &Record{
		ProofID:         uuid.NewString(),
		ParentID:        parentID,
		SequenceNumber:  &n,
		EventID:         uuid.NewString(),
		EventHash:       canonhash.HashString(fmt.Sprintf("event-%d", seq)),
		EventType:       "payment.settlement.requested",
		EventTimestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		DecisionID:      uuid.NewString(),
		DecisionHash:    canonhash.HashString(fmt.Sprintf("decision-%d", seq)),
		DecisionOutcome: "APPROVE",
		DecisionRule:    "settlement-threshold",
		ActionID:        uuid.NewString(),
		ActionType:      "settlement.release",
		ActionStatus:    "COMPLETED",
		ProofTimestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func testChain(t *testing.T, length int) []*Record {
	t.Helper()
	var chain []*Record
	previous := canonhash.GenesisHash
	parent := ""
	for i := 0; i < length; i++ {
		rec := testRecord(t, i, parent)
		if err := rec.Seal(previous); err != nil {
			t.Fatalf("seal proof %d: %v", i, err)
		}
		chain = append(chain, rec)
		previous = rec.ChainHash
		parent = rec.ProofID
	}
	return chain
}

func TestValidateRecordComplete(t *testing.T) {
	rec := testRecord(t, 0, "")
	result := ValidateRecord(rec)
	if !result.Passed {
		t.Fatalf("expected pass, got errors: %v", result.Errors)
	}
}

func TestValidateRecordMissingFields(t *testing.T) {
	rec := testRecord(t, 0, "")
	rec.DecisionOutcome = ""
	rec.ActionStatus = ""
	result := ValidateRecord(rec)
	if result.Passed {
		t.Fatal("expected failure for missing required fields")
	}
	if !result.Contains("decision_outcome") || !result.Contains("action_status") {
		t.Fatalf("missing fields not named in errors: %v", result.Errors)
	}
}

func TestValidateRecordBadFormats(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Record)
		keyword string
	}{
		{"bad proof_id", func(r *Record) { r.ProofID = "not-a-uuid" }, "proof_id"},
		{"bad event_hash", func(r *Record) { r.EventHash = "zzzz" }, "event_hash"},
		{"bad decision_hash", func(r *Record) { r.DecisionHash = "abc" }, "decision_hash"},
		{"bad timestamp", func(r *Record) { r.ProofTimestamp = "yesterday" }, "proof_timestamp"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := testRecord(t, 0, "")
			tc.mutate(rec)
			result := ValidateRecord(rec)
			if result.Passed {
				t.Fatal("expected failure")
			}
			if !result.Contains(tc.keyword) {
				t.Fatalf("expected error naming %s, got %v", tc.keyword, result.Errors)
			}
		})
	}
}

func TestValidateLineageRootOnEmptyChain(t *testing.T) {
	root := testRecord(t, 0, "")
	if err := root.Seal(canonhash.GenesisHash); err != nil {
		t.Fatal(err)
	}
	result := ValidateLineage(root, nil)
	if !result.Passed {
		t.Fatalf("root on empty chain should pass, got %v", result.Errors)
	}
}

func TestValidateLineageNonRootOnEmptyChain(t *testing.T) {
	rec := testRecord(t, 0, uuid.NewString())
	if err := rec.Seal(canonhash.GenesisHash); err != nil {
		t.Fatal(err)
	}
	result := ValidateLineage(rec, nil)
	if result.Passed {
		t.Fatal("non-root candidate on empty chain should fail")
	}
	if !result.Contains("root") {
		t.Fatalf("expected root error, got %v", result.Errors)
	}
}

func TestValidateLineageExtension(t *testing.T) {
	chain := testChain(t, 3)
	last := chain[len(chain)-1]
	next := testRecord(t, 3, last.ProofID)
	if err := next.Seal(last.ChainHash); err != nil {
		t.Fatal(err)
	}
	result := ValidateLineage(next, chain)
	if !result.Passed {
		t.Fatalf("valid extension rejected: %v", result.Errors)
	}
}

func TestValidateLineageWrongPrevious(t *testing.T) {
	chain := testChain(t, 3)
	next := testRecord(t, 3, chain[2].ProofID)
	// Sealed against the wrong predecessor.
	if err := next.Seal(chain[1].ChainHash); err != nil {
		t.Fatal(err)
	}
	result := ValidateLineage(next, chain)
	if result.Passed {
		t.Fatal("expected failure for wrong previous hash")
	}
	if !result.Contains("chain hash mismatch") {
		t.Fatalf("expected chain hash mismatch keyword, got %v", result.Errors)
	}
}

func TestValidateLineageSequenceGap(t *testing.T) {
	chain := testChain(t, 3)
	next := testRecord(t, 7, chain[2].ProofID)
	if err := next.Seal(chain[2].ChainHash); err != nil {
		t.Fatal(err)
	}
	result := ValidateLineage(next, chain)
	if result.Passed {
		t.Fatal("expected failure for sequence gap")
	}
	if !result.Contains("sequence") {
		t.Fatalf("expected sequence keyword, got %v", result.Errors)
	}
	if got := ClassifyBreak(result); got != BreakSequenceGap {
		t.Fatalf("classified as %s, want %s", got, BreakSequenceGap)
	}
}

func TestValidateNoMutation(t *testing.T) {
	rec := testRecord(t, 0, "")
	original, err := rec.ComputeContentHash()
	if err != nil {
		t.Fatal(err)
	}
	if result := ValidateNoMutation(rec, original); !result.Passed {
		t.Fatalf("untouched record flagged as mutated: %v", result.Errors)
	}

	rec.DecisionOutcome = "RELEASE"
	result := ValidateNoMutation(rec, original)
	if result.Passed {
		t.Fatal("mutation not detected")
	}
	if !result.Contains("mutation") {
		t.Fatalf("expected mutation keyword, got %v", result.Errors)
	}
	if got := ClassifyBreak(result); got != BreakMutation {
		t.Fatalf("classified as %s, want %s", got, BreakMutation)
	}
}

func TestValidateNoMutationIgnoresAuditFields(t *testing.T) {
	rec := testRecord(t, 0, "")
	original, err := rec.ComputeContentHash()
	if err != nil {
		t.Fatal(err)
	}
	rec.Signature = "sig-abc"
	rec.VerifiedAt = time.Now().UTC().Format(time.RFC3339Nano)
	if result := ValidateNoMutation(rec, original); !result.Passed {
		t.Fatalf("audit-only change flagged as mutation: %v", result.Errors)
	}
}

func TestValidateChainIntact(t *testing.T) {
	chain := testChain(t, 5)
	result := ValidateChain(chain)
	if !result.Passed {
		t.Fatalf("intact chain rejected: %v", result.Errors)
	}
	if result.Metadata["proof_count"] != 5 {
		t.Fatalf("wrong proof_count: %v", result.Metadata["proof_count"])
	}
}

func TestValidateChainEmpty(t *testing.T) {
	result := ValidateChain(nil)
	if !result.Passed {
		t.Fatalf("empty chain should be vacuously valid, got %v", result.Errors)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("empty chain should carry a warning")
	}
}

func TestValidateChainPinpointsMutation(t *testing.T) {
	chain := testChain(t, 5)
	chain[2].ActionStatus = "FAILED"

	result := ValidateChain(chain)
	if result.Passed {
		t.Fatal("mutation not detected")
	}
	for _, e := range result.Errors {
		if !strings.HasPrefix(e, "proof 2:") {
			t.Fatalf("corruption leaked past the tampered proof: %q", e)
		}
	}
	if !result.Contains("mutation") {
		t.Fatalf("expected mutation keyword, got %v", result.Errors)
	}
}

func TestValidateChainDetectsDeletion(t *testing.T) {
	chain := testChain(t, 5)
	spliced := append(append([]*Record{}, chain[:2]...), chain[3:]...)

	result := ValidateChain(spliced)
	if result.Passed {
		t.Fatal("deletion not detected")
	}
	if !result.Contains("parent") && !result.Contains("chain hash mismatch") {
		t.Fatalf("expected lineage errors, got %v", result.Errors)
	}
}

func TestValidateChainDetectsReordering(t *testing.T) {
	chain := testChain(t, 4)
	chain[1], chain[2] = chain[2], chain[1]

	result := ValidateChain(chain)
	if result.Passed {
		t.Fatal("reordering not detected")
	}
	if !result.Contains("sequence") {
		t.Fatalf("expected sequence errors, got %v", result.Errors)
	}
}

func TestValidateChainDetectsDuplicate(t *testing.T) {
	chain := testChain(t, 3)
	chain = append(chain, chain[1])

	result := ValidateChain(chain)
	if result.Passed {
		t.Fatal("duplicate not detected")
	}
	if !result.Contains("circular") {
		t.Fatalf("expected circular reference error, got %v", result.Errors)
	}
}

func TestValidateChainRejectsBadRoot(t *testing.T) {
	chain := testChain(t, 3)
	chain[0].ParentID = uuid.NewString()

	result := ValidateChain(chain)
	if result.Passed {
		t.Fatal("bad root not detected")
	}
	if !result.Contains("root") {
		t.Fatalf("expected root error, got %v", result.Errors)
	}
}

func TestMustValidateChainError(t *testing.T) {
	chain := testChain(t, 3)
	if err := MustValidateChain(chain); err != nil {
		t.Fatalf("intact chain raised: %v", err)
	}

	chain[1].EventType = "payment.settlement.cancelled"
	err := MustValidateChain(chain)
	if err == nil {
		t.Fatal("expected error")
	}
	var cbe *ChainBreakError
	if !errors.As(err, &cbe) {
		t.Fatalf("wrong error type: %T", err)
	}
	if cbe.Kind != BreakMutation {
		t.Fatalf("kind = %s, want %s", cbe.Kind, BreakMutation)
	}
}

func TestVerifyFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.jsonl")

	for i := 0; i < 4; i++ {
		var parent string
		if i > 0 {
			existing, err := os.Open(path)
			if err != nil {
				t.Fatal(err)
			}
			records, err := ReadLedger(existing)
			existing.Close()
			if err != nil {
				t.Fatal(err)
			}
			parent = records[len(records)-1].ProofID
		}
		if err := AppendRecord(path, testRecord(t, i, parent)); err != nil {
			t.Fatalf("append proof %d: %v", i, err)
		}
	}

	result, err := VerifyFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Passed {
		t.Fatalf("ledger file failed validation: %v", result.Errors)
	}
	if result.Metadata["source_file"] != path {
		t.Fatalf("source_file metadata missing")
	}
}

func TestReadLedgerRejectsMalformedLine(t *testing.T) {
	if _, err := ReadLedger(strings.NewReader("{\"proof_id\":\"x\"}\nnot-json\n")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSequenceAlias(t *testing.T) {
	rec, err := ParseRecord([]byte(`{"proof_id":"p","sequence":4}`))
	if err != nil {
		t.Fatal(err)
	}
	seq, ok := rec.Sequence()
	if !ok || seq != 4 {
		t.Fatalf("sequence alias not honored: %d %v", seq, ok)
	}
}
