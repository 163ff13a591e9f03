package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndExport(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entries := []Entry{
		{Event: "proof_integrity_check", Valid: true, SubjectID: "p-1", Reason: "proof integrity verified"},
		{Event: "proof_integrity_check", Valid: false, ViolationType: "HASH_COLLISION", SubjectID: "p-2",
			Reason: "hash collision with p-1", Evidence: map[string]any{"existing_proof": "p-1"}},
		{Event: "settlement_gate", Valid: false, ViolationType: "DECISION_HOLD", SubjectID: "s-9"},
	}
	for _, e := range entries {
		if err := s.Append(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("count = %d", n)
	}

	var buf bytes.Buffer
	exported, err := s.Export(ctx, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if exported != 3 {
		t.Fatalf("exported = %d", exported)
	}

	scanner := bufio.NewScanner(&buf)
	var decoded []Entry
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("bad export line: %v", err)
		}
		decoded = append(decoded, e)
	}
	if len(decoded) != 3 {
		t.Fatalf("decoded %d lines", len(decoded))
	}
	if decoded[1].ViolationType != "HASH_COLLISION" {
		t.Fatalf("order not preserved: %+v", decoded[1])
	}
	if decoded[1].Evidence["existing_proof"] != "p-1" {
		t.Fatalf("evidence lost: %+v", decoded[1].Evidence)
	}
	if decoded[0].Timestamp == "" {
		t.Fatal("timestamp not defaulted")
	}
}

func TestReopenKeepsTrail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.db")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.Append(ctx, Entry{Event: "proof_integrity_check", Valid: true, SubjectID: "p-1"}); err != nil {
		t.Fatal(err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	n, err := s2.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("trail lost across reopen: count = %d", n)
	}
}
