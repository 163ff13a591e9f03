package canonhash

import (
	"strings"
	"testing"
)

func sampleProof() map[string]any {
	return map[string]any{
		"proof_id":         "0b6c8f04-3c5f-4a0e-9a5e-0f0c4a1d2e3f",
		"event_id":         "evt_1",
		"event_hash":       strings.Repeat("a", 64),
		"event_type":       "PAYMENT_INITIATED",
		"event_timestamp":  "2026-01-02T03:04:05Z",
		"decision_id":      "dec_1",
		"decision_hash":    strings.Repeat("b", 64),
		"decision_outcome": "APPROVE",
		"action_id":        "act_1",
		"action_type":      "SETTLE",
		"action_status":    "COMPLETED",
		"proof_timestamp":  "2026-01-02T03:04:06Z",
		"signature":        "sig-seed",
	}
}

func TestContentHashDeterministic(t *testing.T) {
	p := sampleProof()
	h1, err := ContentHash(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := ContentHash(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %s vs %s", h1, h2)
	}
	if !IsHexHash(h1) {
		t.Fatalf("hash is not 64 hex chars: %q", h1)
	}
}

func TestContentHashSensitiveToHashableFields(t *testing.T) {
	base, err := ContentHash(sampleProof())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, field := range []string{"event_type", "decision_outcome", "action_status", "proof_timestamp"} {
		p := sampleProof()
		p[field] = "TAMPERED"
		h, err := ContentHash(p)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if h == base {
			t.Fatalf("changing %s did not change the hash", field)
		}
	}

	// Removing a hashable field changes the hash too.
	p := sampleProof()
	delete(p, "event_hash")
	h, err := ContentHash(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h == base {
		t.Fatal("removing a hashable field did not change the hash")
	}
}

func TestContentHashIgnoresNonHashableFields(t *testing.T) {
	base, err := ContentHash(sampleProof())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, field := range []string{"signature", "verified_at", "received_at", "content_hash", "chain_hash"} {
		p := sampleProof()
		p[field] = "varies-between-replicas"
		h, err := ContentHash(p)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if h != base {
			t.Fatalf("non-hashable field %s changed the hash", field)
		}
	}
}

func TestChainHashPureAndSeparatorFixed(t *testing.T) {
	content, err := ContentHash(sampleProof())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h1 := ChainHash(GenesisHash, content)
	h2 := ChainHash(GenesisHash, content)
	if h1 != h2 {
		t.Fatalf("chain hash not pure: %s vs %s", h1, h2)
	}
	if !IsHexHash(h1) {
		t.Fatalf("chain hash is not 64 hex chars: %q", h1)
	}
	if HashString(GenesisHash+":"+content) != h1 {
		t.Fatal("chain hash construction diverged from SHA256(prev + \":\" + content)")
	}
}

func TestGenesisHashInvariant(t *testing.T) {
	if len(GenesisHash) != 64 {
		t.Fatalf("genesis hash length %d, want 64", len(GenesisHash))
	}
	if GenesisHash != strings.Repeat("0", 64) {
		t.Fatalf("genesis hash is not 64 zeros: %q", GenesisHash)
	}
}

func TestIsHexHash(t *testing.T) {
	if IsHexHash(strings.Repeat("z", 64)) {
		t.Fatal("accepted non-hex input")
	}
	if IsHexHash(strings.Repeat("a", 63)) {
		t.Fatal("accepted short input")
	}
	if !IsHexHash(strings.Repeat("a", 64)) {
		t.Fatal("rejected valid hash")
	}
}
