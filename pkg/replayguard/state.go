package replayguard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// StateVersion tags the on-disk format. A state file with any other
// version is rejected rather than partially interpreted.
const StateVersion = "replay-guard-v1"

// nonceSet persists as a sorted JSON array of strings. Consumed nonces
// stay consumed forever; unlike seen hashes they have no timestamp tie,
// so the replay window does not bound them.
type nonceSet map[string]struct{}

func (n nonceSet) MarshalJSON() ([]byte, error) {
	list := make([]string, 0, len(n))
	for v := range n {
		list = append(list, v)
	}
	sort.Strings(list)
	return json.Marshal(list)
}

func (n *nonceSet) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	set := make(nonceSet, len(list))
	for _, v := range list {
		set[v] = struct{}{}
	}
	*n = set
	return nil
}

type state struct {
	Version      string            `json:"version"`
	SeenHashes   map[string]string `json:"seen_hashes"`
	Nonces       nonceSet          `json:"nonces"`
	LastSequence int64             `json:"last_sequence"`
	UpdatedAt    string            `json:"updated_at"`
}

func newState() *state {
	return &state{
		Version:    StateVersion,
		SeenHashes: map[string]string{},
		Nonces:     nonceSet{},
	}
}

// loadState reads the state file at path. A missing file yields a fresh
// state; a corrupt or wrong-version file is an error, because silently
// starting over would forget every hash the guard has seen.
func loadState(path string) (*state, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return newState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read replay state: %w", err)
	}

	var s state
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("corrupt replay state %s: %w", path, err)
	}
	if s.Version != StateVersion {
		return nil, fmt.Errorf("replay state %s has version %q, want %q", path, s.Version, StateVersion)
	}
	if s.SeenHashes == nil {
		s.SeenHashes = map[string]string{}
	}
	if s.Nonces == nil {
		s.Nonces = nonceSet{}
	}
	return &s, nil
}

// StateSummary describes a state file without exposing its contents.
type StateSummary struct {
	Version      string `json:"version"`
	HashCount    int    `json:"hash_count"`
	NonceCount   int    `json:"nonce_count"`
	LastSequence int64  `json:"last_sequence"`
	UpdatedAt    string `json:"updated_at"`
}

// Inspect reads the state file at path and summarizes it.
func Inspect(path string) (StateSummary, error) {
	s, err := loadState(path)
	if err != nil {
		return StateSummary{}, err
	}
	return StateSummary{
		Version:      s.Version,
		HashCount:    len(s.SeenHashes),
		NonceCount:   len(s.Nonces),
		LastSequence: s.LastSequence,
		UpdatedAt:    s.UpdatedAt,
	}, nil
}

// save writes the state atomically: temp file in the same directory,
// fsync, rename over the target. A crash leaves either the old state or
// the new one, never a torn file.
func (s *state) save(path string) error {
	s.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)

	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode replay state: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".replay-state-*")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace replay state: %w", err)
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
