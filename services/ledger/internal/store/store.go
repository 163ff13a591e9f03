// Package store persists proof chains and the executed-settlement
// registry in Postgres.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prooflane/prooflane/pkg/proof"
)

type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

// Schema is applied at startup. Proof records are stored whole as JSONB
// with the chain-critical columns lifted out for indexing; a proof row is
// never updated after insert.
const Schema = `
CREATE TABLE IF NOT EXISTS proofs (
	proof_id        text PRIMARY KEY,
	chain_id        text NOT NULL,
	parent_id       text,
	sequence_number integer,
	content_hash    text NOT NULL,
	chain_hash      text NOT NULL,
	record          jsonb NOT NULL,
	received_at     timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS proofs_chain_seq ON proofs(chain_id, sequence_number);

CREATE TABLE IF NOT EXISTS executed_settlements (
	settlement_id text PRIMARY KEY,
	executed_at   timestamptz NOT NULL DEFAULT now()
);
`

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// ErrDuplicateProof is returned when a proof_id is inserted twice.
var ErrDuplicateProof = errors.New("proof already stored")

// InsertProof appends one sealed record to a chain. The insert is
// append-only: a conflicting proof_id is an error, never an update.
func (s *Store) InsertProof(ctx context.Context, chainID string, rec *proof.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode proof: %w", err)
	}
	var seq *int
	if n, ok := rec.Sequence(); ok {
		seq = &n
	}
	tag, err := s.DB.Exec(ctx, `
INSERT INTO proofs(proof_id, chain_id, parent_id, sequence_number, content_hash, chain_hash, record)
VALUES($1, $2, NULLIF($3, ''), $4, $5, $6, $7::jsonb)
ON CONFLICT (proof_id) DO NOTHING`,
		rec.ProofID, chainID, rec.ParentID, seq, rec.ContentHash, rec.ChainHash, string(payload))
	if err != nil {
		return fmt.Errorf("insert proof: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateProof
	}
	return nil
}

// LoadChain returns a chain's records ordered by sequence number.
func (s *Store) LoadChain(ctx context.Context, chainID string) ([]*proof.Record, error) {
	rows, err := s.DB.Query(ctx, `
SELECT record FROM proofs WHERE chain_id=$1 ORDER BY sequence_number NULLS LAST, received_at`, chainID)
	if err != nil {
		return nil, fmt.Errorf("load chain: %w", err)
	}
	defer rows.Close()

	var out []*proof.Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		rec, err := proof.ParseRecord(payload)
		if err != nil {
			return nil, fmt.Errorf("decode stored proof: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Tip returns the last record of a chain, or nil for an empty chain.
func (s *Store) Tip(ctx context.Context, chainID string) (*proof.Record, error) {
	var payload []byte
	err := s.DB.QueryRow(ctx, `
SELECT record FROM proofs WHERE chain_id=$1 ORDER BY sequence_number DESC NULLS LAST, received_at DESC LIMIT 1`,
		chainID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load chain tip: %w", err)
	}
	return proof.ParseRecord(payload)
}

// ListChains returns the known chain ids with their proof counts.
func (s *Store) ListChains(ctx context.Context) (map[string]int, error) {
	rows, err := s.DB.Query(ctx, `SELECT chain_id, count(*) FROM proofs GROUP BY chain_id`)
	if err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

// MarkExecuted claims a settlement as executed. The insert is the
// atomic claim: of two racing callers only one inserts the row, and the
// loser gets claimed=false.
func (s *Store) MarkExecuted(ctx context.Context, settlementID string) (bool, error) {
	tag, err := s.DB.Exec(ctx, `
INSERT INTO executed_settlements(settlement_id) VALUES($1)
ON CONFLICT (settlement_id) DO NOTHING`, settlementID)
	if err != nil {
		return false, fmt.Errorf("mark executed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// IsExecuted reports whether a settlement has already run.
func (s *Store) IsExecuted(ctx context.Context, settlementID string) (bool, error) {
	var executed bool
	err := s.DB.QueryRow(ctx, `
SELECT EXISTS(SELECT 1 FROM executed_settlements WHERE settlement_id=$1)`, settlementID).Scan(&executed)
	if err != nil {
		return false, fmt.Errorf("check executed: %w", err)
	}
	return executed, nil
}

// ExecutionRegistry adapts the store to the gate's registry interface,
// which carries no context of its own.
type ExecutionRegistry struct {
	Store   *Store
	Timeout time.Duration
}

func (r ExecutionRegistry) ctx() (context.Context, context.CancelFunc) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (r ExecutionRegistry) IsExecuted(settlementID string) (bool, error) {
	ctx, cancel := r.ctx()
	defer cancel()
	return r.Store.IsExecuted(ctx, settlementID)
}

func (r ExecutionRegistry) MarkExecuted(settlementID string) (bool, error) {
	ctx, cancel := r.ctx()
	defer cancel()
	return r.Store.MarkExecuted(ctx, settlementID)
}
