// Package replayguard rejects re-submission of events the system has
// already seen. Seen hashes and nonces are held in memory and persisted
// to disk on every accepted event, so a restart does not reopen the
// replay window.
package replayguard

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prooflane/prooflane/pkg/canonhash"
)

const (
	// DefaultWindow is how long a seen hash stays disqualifying.
	DefaultWindow = 24 * time.Hour
	// DefaultMaxFutureSkew bounds how far ahead of the guard's clock an
	// event timestamp may claim to be.
	DefaultMaxFutureSkew = 5 * time.Minute
	// DefaultMaxEntries caps the seen-hash registry. Oldest entries are
	// pruned first once the cap is hit.
	DefaultMaxEntries = 100_000
)

// ReplayError reports an event or nonce the guard has seen before.
type ReplayError struct {
	EventHash string
	Nonce     string
	FirstSeen time.Time
}

func (e *ReplayError) Error() string {
	if e.Nonce != "" {
		return fmt.Sprintf("replay detected: nonce %s already consumed", e.Nonce)
	}
	return fmt.Sprintf("replay detected: event %s first seen %s", e.EventHash,
		e.FirstSeen.UTC().Format(time.RFC3339))
}

// Options tune the guard. Zero values take the defaults.
type Options struct {
	Window        time.Duration
	MaxFutureSkew time.Duration
	MaxEntries    int
}

func (o Options) withDefaults() Options {
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.MaxFutureSkew <= 0 {
		o.MaxFutureSkew = DefaultMaxFutureSkew
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = DefaultMaxEntries
	}
	return o
}

// Guard is a durable replay detector. Safe for concurrent use; an event
// is only reported accepted after its hash has been persisted, so two
// racing submissions of the same event cannot both pass.
type Guard struct {
	mu   sync.Mutex
	st   *state
	path string
	opts Options
	log  *slog.Logger

	now func() time.Time
}

// New opens (or creates) the replay state at path with default options.
func New(path string, log *slog.Logger) (*Guard, error) {
	return NewWithOptions(path, log, Options{})
}

// NewWithOptions is New with explicit tuning.
func NewWithOptions(path string, log *slog.Logger, opts Options) (*Guard, error) {
	if log == nil {
		log = slog.Default()
	}
	st, err := loadState(path)
	if err != nil {
		return nil, err
	}
	g := &Guard{
		st:   st,
		path: path,
		opts: opts.withDefaults(),
		log:  log,
		now:  time.Now,
	}
	// Drop entries that expired while the guard was down, so Len and
	// IsReplay reflect the window from the first call on.
	g.prune(g.now().UTC())
	return g, nil
}

// CheckAndRecord admits an event exactly once. eventHash must be a 64-hex
// digest; nonce may be empty; sequence must be strictly greater than the
// last accepted sequence when both are nonzero.
//
// On acceptance the updated state is persisted before returning, so a
// nil return means the event is durably recorded.
func (g *Guard) CheckAndRecord(eventHash string, ts time.Time, nonce string, sequence int64) error {
	if !canonhash.IsHexHash(eventHash) {
		return fmt.Errorf("invalid event hash format: %q", eventHash)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UTC()
	ts = ts.UTC()

	if ts.After(now.Add(g.opts.MaxFutureSkew)) {
		return fmt.Errorf("event timestamp %s is too far in the future (max skew %s)",
			ts.Format(time.RFC3339), g.opts.MaxFutureSkew)
	}
	if ts.Before(now.Add(-g.opts.Window)) {
		return fmt.Errorf("event timestamp %s is outside the %s replay window",
			ts.Format(time.RFC3339), g.opts.Window)
	}

	if firstSeen, ok := g.st.SeenHashes[eventHash]; ok {
		g.log.Warn("replay rejected", "event_hash", eventHash, "first_seen", firstSeen)
		return &ReplayError{EventHash: eventHash, FirstSeen: parseSeen(firstSeen)}
	}
	if nonce != "" {
		if _, ok := g.st.Nonces[nonce]; ok {
			g.log.Warn("nonce replay rejected", "nonce", nonce)
			return &ReplayError{EventHash: eventHash, Nonce: nonce}
		}
	}
	if sequence > 0 && g.st.LastSequence > 0 && sequence <= g.st.LastSequence {
		return fmt.Errorf("sequence regression: last accepted %d, got %d",
			g.st.LastSequence, sequence)
	}

	stamp := now.Format(time.RFC3339Nano)
	g.st.SeenHashes[eventHash] = stamp
	if nonce != "" {
		g.st.Nonces[nonce] = struct{}{}
	}
	if sequence > g.st.LastSequence {
		g.st.LastSequence = sequence
	}
	g.prune(now)

	if err := g.st.save(g.path); err != nil {
		// Roll back so a retry is not misread as a replay.
		delete(g.st.SeenHashes, eventHash)
		if nonce != "" {
			delete(g.st.Nonces, nonce)
		}
		return fmt.Errorf("persist replay state: %w", err)
	}
	return nil
}

// IsReplay reports whether eventHash has been accepted before, and when.
func (g *Guard) IsReplay(eventHash string) (bool, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	firstSeen, ok := g.st.SeenHashes[eventHash]
	if !ok {
		return false, time.Time{}
	}
	return true, parseSeen(firstSeen)
}

// Len returns the number of hashes currently tracked.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.st.SeenHashes)
}

// prune drops seen hashes older than the window, then enforces the
// entry cap oldest-first. Nonces are never pruned: a stale event hash
// would be rejected by the window check anyway, but nothing re-guards a
// reopened nonce. Caller holds the lock.
func (g *Guard) prune(now time.Time) {
	cutoff := now.Add(-g.opts.Window)
	for h, seen := range g.st.SeenHashes {
		if parseSeen(seen).Before(cutoff) {
			delete(g.st.SeenHashes, h)
		}
	}

	if len(g.st.SeenHashes) <= g.opts.MaxEntries {
		return
	}
	type entry struct {
		hash string
		seen time.Time
	}
	entries := make([]entry, 0, len(g.st.SeenHashes))
	for h, seen := range g.st.SeenHashes {
		entries = append(entries, entry{h, parseSeen(seen)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seen.Before(entries[j].seen) })
	excess := len(entries) - g.opts.MaxEntries
	for _, e := range entries[:excess] {
		delete(g.st.SeenHashes, e.hash)
	}
	g.log.Info("replay registry pruned", "dropped", excess, "remaining", len(g.st.SeenHashes))
}

func parseSeen(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
