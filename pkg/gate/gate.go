// Package gate is the final authorization check before funds move. It is
// fail-closed: a settlement proceeds only when every guard passes, and
// any ambiguity blocks.
package gate

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prooflane/prooflane/pkg/proof"
)

// Block and allow reasons, reported verbatim in results and audit logs.
const (
	ReasonAuthorized = "AUTHORIZED"

	ReasonMissingAuthorization = "MISSING_AUTHORIZATION"
	ReasonAuthorizationInvalid = "AUTHORIZATION_VALIDATION_FAILED"
	ReasonDecisionHold         = "DECISION_HOLD"
	ReasonDecisionEscalate     = "DECISION_ESCALATE"
	ReasonDecisionInvalid      = "DECISION_INVALID"
	ReasonRuntimeBoundary      = "RUNTIME_BOUNDARY_VIOLATION"
	ReasonUnauthorizedCaller   = "UNAUTHORIZED_CALLER"
	ReasonProofMutation        = "PROOF_MUTATION"
	ReasonProofSequenceGap     = "PROOF_SEQUENCE_GAP"
	ReasonProofLineageInvalid  = "PROOF_LINEAGE_INVALID"
	ReasonAlreadyExecuted      = "ALREADY_EXECUTED"
	ReasonDirectCallBlocked    = "DIRECT_CALL_BLOCKED"
)

// Verdicts a decision authority may attach to an authorization.
const (
	VerdictApprove  = "APPROVE"
	VerdictRelease  = "RELEASE"
	VerdictHold     = "HOLD"
	VerdictEscalate = "ESCALATE"
)

// callerPattern matches operator identities allowed to trigger
// settlement directly. Unanchored: the identity may be the bare
// "GID-NN" id or carry it embedded, as in "operator-GID-07".
var callerPattern = regexp.MustCompile(`GID-\d{2}`)

// callerBlocklist marks machine identities that must never reach the
// gate, checked before the pattern so "automation-runtime-42" is reported
// as a boundary violation rather than a bad operator id.
var callerBlocklist = []string{"runtime", "automation", "bot", "cron", "scheduler"}

// Request is one settlement attempt presented to the gate.
type Request struct {
	SettlementID  string
	Authorization map[string]any
	Verdict       string
	Caller        string
	ProofChain    []*proof.Record

	// SkipLineageCheck bypasses proof chain validation for callers that
	// have already validated it (the ingest path does).
	SkipLineageCheck bool

	// ClaimExecution makes the final guard claim the settlement in the
	// registry instead of merely reading it. With two racing requests
	// only one claim succeeds; the loser is blocked as already
	// executed. Set it whenever an allowed result leads directly to
	// execution.
	ClaimExecution bool
}

// Result is the gate's decision. Exactly one of Allowed and Blocked is
// true.
type Result struct {
	Allowed      bool           `json:"allowed"`
	Blocked      bool           `json:"blocked"`
	Reason       string         `json:"reason"`
	SubjectID    string         `json:"subject_id"`
	EvaluationID string         `json:"evaluation_id"`
	Details      map[string]any `json:"details,omitempty"`
	CheckedAt    string         `json:"checked_at"`
}

// AuthorizationValidator checks the shape of an authorization payload.
// Implementations return whether it is acceptable plus the individual
// problems found.
type AuthorizationValidator interface {
	ValidateAuthorization(auth map[string]any) (bool, []string)
}

// RequiredFieldsValidator accepts an authorization when every listed
// field is present and non-empty.
type RequiredFieldsValidator struct {
	Fields []string
}

// DefaultAuthorizationFields are what a settlement authorization must
// carry at minimum.
var DefaultAuthorizationFields = []string{
	"authorization_id",
	"settlement_id",
	"amount",
	"currency",
	"issued_at",
}

func (v RequiredFieldsValidator) ValidateAuthorization(auth map[string]any) (bool, []string) {
	fields := v.Fields
	if len(fields) == 0 {
		fields = DefaultAuthorizationFields
	}
	var problems []string
	for _, f := range fields {
		val, ok := auth[f]
		if !ok || val == nil {
			problems = append(problems, fmt.Sprintf("missing field %s", f))
			continue
		}
		if s, isStr := val.(string); isStr && strings.TrimSpace(s) == "" {
			problems = append(problems, fmt.Sprintf("empty field %s", f))
		}
	}
	return len(problems) == 0, problems
}

// ExecutionRegistry records which settlements have already run. The
// in-memory default is replaced with a durable store in the service.
type ExecutionRegistry interface {
	IsExecuted(settlementID string) (bool, error)
	// MarkExecuted claims the settlement. It reports false when the
	// settlement was already claimed, so of two racing callers exactly
	// one sees true.
	MarkExecuted(settlementID string) (bool, error)
}

type memoryRegistry struct {
	mu       sync.Mutex
	executed map[string]string
}

func newMemoryRegistry() *memoryRegistry {
	return &memoryRegistry{executed: map[string]string{}}
}

func (m *memoryRegistry) IsExecuted(settlementID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.executed[settlementID]
	return ok, nil
}

func (m *memoryRegistry) MarkExecuted(settlementID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executed[settlementID]; ok {
		return false, nil
	}
	m.executed[settlementID] = time.Now().UTC().Format(time.RFC3339Nano)
	return true, nil
}

// Gate evaluates settlement requests. Safe for concurrent use.
type Gate struct {
	validator AuthorizationValidator
	registry  ExecutionRegistry
	log       *slog.Logger
}

// New builds a gate. Nil validator, registry, or logger fall back to the
// required-fields validator, an in-memory registry, and slog.Default.
func New(validator AuthorizationValidator, registry ExecutionRegistry, log *slog.Logger) *Gate {
	if validator == nil {
		validator = RequiredFieldsValidator{}
	}
	if registry == nil {
		registry = newMemoryRegistry()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gate{validator: validator, registry: registry, log: log}
}

// Evaluate runs the guard sequence and returns at the first failure.
// Order matters: cheaper and more categorical checks run first, and a
// blocked result names only the first reason.
func (g *Gate) Evaluate(req Request) Result {
	evalID := newEvaluationID()

	if req.Authorization == nil {
		return g.block(evalID, req.SettlementID, ReasonMissingAuthorization, nil)
	}

	if ok, problems := g.validator.ValidateAuthorization(req.Authorization); !ok {
		return g.block(evalID, req.SettlementID, ReasonAuthorizationInvalid, map[string]any{
			"problems": problems,
		})
	}

	if req.Verdict != "" {
		switch req.Verdict {
		case VerdictApprove, VerdictRelease:
			// proceed
		case VerdictHold:
			return g.block(evalID, req.SettlementID, ReasonDecisionHold, nil)
		case VerdictEscalate:
			return g.block(evalID, req.SettlementID, ReasonDecisionEscalate, nil)
		default:
			return g.block(evalID, req.SettlementID, ReasonDecisionInvalid, map[string]any{
				"verdict": req.Verdict,
			})
		}
	}

	if req.Caller != "" {
		if reason := checkCaller(req.Caller); reason != "" {
			return g.block(evalID, req.SettlementID, reason, map[string]any{
				"caller": req.Caller,
			})
		}
	}

	if !req.SkipLineageCheck {
		if result := proof.ValidateChain(req.ProofChain); !result.Passed {
			return g.block(evalID, req.SettlementID, classifyChainFailure(result), map[string]any{
				"chain_errors": result.Errors,
			})
		}
	}

	if req.ClaimExecution {
		claimed, err := g.registry.MarkExecuted(req.SettlementID)
		if err != nil {
			// Registry unavailable means we cannot prove first execution.
			return g.block(evalID, req.SettlementID, ReasonAlreadyExecuted, map[string]any{
				"registry_error": err.Error(),
			})
		}
		if !claimed {
			return g.block(evalID, req.SettlementID, ReasonAlreadyExecuted, nil)
		}
	} else {
		executed, err := g.registry.IsExecuted(req.SettlementID)
		if err != nil {
			// Registry unavailable means we cannot prove first execution.
			return g.block(evalID, req.SettlementID, ReasonAlreadyExecuted, map[string]any{
				"registry_error": err.Error(),
			})
		}
		if executed {
			return g.block(evalID, req.SettlementID, ReasonAlreadyExecuted, nil)
		}
	}

	g.log.Info("settlement authorized",
		"settlement_id", req.SettlementID,
		"evaluation_id", evalID,
		"caller", req.Caller,
	)
	return Result{
		Allowed:      true,
		Reason:       ReasonAuthorized,
		SubjectID:    req.SettlementID,
		EvaluationID: evalID,
		CheckedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// DirectCallBlocked is the result for execution paths that bypass the
// gate entirely. Wired as the handler for any legacy entry point.
func (g *Gate) DirectCallBlocked(settlementID string) Result {
	return g.block(newEvaluationID(), settlementID, ReasonDirectCallBlocked, nil)
}

// RecordExecution claims a settlement for execution. It reports false
// when the settlement was already claimed by someone else.
func (g *Gate) RecordExecution(settlementID string) (bool, error) {
	return g.registry.MarkExecuted(settlementID)
}

// IsExecuted reports whether the settlement has already run.
func (g *Gate) IsExecuted(settlementID string) (bool, error) {
	return g.registry.IsExecuted(settlementID)
}

func (g *Gate) block(evalID, settlementID, reason string, details map[string]any) Result {
	g.log.Warn("settlement blocked",
		"settlement_id", settlementID,
		"evaluation_id", evalID,
		"reason", reason,
	)
	return Result{
		Blocked:      true,
		Reason:       reason,
		SubjectID:    settlementID,
		EvaluationID: evalID,
		Details:      details,
		CheckedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func checkCaller(caller string) string {
	lowered := strings.ToLower(caller)
	for _, banned := range callerBlocklist {
		if strings.Contains(lowered, banned) {
			return ReasonRuntimeBoundary
		}
	}
	if !callerPattern.MatchString(caller) {
		return ReasonUnauthorizedCaller
	}
	return ""
}

func classifyChainFailure(result proof.ValidationResult) string {
	switch proof.ClassifyBreak(result) {
	case proof.BreakMutation:
		return ReasonProofMutation
	case proof.BreakSequenceGap:
		return ReasonProofSequenceGap
	default:
		return ReasonProofLineageInvalid
	}
}

func newEvaluationID() string {
	return "eval_" + uuid.NewString()
}
