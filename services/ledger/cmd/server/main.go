package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/prooflane/prooflane/pkg/db"
	"github.com/prooflane/prooflane/pkg/gate"
	"github.com/prooflane/prooflane/pkg/httpx"
	"github.com/prooflane/prooflane/pkg/ingestsig"
	"github.com/prooflane/prooflane/pkg/integrity"
	"github.com/prooflane/prooflane/pkg/proof"
	"github.com/prooflane/prooflane/pkg/replayguard"
	"github.com/prooflane/prooflane/services/ledger/internal/audit"
	"github.com/prooflane/prooflane/services/ledger/internal/config"
	"github.com/prooflane/prooflane/services/ledger/internal/logging"
	"github.com/prooflane/prooflane/services/ledger/internal/store"
)

func main() {
	cfgPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logging.Setup("json", "error").Error("config", "error", err)
		os.Exit(1)
	}
	log := logging.Setup(cfg.Logging.Format, cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		log.Error("database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	st := store.New(pool)
	if err := st.EnsureSchema(ctx); err != nil {
		log.Error("schema", "error", err)
		os.Exit(1)
	}

	auditStore, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		log.Error("audit store", "error", err)
		os.Exit(1)
	}
	defer auditStore.Close()

	guard, err := replayguard.NewWithOptions(cfg.Replay.StatePath, log, replayguard.Options{
		Window:        cfg.Replay.Window,
		MaxFutureSkew: cfg.Replay.MaxFutureSkew,
		MaxEntries:    cfg.Replay.MaxEntries,
	})
	if err != nil {
		log.Error("replay guard", "error", err)
		os.Exit(1)
	}

	checker := integrity.NewChecker(log)
	settlementGate := gate.New(nil, store.ExecutionRegistry{Store: st}, log)

	recordAudit := func(ctx context.Context, e audit.Entry) {
		if err := auditStore.Append(ctx, e); err != nil {
			log.Error("audit append failed", "error", err)
		}
	}

	r := chi.NewRouter()
	r.Use(httpx.RequestLogger(log))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	r.Route("/ledger", func(api chi.Router) {

		api.Get("/chains", func(w http.ResponseWriter, r *http.Request) {
			chains, err := st.ListChains(r.Context())
			if err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "chains": chains})
		})

		api.Get("/chains/{chain_id}", func(w http.ResponseWriter, r *http.Request) {
			chainID := chi.URLParam(r, "chain_id")
			records, err := st.LoadChain(r.Context(), chainID)
			if err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"chain_id":   chainID,
				"proofs":     records,
			})
		})

		api.Post("/chains/{chain_id}/validate", func(w http.ResponseWriter, r *http.Request) {
			chainID := chi.URLParam(r, "chain_id")
			records, err := st.LoadChain(r.Context(), chainID)
			if err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			result := proof.ValidateChain(records)
			recordAudit(r.Context(), audit.Entry{
				Event:     "chain_validation",
				Valid:     result.Passed,
				SubjectID: chainID,
				Reason:    proof.ClassifyBreakIfFailed(result),
				Evidence:  map[string]any{"errors": result.Errors},
			})
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"chain_id":   chainID,
				"result":     result,
			})
		})

		api.With(ingestsig.Middleware(cfg.Ingest.SharedSecret)).Post("/chains/{chain_id}/proofs", func(w http.ResponseWriter, r *http.Request) {
			chainID := chi.URLParam(r, "chain_id")
			var rec proof.Record
			if err := httpx.ReadJSON(r, &rec); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}

			if result := proof.ValidateRecord(&rec); !result.Passed {
				httpx.WriteError(w, 422, "INVALID_PROOF", "proof failed validation", result.Errors)
				return
			}

			ts, err := eventTime(rec.EventTimestamp, time.Now().UTC())
			if err != nil {
				httpx.WriteError(w, 422, "INVALID_PROOF",
					"invalid event_timestamp format: "+rec.EventTimestamp, nil)
				return
			}
			// Sequence ordering is per chain and enforced by the
			// lineage check below, not by the guard.
			if err := guard.CheckAndRecord(rec.EventHash, ts, r.Header.Get("x-event-nonce"), 0); err != nil {
				var re *replayguard.ReplayError
				if errors.As(err, &re) {
					recordAudit(r.Context(), audit.Entry{
						Event: "replay_rejected", SubjectID: rec.ProofID,
						ViolationType: "REPLAY", Reason: err.Error(),
					})
					httpx.WriteError(w, 409, "REPLAY_DETECTED", err.Error(), nil)
					return
				}
				httpx.WriteError(w, 422, "EVENT_REJECTED", err.Error(), nil)
				return
			}

			checkResult, err := checker.VerifyProof(&rec)
			if err != nil || !checkResult.Valid {
				recordAudit(r.Context(), audit.Entry{
					Event:         "proof_integrity_check",
					Valid:         false,
					ViolationType: string(checkResult.ViolationType),
					SubjectID:     rec.ProofID,
					Reason:        checkResult.Reason,
					Evidence:      checkResult.Evidence,
				})
				httpx.WriteError(w, 409, "INTEGRITY_VIOLATION", checkResult.Reason, checkResult)
				return
			}

			existing, err := st.LoadChain(r.Context(), chainID)
			if err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			if rec.ChainHash == "" {
				previous := ""
				if len(existing) > 0 {
					previous = existing[len(existing)-1].ChainHash
				}
				if err := rec.Seal(previous); err != nil {
					httpx.WriteError(w, 500, "SEAL_FAILED", err.Error(), nil)
					return
				}
			}
			if result := proof.ValidateLineage(&rec, existing); !result.Passed {
				recordAudit(r.Context(), audit.Entry{
					Event:         "lineage_check",
					Valid:         false,
					ViolationType: proof.ClassifyBreak(result),
					SubjectID:     rec.ProofID,
					Evidence:      map[string]any{"errors": result.Errors},
				})
				httpx.WriteError(w, 409, "LINEAGE_REJECTED", "proof does not extend chain", result.Errors)
				return
			}

			rec.ReceivedAt = time.Now().UTC().Format(time.RFC3339Nano)
			if err := st.InsertProof(r.Context(), chainID, &rec); err != nil {
				if errors.Is(err, store.ErrDuplicateProof) {
					httpx.WriteError(w, 409, "DUPLICATE_PROOF", err.Error(), nil)
					return
				}
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			recordAudit(r.Context(), audit.Entry{
				Event: "proof_accepted", Valid: true, SubjectID: rec.ProofID,
				Evidence: map[string]any{"chain_id": chainID, "chain_hash": rec.ChainHash},
			})
			httpx.WriteJSON(w, 201, map[string]any{
				"request_id":   httpx.NewRequestID(),
				"proof_id":     rec.ProofID,
				"chain_id":     chainID,
				"content_hash": rec.ContentHash,
				"chain_hash":   rec.ChainHash,
			})
		})

		api.Post("/settlements/{settlement_id}/authorize", func(w http.ResponseWriter, r *http.Request) {
			settlementID := chi.URLParam(r, "settlement_id")
			var req struct {
				Authorization map[string]any `json:"authorization"`
				Verdict       string         `json:"verdict"`
				Caller        string         `json:"caller"`
				ChainID       string         `json:"chain_id"`
				Execute       bool           `json:"execute"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}

			var chain []*proof.Record
			if req.ChainID != "" {
				loaded, err := st.LoadChain(r.Context(), req.ChainID)
				if err != nil {
					httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
					return
				}
				chain = loaded
			}

			// With execute set the gate claims the settlement itself, so
			// two racing requests cannot both come back allowed.
			result := settlementGate.Evaluate(gate.Request{
				SettlementID:   settlementID,
				Authorization:  req.Authorization,
				Verdict:        req.Verdict,
				Caller:         req.Caller,
				ProofChain:     chain,
				ClaimExecution: req.Execute,
			})
			recordAudit(r.Context(), audit.Entry{
				Event:         "settlement_gate",
				Valid:         result.Allowed,
				ViolationType: blockedReason(result),
				SubjectID:     settlementID,
				Reason:        result.Reason,
				Evidence:      result.Details,
			})

			status := 200
			if result.Blocked {
				status = 403
			}
			httpx.WriteJSON(w, status, map[string]any{
				"request_id": httpx.NewRequestID(),
				"result":     result,
			})
		})

		// Legacy execution path: always refused, kept only so old
		// callers get an auditable answer instead of a 404.
		api.Post("/settlements/{settlement_id}/execute", func(w http.ResponseWriter, r *http.Request) {
			settlementID := chi.URLParam(r, "settlement_id")
			result := settlementGate.DirectCallBlocked(settlementID)
			recordAudit(r.Context(), audit.Entry{
				Event:         "settlement_gate",
				ViolationType: result.Reason,
				SubjectID:     settlementID,
				Reason:        result.Reason,
			})
			httpx.WriteJSON(w, 403, map[string]any{
				"request_id": httpx.NewRequestID(),
				"result":     result,
			})
		})

		api.Get("/audit/export", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("content-type", "application/x-ndjson")
			if _, err := auditStore.Export(r.Context(), w); err != nil {
				log.Error("audit export failed", "error", err)
			}
		})
	})

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: r}
	go func() {
		log.Info("ledger service listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "error", err)
	}
}

func blockedReason(result gate.Result) string {
	if result.Blocked {
		return result.Reason
	}
	return ""
}

// eventTime resolves the timestamp the replay guard checks against its
// window. An absent event timestamp falls back to receipt time; a
// present but unparseable one is an error, never a default.
func eventTime(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return now, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}
