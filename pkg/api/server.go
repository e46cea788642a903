package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/windrose-io/windrose/pkg/health"
	"github.com/windrose-io/windrose/pkg/ledger"
	"github.com/windrose-io/windrose/pkg/log"
	"github.com/windrose-io/windrose/pkg/metabolism"
	"github.com/windrose-io/windrose/pkg/metrics"
	"github.com/windrose-io/windrose/pkg/orchestrator"
	"github.com/windrose-io/windrose/pkg/scheduler"
	"github.com/windrose-io/windrose/pkg/signing"
	"github.com/windrose-io/windrose/pkg/types"
)

// Server exposes the control plane over HTTP/JSON.
type Server struct {
	coord      *orchestrator.Coordinator
	sched      *scheduler.Scheduler
	ledger     *ledger.Ledger
	keys       *signing.KeyManager
	health     *health.Engine
	metabolism *metabolism.Engine
	logger     zerolog.Logger
	http       *http.Server
}

// NewServer creates an API server over the given components.
func NewServer(coord *orchestrator.Coordinator, sched *scheduler.Scheduler,
	ldg *ledger.Ledger, keys *signing.KeyManager, he *health.Engine) *Server {
	return &Server{
		coord:      coord,
		sched:      sched,
		ledger:     ldg,
		keys:       keys,
		health:     he,
		metabolism: metabolism.NewEngine(),
		logger:     log.WithComponent("api"),
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/plans", s.handleSubmitPlan)
	mux.HandleFunc("GET /v1/tenants/{tenant}/budget", s.handleBudget)
	mux.HandleFunc("PUT /v1/tenants/{tenant}/limits", s.handleSetLimits)
	mux.HandleFunc("GET /v1/tenants/{tenant}/jobs/{job}", s.handleGetJob)
	mux.HandleFunc("GET /v1/tenants/{tenant}/ledger", s.handleChain)
	mux.HandleFunc("GET /v1/tenants/{tenant}/ledger/verify", s.handleVerify)
	mux.HandleFunc("GET /v1/tenants/{tenant}/ledger/summary", s.handleSummary)
	mux.HandleFunc("GET /v1/tenants/{tenant}/keys", s.handleListKeys)
	mux.HandleFunc("POST /v1/tenants/{tenant}/keys", s.handleRegisterKey)
	mux.HandleFunc("POST /v1/tenants/{tenant}/health", s.handleHealth)
	return s.withLogging(mux)
}

// Start serves until Stop is called. It blocks.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.Handler()}
	s.logger.Info().Str("addr", addr).Msg("API listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleSubmitPlan(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid plan request: %w", err))
		return
	}

	sub, err := s.coord.SubmitPlan(&req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	status := http.StatusAccepted
	if sub.Job == nil {
		status = http.StatusForbidden // policy denial, snapshot carries reasons
	}
	writeJSON(w, status, sub)
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	budget, err := s.sched.GetTenantBudget(r.PathValue("tenant"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, budget)
}

// setLimitsRequest is the body of PUT /v1/tenants/{tenant}/limits. A nil
// limits keeps the tenant's current remaining balance.
type setLimitsRequest struct {
	Tier   types.Tier            `json:"tier"`
	Limits *types.ResourceVector `json:"limits,omitempty"`
}

func (s *Server) handleSetLimits(w http.ResponseWriter, r *http.Request) {
	var req setLimitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	budget, err := s.sched.SetTenantLimits(r.PathValue("tenant"), req.Tier, req.Limits)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, budget)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.coord.GetJob(r.PathValue("tenant"), r.PathValue("job"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.GetChain(r.PathValue("tenant"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	report, err := s.ledger.Verify(r.PathValue("tenant"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.ledger.Summary(r.PathValue("tenant"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.keys.ListTenantKeys(r.PathValue("tenant"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// registerKeyRequest is the body of POST /v1/tenants/{tenant}/keys.
type registerKeyRequest struct {
	Algorithm string `json:"algorithm"`
	PublicKey string `json:"public_key"`
	Activate  bool   `json:"activate"`
}

func (s *Server) handleRegisterKey(w http.ResponseWriter, r *http.Request) {
	var req registerKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	key, err := s.keys.RegisterPublicKey(r.PathValue("tenant"), req.Algorithm, req.PublicKey, req.Activate)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, key)
}

// healthRequest is the body of POST /v1/tenants/{tenant}/health: the
// connector extract to score plus the open work counts for the capacity
// estimate.
type healthRequest struct {
	Data        health.ConnectorData `json:"data"`
	ActiveGoals int                  `json:"active_goals"`
	TodoTasks   int                  `json:"todo_tasks"`
}

// healthResponse pairs the health state with the derived capacity estimate.
type healthResponse struct {
	Health     *health.State     `json:"health"`
	Metabolism *metabolism.State `json:"metabolism"`
}

// handleHealth evaluates connector data on demand. The endpoint is a pure
// computation; nothing is persisted, so the caller decides cadence.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var req healthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	tenantID := r.PathValue("tenant")
	hs := s.health.Evaluate(tenantID, req.Data)
	ms := s.metabolism.Evaluate(tenantID, hs, req.ActiveGoals, req.TodoTasks)
	metrics.HealthScore.WithLabelValues(tenantID).Set(hs.Overall)

	writeJSON(w, http.StatusOK, healthResponse{Health: hs, Metabolism: ms})
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// statusFor maps control-plane sentinel errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrTenantNotFound),
		errors.Is(err, types.ErrJobNotFound),
		errors.Is(err, types.ErrKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, types.ErrBudgetExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, types.ErrUnknownTier):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotLeasedToWorker):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
