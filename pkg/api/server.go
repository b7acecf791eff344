// Package api exposes the rebalancer's HTTP surface: starting, inspecting
// and cancelling executions, and managing per-wallet trigger policies.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/flowyield-hq/flowyield-rebalancer/pkg/engine"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/logger"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/models"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/store"
)

// ExecutionService is the engine surface the API drives.
type ExecutionService interface {
	CreateExecution(wallet, strategy string, plan []models.Action, dryRun bool) (*models.Execution, error)
	GetExecution(id string) (*models.Execution, error)
	ListExecutions(wallet string, limit, offset int) ([]*models.Execution, error)
	CancelExecution(id string) error
}

// Server is the HTTP API server.
type Server struct {
	engine   ExecutionService
	triggers store.TriggerStore
	logger   logger.Logger
	http     *http.Server
}

// NewServer creates the API server listening on the given port.
func NewServer(port int, executionService ExecutionService, triggers store.TriggerStore, log logger.Logger) *Server {
	s := &Server{
		engine:   executionService,
		triggers: triggers,
		logger:   log,
	}
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Routes builds the router. Exposed separately so tests can drive the
// handlers without binding a port.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/executions", func(r chi.Router) {
			r.Post("/", s.handleCreateExecution)
			r.Get("/", s.handleListExecutions)
			r.Get("/{id}", s.handleGetExecution)
			r.Post("/{id}/cancel", s.handleCancelExecution)
		})
		r.Route("/wallets/{wallet}/trigger", func(r chi.Router) {
			r.Get("/", s.handleGetTrigger)
			r.Put("/", s.handlePutTrigger)
		})
	})
	return r
}

// Start runs the server until it fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("API server listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type createExecutionRequest struct {
	WalletAddress string          `json:"wallet_address"`
	Strategy      string          `json:"strategy"`
	Plan          []models.Action `json:"plan"`
	DryRun        bool            `json:"dry_run"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCreateExecution(w http.ResponseWriter, r *http.Request) {
	var req createExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	execution, err := s.engine.CreateExecution(req.WalletAddress, req.Strategy, req.Plan, req.DryRun)
	if err != nil {
		var validationErr *engine.ValidationError
		switch {
		case errors.As(err, &validationErr):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, engine.ErrQueueFull):
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			s.logger.Error("API: create execution failed: %v", err)
			s.writeError(w, http.StatusInternalServerError, "failed to create execution")
		}
		return
	}

	s.writeJSON(w, http.StatusCreated, execution)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	execution, err := s.engine.GetExecution(chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		s.logger.Error("API: get execution failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load execution")
		return
	}
	s.writeJSON(w, http.StatusOK, execution)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("wallet")
	if wallet == "" {
		s.writeError(w, http.StatusBadRequest, "wallet query parameter is required")
		return
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	executions, err := s.engine.ListExecutions(wallet, limit, offset)
	if err != nil {
		s.logger.Error("API: list executions failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"executions": executions,
		"limit":      limit,
		"offset":     offset,
	})
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.engine.CancelExecution(id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		// Terminal executions cannot be cancelled.
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancellation requested"})
}

func (s *Server) handleGetTrigger(w http.ResponseWriter, r *http.Request) {
	config, err := s.triggers.GetTrigger(chi.URLParam(r, "wallet"))
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "no trigger configured for wallet")
		return
	}
	if err != nil {
		s.logger.Error("API: get trigger failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load trigger")
		return
	}
	s.writeJSON(w, http.StatusOK, config)
}

type putTriggerRequest struct {
	Strategy             string  `json:"strategy"`
	Enabled              bool    `json:"enabled"`
	IntervalSeconds      int64   `json:"interval_seconds"`
	MinAPY               float64 `json:"min_apy"`
	ValueChangeThreshold float64 `json:"value_change_threshold"`
	MaxSlippage          float64 `json:"max_slippage"`
}

func (s *Server) handlePutTrigger(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")

	var req putTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.IntervalSeconds < 0 || req.MinAPY < 0 || req.ValueChangeThreshold < 0 || req.MaxSlippage < 0 {
		s.writeError(w, http.StatusBadRequest, "trigger thresholds must not be negative")
		return
	}

	config := &models.TriggerConfig{
		WalletAddress:        wallet,
		Strategy:             req.Strategy,
		Enabled:              req.Enabled,
		Interval:             time.Duration(req.IntervalSeconds) * time.Second,
		MinAPY:               req.MinAPY,
		ValueChangeThreshold: req.ValueChangeThreshold,
		MaxSlippage:          req.MaxSlippage,
	}
	if err := s.triggers.SetTrigger(config); err != nil {
		s.logger.Error("API: put trigger failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "failed to store trigger")
		return
	}
	s.writeJSON(w, http.StatusOK, config)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("API: failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
