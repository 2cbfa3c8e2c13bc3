package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/valuation-engine/internal/calc"
	"github.com/sells-group/valuation-engine/internal/pipeline"
	"github.com/sells-group/valuation-engine/internal/signal"
)

type errorResponse struct {
	Error string `json:"error"`
}

// SignalsRequest is the body of POST /v1/signals/summary. A zero AsOf means
// now.
type SignalsRequest struct {
	Signals []signal.Signal `json:"signals"`
	AsOf    time.Time       `json:"as_of,omitempty"`
}

// TransitionRequest is the body of the confirm and dismiss endpoints.
type TransitionRequest struct {
	CompanyID string        `json:"company_id"`
	Signal    signal.Signal `json:"signal"`
	Actor     string        `json:"actor"`
	Reason    string        `json:"reason,omitempty"`
}

// TransitionResponse is the updated signal and its audit record.
type TransitionResponse struct {
	Signal     signal.Signal     `json:"signal"`
	Transition signal.Transition `json:"transition"`
}

type activateRequest struct {
	CompanyID string `json:"company_id"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.Store().Ping(r.Context()); err != nil {
		zap.L().Warn("api: health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleValuate(w http.ResponseWriter, r *http.Request) {
	var req pipeline.ValuationRequest
	if !decode(w, r, &req) {
		return
	}
	start := time.Now()
	res, err := s.pipeline.Valuate(r.Context(), req)
	s.metrics.Observe(calcValuation, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	if res.Stale {
		s.metrics.StaleValuations.Inc()
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDCF(w http.ResponseWriter, r *http.Request) {
	var req pipeline.DCFRequest
	if !decode(w, r, &req) {
		return
	}
	start := time.Now()
	res, err := s.pipeline.RunDCF(r.Context(), req)
	s.metrics.Observe(calcDCF, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleActivateDCF(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.pipeline.ActivateDCF(r.Context(), req.CompanyID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

func (s *Server) handleSignalSummary(w http.ResponseWriter, r *http.Request) {
	var req SignalsRequest
	if !decode(w, r, &req) {
		return
	}
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = s.now()
	}
	start := time.Now()
	res, err := s.pipeline.SummarizeSignals(req.Signals, asOf)
	s.metrics.Observe(calcSignals, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleConfirmSignal(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, signal.ActionConfirm)
}

func (s *Server) handleDismissSignal(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, signal.ActionDismiss)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, action signal.Action) {
	var req TransitionRequest
	if !decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if req.Signal.ID == "" {
		req.Signal.ID = id
	}
	if req.Signal.ID != id {
		writeError(w, calc.Invalid("id", "path ID %q does not match signal ID %q", id, req.Signal.ID))
		return
	}

	start := time.Now()
	var (
		after signal.Signal
		t     signal.Transition
		err   error
	)
	if action == signal.ActionConfirm {
		after, t, err = s.pipeline.ConfirmSignal(r.Context(), req.CompanyID, req.Signal, req.Actor)
	} else {
		after, t, err = s.pipeline.DismissSignal(r.Context(), req.CompanyID, req.Signal, req.Actor, req.Reason)
	}
	s.metrics.Observe(calcTransition, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TransitionResponse{Signal: after, Transition: t})
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req pipeline.SimulationRequest
	if !decode(w, r, &req) {
		return
	}
	start := time.Now()
	res, err := s.pipeline.Simulate(r.Context(), req, nil)
	s.metrics.Observe(calcSimulation, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.SimulationSuccess.Observe(res.Results.SuccessRate)
	writeJSON(w, http.StatusOK, res)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// statusFor maps an engine error to an HTTP status and client message.
func statusFor(err error) (int, string) {
	switch {
	case calc.IsInvalidInput(err):
		var ie *calc.InputError
		errors.As(err, &ie)
		return http.StatusUnprocessableEntity, ie.Error()
	case errors.Is(err, pipeline.ErrUnavailable), calc.IsInsufficientData(err):
		return http.StatusConflict, "valuation unavailable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "request timed out"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}
