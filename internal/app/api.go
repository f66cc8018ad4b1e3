package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voxnote/internal/health"
	"github.com/MrWong99/voxnote/internal/observe"
	"github.com/MrWong99/voxnote/internal/resilience"
	"github.com/MrWong99/voxnote/internal/session"
	"github.com/MrWong99/voxnote/pkg/resultlog"
)

// startRequest is the optional body of POST /v1/sessions.
type startRequest struct {
	// Language is a BCP-47 tag or ISO 639-1 code; empty selects the default.
	Language string `json:"language"`
}

type sessionResponse struct {
	SessionID      uint64 `json:"session_id"`
	State          string `json:"state"`
	Language       string `json:"language,omitempty"`
	LiveTranscript string `json:"live_transcript,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// routes builds the control API:
//
//	POST   /v1/sessions          start capturing (abandons a running session)
//	POST   /v1/sessions/stop     stop and wait for the reconciled outcome
//	GET    /v1/sessions/current  id, state and live transcript
//	DELETE /v1/sessions/current  abandon without a result
//	GET    /v1/results?limit=N   most recent transcripts, newest first
//	GET    /healthz, /readyz, /metrics
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", a.handleStart)
	mux.HandleFunc("POST /v1/sessions/stop", a.handleStop)
	mux.HandleFunc("GET /v1/sessions/current", a.handleCurrent)
	mux.HandleFunc("DELETE /v1/sessions/current", a.handleAbandon)
	mux.HandleFunc("GET /v1/results", a.handleResults)
	mux.Handle("GET /metrics", promhttp.Handler())

	var checks []health.Checker
	if a.results != nil {
		checks = append(checks, health.PingChecker("result_log", a.results))
	}
	if c, ok := a.providers.Streaming.(breakerChain); ok {
		checks = append(checks, breakerCheck("streaming", c))
	}
	if c, ok := a.providers.Batch.(breakerChain); ok {
		checks = append(checks, breakerCheck("batch", c))
	}
	health.New(checks...).Register(mux)

	return observe.Middleware(a.metrics)(mux)
}

// breakerChain is a failover chain that exposes per-backend breaker state.
type breakerChain interface {
	Names() []string
	State(name string) (resilience.State, bool)
}

var errAllCircuitsOpen = errors.New("every backend circuit is open")

// breakerCheck fails while no backend of chain would accept a call.
func breakerCheck(name string, chain breakerChain) health.Checker {
	return health.Func(name, func(context.Context) error {
		for _, n := range chain.Names() {
			if s, ok := chain.State(n); ok && s != resilience.StateOpen {
				return nil
			}
		}
		return errAllCircuitsOpen
	})
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
			return
		}
	}

	id, err := a.manager.Start(r.Context(), req.Language)
	if err != nil {
		status := http.StatusInternalServerError
		var devErr *session.DeviceError
		if errors.As(err, &devErr) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	lang := req.Language
	if lang == "" {
		lang = a.settings.Settings().DefaultLanguage
	}
	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID: id,
		State:     session.StateCapturing.String(),
		Language:  lang,
	})
}

func (a *App) handleStop(w http.ResponseWriter, r *http.Request) {
	outcome, err := a.manager.Stop(r.Context())
	switch {
	case errors.Is(err, session.ErrNotCapturing):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, session.ErrAbandoned):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, outcome)
	}
}

func (a *App) handleCurrent(w http.ResponseWriter, _ *http.Request) {
	id, state := a.manager.Current()
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID:      id,
		State:          state.String(),
		LiveTranscript: a.manager.LiveTranscript(),
	})
}

func (a *App) handleAbandon(w http.ResponseWriter, _ *http.Request) {
	a.manager.Abandon()
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleResults(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be an integer"})
			return
		}
		limit = n
	}
	if a.results == nil {
		writeJSON(w, http.StatusOK, []resultlog.Record{})
		return
	}
	records, err := a.results.Recent(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
	}
}
