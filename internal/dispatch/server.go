// Package dispatch exposes the orchestrator's worker-facing protocol and
// read-side API over plain HTTP: submit a scenario, claim/succeed/fail a
// task, and look up task/scenario/queue state.
package dispatch

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/giantswarm/muster-scenario-core/internal/apierrors"
	"github.com/giantswarm/muster-scenario-core/internal/scenario"
	"github.com/giantswarm/muster-scenario-core/pkg/logging"
)

// defaultClaimTimeout bounds how long a worker's long-poll claim request
// blocks when it does not specify its own timeout_seconds.
const defaultClaimTimeout = 30 * time.Second

// Server is the HTTP handler exposing Service's operations to submitters
// and worker processes.
type Server struct {
	svc *scenario.Service
	mux *http.ServeMux
}

// NewServer builds the routed handler. Mount it under any path prefix with
// http.StripPrefix, or serve it directly at the root.
func NewServer(svc *scenario.Service) *Server {
	s := &Server{svc: svc, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /v1/scenarios", s.handleSubmitScenario)
	s.mux.HandleFunc("GET /v1/scenarios/{id}", s.handleGetScenario)
	s.mux.HandleFunc("POST /v1/claim", s.handleClaim)
	s.mux.HandleFunc("POST /v1/tasks/{id}/succeed", s.handleSucceed)
	s.mux.HandleFunc("POST /v1/tasks/{id}/fail", s.handleFail)
	s.mux.HandleFunc("GET /v1/tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("GET /v1/queues/{service}/depth", s.handleQueueDepth)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type submitScenarioRequest struct {
	Template   string                 `json:"template"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

type submitScenarioResponse struct {
	ScenarioID string `json:"scenario_id"`
}

func (s *Server) handleSubmitScenario(w http.ResponseWriter, r *http.Request) {
	var req submitScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := s.svc.SubmitScenario(r.Context(), req.Template, req.Parameters)
	if err != nil {
		logging.Audit(logging.AuditEvent{Action: "submit_scenario", Outcome: "failure", Error: err.Error()})
		writeAPIError(w, err)
		return
	}

	logging.Audit(logging.AuditEvent{Action: "submit_scenario", Outcome: "success", ScenarioID: id, Details: req.Template})
	writeJSON(w, http.StatusCreated, submitScenarioResponse{ScenarioID: id})
}

func (s *Server) handleGetScenario(w http.ResponseWriter, r *http.Request) {
	progress, err := s.svc.Query.GetScenario(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.Query.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleQueueDepth(w http.ResponseWriter, r *http.Request) {
	depth, err := s.svc.Query.QueueDepth(r.Context(), r.PathValue("service"))
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"depth": depth})
}

type claimRequest struct {
	Service        string `json:"service"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Service == "" {
		writeError(w, http.StatusBadRequest, errMissingService)
		return
	}

	timeout := defaultClaimTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	t, ok, err := s.svc.Dispatcher.Claim(r.Context(), req.Service, timeout)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type succeedRequest struct {
	ResultRef string `json:"result_ref"`
}

func (s *Server) handleSucceed(w http.ResponseWriter, r *http.Request) {
	var req succeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := r.PathValue("id")
	if err := s.svc.Dispatcher.Succeed(r.Context(), id, req.ResultRef); err != nil {
		writeAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type failRequest struct {
	Error string `json:"error"`
}

func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := r.PathValue("id")
	if err := s.svc.Dispatcher.Fail(r.Context(), id, req.Error); err != nil {
		writeAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeAPIError maps the internal error taxonomy onto HTTP status codes.
func writeAPIError(w http.ResponseWriter, err error) {
	switch {
	case apierrors.IsUnknownTask(err), apierrors.IsUnknownScenario(err):
		writeError(w, http.StatusNotFound, err)
	case apierrors.IsInvalidTransition(err):
		writeError(w, http.StatusConflict, err)
	case apierrors.IsStoreUnavailable(err):
		writeError(w, http.StatusServiceUnavailable, err)
	case apierrors.Is(err, apierrors.KindUnknownTemplate):
		writeError(w, http.StatusNotFound, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}

var errMissingService = &missingFieldError{field: "service"}

type missingFieldError struct{ field string }

func (e *missingFieldError) Error() string { return "missing required field: " + e.field }
