package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"typeauthn/pkg/biometric"
	"typeauthn/pkg/keystroke"
	"typeauthn/pkg/profile"
	"typeauthn/pkg/structlog"
)

// Challenge phrases shown during enrollment and authentication. Rotated per
// session so a replayed recording rarely matches the requested phrase.
var prompts = []string{
	"the quick brown fox jumps over the lazy dog",
	"pack my box with five dozen liquor jugs",
	"how vexingly quick daft zebras jump",
	"sphinx of black quartz judge my vow",
	"the five boxing wizards jump quickly",
}

type server struct {
	engine   *biometric.Engine
	sessions *sessionManager
	audit    auditStore
	metrics  *serviceMetrics
	logger   *structlog.Logger
	promptAt atomic.Int64
}

func (s *server) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /typeauth/enroll/start", s.handleEnrollStart)
	mux.HandleFunc("POST /typeauth/enroll/submit", s.handleEnrollSubmit)
	mux.HandleFunc("POST /typeauth/auth/start", s.handleAuthStart)
	mux.HandleFunc("POST /typeauth/auth/submit", s.handleAuthSubmit)
	mux.HandleFunc("GET /typeauth/auth/stream", s.handleAuthStream)
	mux.HandleFunc("GET /typeauth/users", s.handleListUsers)
	mux.HandleFunc("DELETE /typeauth/users/{id}", s.handleDeleteUser)
	mux.HandleFunc("GET /typeauth/users/{id}/confidence", s.handleConfidence)
	mux.HandleFunc("GET /typeauth/users/{id}/integrity", s.handleIntegrity)
}

func (s *server) nextPrompt() string {
	n := s.promptAt.Add(1) - 1
	return prompts[int(n)%len(prompts)]
}

type startRequest struct {
	UserID string `json:"user_id"`
}

type submitRequest struct {
	SessionToken string           `json:"session_token"`
	Events       []map[string]any `json:"events"`
}

func (s *server) handleEnrollStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	prompt := s.nextPrompt()
	token, err := s.sessions.Issue(req.UserID, purposeEnroll, prompt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session issue failed")
		return
	}
	samples, err := s.engine.Repository().SampleCount(req.UserID)
	if err != nil {
		s.writeEngineError(w, r, req.UserID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_token": token,
		"prompt":        prompt,
		"samples":       samples,
	})
}

func (s *server) handleEnrollSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	userID, _, err := s.sessions.Validate(req.SessionToken, purposeEnroll)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid enrollment session")
		return
	}
	events, err := keystroke.ParseEvents(req.Events)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	res, err := s.engine.Enroll(r.Context(), userID, events)
	if err != nil {
		s.writeEngineError(w, r, userID, err)
		return
	}
	s.metrics.enrollTotal.Inc()
	if res.Trained {
		s.metrics.trainTotal.WithLabelValues("trained").Inc()
		s.metrics.trainSeconds.Observe(time.Since(start).Seconds())
	}
	s.audit.Record(r.Context(), auditEvent{UserID: userID, Action: "enroll", Detail: res})
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleAuthStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if !s.engine.Trained(req.UserID) {
		writeError(w, http.StatusConflict, "user has no trained model; complete enrollment first")
		return
	}
	prompt := s.nextPrompt()
	token, err := s.sessions.Issue(req.UserID, purposeAuth, prompt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session issue failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_token": token,
		"prompt":        prompt,
	})
}

func (s *server) handleAuthSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	userID, _, err := s.sessions.Validate(req.SessionToken, purposeAuth)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid authentication session")
		return
	}
	events, err := keystroke.ParseEvents(req.Events)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	res, err := s.engine.Verify(r.Context(), userID, events)
	s.metrics.verifySeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		s.writeEngineError(w, r, userID, err)
		return
	}
	s.metrics.verifyTotal.WithLabelValues(res.Decision).Inc()
	s.audit.Record(r.Context(), auditEvent{
		UserID: userID, Action: "verify", Decision: res.Decision, Ensemble: res.Ensemble, Detail: res,
	})

	body := map[string]any{"result": res}
	if res.Accepted {
		access, err := s.sessions.Issue(userID, purposeAccess, "")
		if err == nil {
			body["access_token"] = access
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	ids, err := s.engine.Repository().ListUsers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "user listing failed")
		return
	}
	users := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		samples, err := s.engine.Repository().SampleCount(id)
		if err != nil {
			samples = 0
		}
		users = append(users, map[string]any{
			"user_id": id,
			"trained": s.engine.Trained(id),
			"samples": samples,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	existed, err := s.engine.Repository().DeleteUser(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "user deletion failed")
		return
	}
	if !existed {
		writeError(w, http.StatusNotFound, "unknown user")
		return
	}
	s.logger.AuditLog("user_deleted", structlog.Fields{"user_id": userID})
	s.audit.Record(r.Context(), auditEvent{UserID: userID, Action: "delete"})
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleConfidence(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	entries, err := s.engine.Repository().LoadConfidence(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "confidence log load failed")
		return
	}
	if entries == nil {
		entries = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "entries": entries})
}

func (s *server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	intact, err := s.engine.Repository().VerifyIntegrity(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "integrity check failed")
		return
	}
	if !intact {
		s.logger.SecurityEvent("dataset_integrity_failure", structlog.Fields{"user_id": userID})
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "intact": intact})
}

// writeEngineError maps engine error kinds to distinct HTTP statuses so a
// client can tell "keep enrolling" from "this attempt failed" from "system
// misconfigured".
func (s *server) writeEngineError(w http.ResponseWriter, r *http.Request, userID string, err error) {
	switch {
	case errors.Is(err, keystroke.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, biometric.ErrInsufficientData):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, biometric.ErrModelNotTrained):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, biometric.ErrLiveness):
		s.metrics.verifyTotal.WithLabelValues("liveness_reject").Inc()
		s.audit.Record(r.Context(), auditEvent{UserID: userID, Action: "verify", Decision: "liveness_reject"})
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error":    "liveness check failed",
			"decision": biometric.DecisionReject,
		})
	case errors.Is(err, biometric.ErrSchemaMismatch):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, profile.ErrDatasetCorrupt):
		s.logger.SecurityEvent("dataset_corrupt", structlog.Fields{"user_id": userID, "error": err.Error()})
		writeError(w, http.StatusInternalServerError, "dataset integrity failure; manual remediation required")
	default:
		s.logger.Error("request failed", structlog.Fields{"user_id": userID, "error": err.Error()})
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
