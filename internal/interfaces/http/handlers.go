package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/spendguard/spendguard/internal/domain"
)

type analyzeRequest struct {
	Tenant     string `json:"tenant"`
	WindowDays int    `json:"window_days"`
	SourceHint string `json:"source_hint,omitempty"`
}

type recommendRequest struct {
	UseModelReasoning bool `json:"use_model_reasoning"`
}

type executeRequest struct {
	ApprovedAdIDs []string `json:"approved_ad_ids"`
	DryRun        *bool    `json:"dry_run"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID, summary, err := s.core.Analyze(r.Context(), req.Tenant, req.WindowDays, req.SourceHint)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"summary":    summary,
	})
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	anomalies, verdicts, err := s.core.Anomalies(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"anomalies": anomalies,
		"verdicts":  verdicts,
	})
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req recommendRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	recs, summary, err := s.core.Recommend(r.Context(), id, req.UseModelReasoning)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recommendations": recs,
		"summary":         summary,
	})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	dryRun := true
	if req.DryRun != nil {
		dryRun = *req.DryRun
	}

	results, summary, err := s.core.Execute(r.Context(), id, req.ApprovedAdIDs, dryRun)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"summary": summary,
	})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.core.Release(id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"released": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"active_sessions": s.core.ActiveSessions(),
	})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnknownTenant), errors.Is(err, domain.ErrWindowOutOfRange):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrSessionExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
