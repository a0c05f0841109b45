package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mianshi-ai/coachd/internal/store"
)

// confirmAssetRequest carries a pending_save the user confirmed, plus
// the stream-end message id so the source turn can be flagged as saved.
type confirmAssetRequest struct {
	SessionID  string `json:"session_id"`
	TurnID     string `json:"message_id"`
	ProjectID  string `json:"project_id"`
	Question   string `json:"question"`
	Transcript string `json:"transcript"`
	Analysis   string `json:"analysis,omitempty"`
}

func (s *Server) handleConfirmAsset(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "store not configured")
		return
	}
	var req confirmAssetRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.ProjectID) == "" || strings.TrimSpace(req.Question) == "" || strings.TrimSpace(req.Transcript) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "project_id, question and transcript are required")
		return
	}

	asset, err := s.store.SaveAsset(r.Context(), store.Asset{
		ProjectID:  req.ProjectID,
		Question:   req.Question,
		Transcript: req.Transcript,
		Analysis:   req.Analysis,
		Kind:       store.AssetEdited,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	// Best-effort: the asset is the durable artifact, the saved flag is
	// presentation state.
	if req.TurnID != "" {
		saved := true
		_ = s.store.MarkTurn(r.Context(), req.TurnID, &saved, nil)
		if req.SessionID != "" {
			_ = s.sessions.SetTurnSaved(req.SessionID, req.TurnID, true)
		}
	}

	respondJSON(w, http.StatusCreated, asset)
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "store not configured")
		return
	}
	projectID := chi.URLParam(r, "id")
	if strings.TrimSpace(projectID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_project_id", "missing project id")
		return
	}
	assets, err := s.store.ProjectAssets(r.Context(), projectID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"assets": assets})
}

type likeTurnRequest struct {
	SessionID string `json:"session_id"`
	Liked     bool   `json:"liked"`
}

func (s *Server) handleLikeTurn(w http.ResponseWriter, r *http.Request) {
	turnID := chi.URLParam(r, "id")
	if strings.TrimSpace(turnID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_turn_id", "missing turn id")
		return
	}
	var req likeTurnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if req.SessionID != "" {
		if err := s.sessions.SetTurnLiked(req.SessionID, turnID, req.Liked); err != nil {
			respondError(w, http.StatusNotFound, "turn_not_found", err.Error())
			return
		}
	}
	if s.store != nil {
		liked := req.Liked
		_ = s.store.MarkTurn(r.Context(), turnID, nil, &liked)
	}
	respondJSON(w, http.StatusOK, map[string]any{"message_id": turnID, "liked": req.Liked})
}
