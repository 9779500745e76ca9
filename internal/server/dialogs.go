package server

import (
	"net/http"

	gateway "github.com/eugener/smaug/internal"
	"github.com/eugener/smaug/internal/app"
)

type createDialogRequest struct {
	Title        string               `json:"title"`
	SystemPrompt string               `json:"system_prompt"`
	Model        string               `json:"model"`
	Config       *gateway.AgentConfig `json:"config"`
}

func (s *server) handleCreateDialog(w http.ResponseWriter, r *http.Request) {
	var req createDialogRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller := gateway.IdentityFromContext(r.Context())
	d, err := s.deps.Dialogs.Create(r.Context(), caller.UserID, app.CreateDialogParams{
		Title:        req.Title,
		SystemPrompt: req.SystemPrompt,
		Model:        req.Model,
		Config:       req.Config,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

type dialogListResponse struct {
	Dialogs  []*gateway.Dialog `json:"dialogs"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

func (s *server) handleListDialogs(w http.ResponseWriter, r *http.Request) {
	caller := gateway.IdentityFromContext(r.Context())
	offset, limit := pagination(r)
	dialogs, total, err := s.deps.Dialogs.List(r.Context(), caller.UserID, offset, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if dialogs == nil {
		dialogs = []*gateway.Dialog{}
	}
	writeJSON(w, http.StatusOK, dialogListResponse{
		Dialogs:  dialogs,
		Total:    total,
		Page:     offset/limit + 1,
		PageSize: limit,
	})
}

func (s *server) handleGetDialog(w http.ResponseWriter, r *http.Request) {
	id, err := dialogID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.deps.Dialogs.Get(r.Context(), id, gateway.IdentityFromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type updateDialogRequest struct {
	Title  *string              `json:"title"`
	Config *gateway.AgentConfig `json:"config"`
}

func (s *server) handleUpdateDialog(w http.ResponseWriter, r *http.Request) {
	id, err := dialogID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req updateDialogRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.deps.Dialogs.Update(r.Context(), id, gateway.IdentityFromContext(r.Context()), app.UpdateDialogParams{
		Title:  req.Title,
		Config: req.Config,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *server) handleDeleteDialog(w http.ResponseWriter, r *http.Request) {
	id, err := dialogID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Dialogs.Delete(r.Context(), id, gateway.IdentityFromContext(r.Context())); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type messageListResponse struct {
	Messages []*gateway.Message `json:"messages"`
}

func (s *server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id, err := dialogID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	msgs, err := s.deps.Dialogs.Messages(r.Context(), id, gateway.IdentityFromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []*gateway.Message{}
	}
	writeJSON(w, http.StatusOK, messageListResponse{Messages: msgs})
}
