package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	gateway "github.com/eugener/smaug/internal"
)

type modelListResponse struct {
	Models []gateway.Model `json:"models"`
}

func (s *server) handleListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, modelListResponse{Models: s.deps.Models.All()})
}

func (s *server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	m := s.deps.Models.Get(name)
	if m == nil {
		s.writeError(w, r, fmt.Errorf("%w: unknown model %q", gateway.ErrValidation, name))
		return
	}
	writeJSON(w, http.StatusOK, m)
}
