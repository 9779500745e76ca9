package server

import (
	"net/http"

	gateway "github.com/eugener/smaug/internal"
)

type tokenStatusResponse struct {
	UserID    int64  `json:"user_id"`
	Balance   int64  `json:"balance"`
	TotalUsed int64  `json:"total_used"`
	Limit     *int64 `json:"limit,omitempty"`
}

func (s *server) handleMyTokens(w http.ResponseWriter, r *http.Request) {
	caller := gateway.IdentityFromContext(r.Context())
	b, err := s.deps.Ledger.Balance(r.Context(), caller.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	used, err := s.deps.Ledger.TotalUsed(r.Context(), caller.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenStatusResponse{
		UserID:    caller.UserID,
		Balance:   b.Balance,
		TotalUsed: used,
		Limit:     b.Limit,
	})
}
