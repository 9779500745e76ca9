package server

import (
	"net/http"

	gateway "github.com/eugener/smaug/internal"
)

type userListResponse struct {
	Users    []*gateway.UserSummary `json:"users"`
	Total    int                    `json:"total"`
	Page     int                    `json:"page"`
	PageSize int                    `json:"page_size"`
}

func (s *server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	offset, limit := pagination(r)
	users, total, err := s.deps.Admin.ListUsers(r.Context(), offset, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if users == nil {
		users = []*gateway.UserSummary{}
	}
	writeJSON(w, http.StatusOK, userListResponse{
		Users:    users,
		Total:    total,
		Page:     offset/limit + 1,
		PageSize: limit,
	})
}

func (s *server) handleAdminGetUser(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.deps.Admin.GetUser(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type setLimitRequest struct {
	Limit *int64 `json:"limit"`
}

func (s *server) handleAdminSetLimit(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req setLimitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	admin := gateway.IdentityFromContext(r.Context())
	if err := s.deps.Admin.SetLimit(r.Context(), admin.UserID, userID, req.Limit); err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.deps.Ledger.Balance(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type adjustTokensRequest struct {
	Amount int64 `json:"amount"`
}

type adjustTokensResponse struct {
	UserID      int64                     `json:"user_id"`
	Balance     int64                     `json:"balance"`
	Transaction *gateway.TokenTransaction `json:"transaction"`
}

func (s *server) handleAdminAdjust(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req adjustTokensRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	admin := gateway.IdentityFromContext(r.Context())
	balance, txn, err := s.deps.Admin.Adjust(r.Context(), admin.UserID, userID, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, adjustTokensResponse{
		UserID:      userID,
		Balance:     balance,
		Transaction: txn,
	})
}

type historyResponse struct {
	Transactions []*gateway.TokenTransaction `json:"transactions"`
}

func (s *server) handleAdminHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, limit := pagination(r)
	txns, err := s.deps.Admin.History(r.Context(), userID, offset, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if txns == nil {
		txns = []*gateway.TokenTransaction{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Transactions: txns})
}
