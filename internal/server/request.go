package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	gateway "github.com/eugener/smaug/internal"
)

const maxBodyBytes = 1 << 20 // request bodies are JSON control data, not payloads

// decodeJSON strictly decodes the request body into v. Unknown fields are
// rejected so config typos fail loudly instead of being silently ignored.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", gateway.ErrValidation, err)
	}
	return nil
}

// dialogID parses the {id} route param.
func dialogID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid dialog id", gateway.ErrValidation)
	}
	return id, nil
}

// userIDParam parses the {id} route param of the admin user endpoints.
func userIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid user id", gateway.ErrValidation)
	}
	return id, nil
}

// pagination extracts page/page_size query params: page >= 1, page_size
// defaults to 20 and is capped at 100.
func pagination(r *http.Request) (offset, limit int) {
	page := 1
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 1 {
		page = v
	}
	limit = 20
	if v, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && v > 0 {
		limit = min(v, 100)
	}
	return (page - 1) * limit, limit
}
