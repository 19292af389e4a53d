package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"campuschat/internal/core/domain"
	"campuschat/pkg/logging"
	"campuschat/pkg/middleware"

	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

var (
	errUnauthenticated = domain.Unauthorized("authentication required")
	errBadBody         = domain.Invalid("invalid request body")
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error": {"kind", "message"}}. Internal causes
// are logged and never written.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)
	if errors.Is(err, errUnauthenticated) {
		status = http.StatusUnauthorized
	}
	if kind == domain.KindInternal {
		logging.FromContext(r.Context()).ErrorContext(r.Context(), "http handler - request failed", logging.Err(err))
	}
	writeJSON(w, status, map[string]domain.ErrorMessage{
		"error": {Kind: kind, Message: domain.PublicMessage(err)},
	})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return domain.WithCause(errBadBody, err)
	}
	return nil
}

func currentUser(r *http.Request) (string, error) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return "", errUnauthenticated
	}
	return userID, nil
}

func pathUUID(r *http.Request, name string, invalid error) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, invalid
	}
	return id, nil
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}

func pageFrom(r *http.Request) domain.Page {
	return domain.NewPage(queryInt(r, "page"), queryInt(r, "limit"))
}
