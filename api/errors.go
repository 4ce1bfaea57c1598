package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/helyxium/trustcore/trusterr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// mapError translates trust core errors to HTTP statuses. Internal
// failures are reported without detail.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, trusterr.ErrValidation),
		errors.Is(err, trusterr.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, trusterr.ErrDuplicateUser):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, trusterr.ErrAgeRestricted),
		errors.Is(err, trusterr.ErrConsentProofRejected),
		errors.Is(err, trusterr.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, trusterr.ErrUnauthorized),
		errors.Is(err, trusterr.ErrSessionExpired),
		errors.Is(err, trusterr.ErrSessionNotFound):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, trusterr.ErrAccountLocked):
		writeError(w, http.StatusLocked, err.Error())
	case errors.Is(err, trusterr.ErrTokenExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, trusterr.ErrTokenInvalid):
		writeError(w, http.StatusNotFound, "consent token is invalid")
	case errors.Is(err, trusterr.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
