package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"civicguard.org/internal/auth"
	"civicguard.org/internal/crisis"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="civicguard"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max))
	}
	return val, nil
}

// crisisStatus maps a core error to its HTTP status.
func crisisStatus(err error) int {
	switch {
	case errors.Is(err, crisis.ErrInvalidInput), errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, crisis.ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, crisis.ErrInvalidTransition), errors.Is(err, crisis.ErrSessionConflict):
		return http.StatusConflict
	case errors.Is(err, crisis.ErrIncompleteAuthorization):
		return http.StatusPreconditionFailed
	case errors.Is(err, auth.ErrThrottled):
		return http.StatusTooManyRequests
	case errors.Is(err, crisis.ErrPermissionDenied), errors.Is(err, crisis.ErrTokenRejected):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func handleCrisisError(w http.ResponseWriter, r *http.Request, err error) {
	code := crisisStatus(err)
	if code == http.StatusInternalServerError {
		writeError(w, r, code, "crisis operation failed")
		return
	}
	writeError(w, r, code, err.Error())
}
