package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"civicsync/internal/fault"
)

// httpStatus maps an error kind to its stable status code.
func httpStatus(kind fault.Kind) int {
	switch kind {
	case fault.KindAuth:
		return http.StatusUnauthorized
	case fault.KindForbidden:
		return http.StatusForbidden
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindConflict:
		return http.StatusConflict
	case fault.KindRateLimit:
		return http.StatusTooManyRequests
	case fault.KindSchema:
		return http.StatusUnprocessableEntity
	case fault.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError renders an error as {error, message}. Internal structure never
// leaks: only the fault's user-safe message is sent.
func writeError(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	message := "internal error"
	var f *fault.Fault
	if errors.As(err, &f) {
		message = f.Message
	}
	writeJSON(w, httpStatus(kind), map[string]string{
		"error":   string(kind),
		"message": message,
	})
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error":   "bad_request",
		"message": message,
	})
}

// paging reads page/limit query params. Limit is capped at 100, default 20.
func paging(r *http.Request) (limit, offset int) {
	limit = 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 100 {
		limit = 100
	}
	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	return limit, (page - 1) * limit
}

// tenantScope reads the tenant scope from the query. Legislative data is
// ingested under the connection's tenant; public deployments run it under
// tenant 0 (global).
func tenantScope(r *http.Request) int64 {
	if v := r.URL.Query().Get("tenant_id"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			return n
		}
	}
	return 0
}

func pathID(r *http.Request, vars map[string]string) (int64, bool) {
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	return id, err == nil && id > 0
}
