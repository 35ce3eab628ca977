// Package handlers exposes the scheduling and queue engines over HTTP.
// Every engine error carries a fault kind; the mapping to status codes
// lives in writeFault and nowhere else.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/clinicops/appointments/internal/fault"
)

func credentialFromHeader(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeFault(w http.ResponseWriter, logger *slog.Logger, err error) {
	var fe *fault.Error
	if !errors.As(err, &fe) {
		logger.Error("unclassified handler error", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	var status int
	switch fe.Kind() {
	case fault.KindValidation:
		status = http.StatusBadRequest
	case fault.KindNotFound:
		status = http.StatusNotFound
	case fault.KindConflict:
		status = http.StatusConflict
	case fault.KindState, fault.KindWindow:
		status = http.StatusUnprocessableEntity
	case fault.KindUpstream:
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{
		"error": fe.Message(),
		"kind":  fe.Kind().String(),
	})
}
