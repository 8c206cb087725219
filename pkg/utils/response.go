package utils

import (
	"encoding/json"
	"errors"
	"net/http"

	"k8s.io/klog/v2"

	"github.com/zhouzirui/gyn-intake/backend/internal/model/intake"
)

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		klog.Warningf("[http] failed to encode response: %v", err)
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

// RespondServiceError maps intake errors to HTTP status codes.
func RespondServiceError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		klog.Errorf("[http] internal error: %v", err)
	}
	RespondError(w, status, err.Error())
}

// StatusFor returns the HTTP status for an intake error.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, intake.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, intake.ErrDuplicateSession), errors.Is(err, intake.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, intake.ErrCorruptSession):
		return http.StatusUnprocessableEntity
	case errors.Is(err, intake.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, intake.ErrEmptyAnswer),
		errors.Is(err, intake.ErrInvalidPatientID),
		errors.Is(err, intake.ErrUnknownProtocol):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
