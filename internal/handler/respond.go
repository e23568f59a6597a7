// Package handler provides the HTTP handlers: the WhatsApp webhook, the
// staff lead API and the health probes.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/jkindrix/plumbot/internal/errors"
	"github.com/jkindrix/plumbot/internal/middleware"
	"github.com/jkindrix/plumbot/internal/validation"
)

// ValidationErrorResponse is returned when a request body fails validation.
type ValidationErrorResponse struct {
	Error  apperrors.ErrorDetail       `json:"error"`
	Fields validation.ValidationErrors `json:"fields"`
}

// writeJSON writes data with status. The request ID is echoed for support.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	if id := middleware.GetRequestID(r.Context()); id != "" {
		w.Header().Set(middleware.RequestIDHeader, id)
	}
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeError maps err to a status and body. System errors are logged and
// reported without their details.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var fieldErrs validation.ValidationErrors
	if errors.As(err, &fieldErrs) {
		writeJSON(w, r, http.StatusBadRequest, ValidationErrorResponse{
			Error:  apperrors.ErrorDetail{Code: apperrors.CodeValidation, Message: "validation failed"},
			Fields: fieldErrs,
		})
		return
	}

	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		appErr = apperrors.Wrap(err, "", apperrors.CodeInternal, "internal server error")
	}
	if appErr.Kind != apperrors.KindUser {
		middleware.LoggerWithCorrelation(r.Context(), logger).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("code", string(appErr.Code)),
			zap.Error(err),
		)
	}
	resp := appErr.ToResponse()
	if appErr.Kind == apperrors.KindSystem {
		resp.Error.Message = "internal server error"
	}
	writeJSON(w, r, appErr.HTTPStatus(), resp)
}

// decodeJSON decodes and validates a request body.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.New(apperrors.CodeTooLarge, "request body too large")
		}
		return apperrors.Wrap(err, "handler.decodeJSON", apperrors.CodeMalformed, fmt.Sprintf("invalid JSON body: %v", err))
	}
	return validation.Struct(dst)
}
