package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"placementmail/internal/service"
)

// ErrorResponse represents the standard error response structure
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and message, plus the offending
// input field for validation errors
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a structured JSON error response
func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeErrorDetail(w, status, ErrorDetail{Code: code, Message: message})
}

func writeErrorDetail(w http.ResponseWriter, status int, detail ErrorDetail) {
	_ = WriteJSON(w, status, ErrorResponse{Error: detail})
}

// WriteCreated writes a 201 Created response with the given data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteOK writes a 200 OK response with the given data
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteValidationError writes a 400 Bad Request response with VALIDATION_ERROR code
func WriteValidationError(w http.ResponseWriter, field, message string) {
	writeErrorDetail(w, http.StatusBadRequest, ErrorDetail{
		Code:    "VALIDATION_ERROR",
		Message: message,
		Field:   field,
	})
}

// WriteNotFoundError writes a 404 Not Found response with RESOURCE_NOT_FOUND code
func WriteNotFoundError(w http.ResponseWriter, resource, id string) {
	message := fmt.Sprintf("%s with ID %s not found", resource, id)
	WriteError(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", message)
}

// WriteInternalError writes a 500 response without exposing internal details
func WriteInternalError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
}

// HandleServiceError maps service layer errors to appropriate HTTP responses
func HandleServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		notFound   *service.NotFoundError
		validation *service.ValidationError
		resolution *service.ResolutionError
		render     *service.RenderError
		business   *service.BusinessLogicError
		conflict   *service.ConflictError
	)

	switch {
	case errors.As(err, &notFound):
		WriteNotFoundError(w, notFound.Resource, notFound.ID)
	case errors.As(err, &validation):
		WriteValidationError(w, validation.Field, validation.Reason)
	case errors.As(err, &resolution):
		if resolution.NotFound {
			WriteError(w, http.StatusNotFound, "DRIVE_NOT_FOUND", resolution.Error())
			return
		}
		logger.Error("recipient resolution failed", zap.Int("drive_id", resolution.DriveID), zap.Error(err))
		WriteError(w, http.StatusBadGateway, "RESOLUTION_ERROR", "applicant directory is unavailable")
	case errors.As(err, &render):
		WriteError(w, http.StatusUnprocessableEntity, "RENDER_ERROR", render.Error())
	case errors.As(err, &business):
		WriteError(w, http.StatusBadRequest, "BUSINESS_LOGIC_ERROR", business.Message)
	case errors.As(err, &conflict):
		WriteError(w, http.StatusConflict, "CONFLICT", conflict.Message)
	default:
		logger.Error("unhandled service error", zap.Error(err))
		WriteInternalError(w)
	}
}
