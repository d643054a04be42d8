package rest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/scrypster/engram/pkg/types"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// ErrorResponse is the error body of every failed request.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError maps err onto a status code and writes it. Validation and
// not-found details are returned to the caller; everything else is logged
// and reported generically.
func respondError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		ve *types.ValidationError
		nf *types.NotFoundError
		pe *types.ProviderError
		se *types.StoreError
	)
	switch {
	case errors.As(err, &ve):
		resp := ErrorResponse{Error: ve.Error(), Code: "VALIDATION_ERROR"}
		if len(ve.Fields) > 0 {
			resp.Details = map[string]interface{}{"fields": ve.Fields}
		} else if ve.Field != "" {
			resp.Details = map[string]interface{}{"field": ve.Field}
		}
		respondJSON(w, http.StatusBadRequest, resp)
	case errors.As(err, &nf):
		respondJSON(w, http.StatusNotFound, ErrorResponse{
			Error:   nf.Error(),
			Code:    "NOT_FOUND",
			Details: map[string]interface{}{"kind": nf.Kind, "id": nf.ID},
		})
	case errors.As(err, &pe) && pe.Kind == types.ProviderRateLimited:
		logger.Warn("provider rate limited", zap.String("provider", pe.Provider), zap.Error(err))
		respondJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "embedding provider rate limited", Code: "RATE_LIMITED"})
	case errors.As(err, &pe):
		logger.Error("provider error", zap.String("provider", pe.Provider), zap.String("kind", string(pe.Kind)), zap.Error(err))
		respondJSON(w, http.StatusBadGateway, ErrorResponse{
			Error:   "embedding provider failed",
			Code:    "PROVIDER_ERROR",
			Details: map[string]interface{}{"kind": pe.Kind},
		})
	case errors.As(err, &se):
		logger.Error("store error", zap.String("op", se.Op), zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "storage failure", Code: "STORE_ERROR"})
	default:
		logger.Error("request failed", zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "INTERNAL"})
	}
}

// decodeJSON reads a JSON body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return types.NewValidationError("body", "invalid JSON: %v", err)
	}
	return nil
}

// parseID parses a positive int64 path or query parameter.
func parseID(name, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, types.NewValidationError(name, "must be a positive integer")
	}
	return id, nil
}

func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return v
}
