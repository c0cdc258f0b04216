package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
)

const maxBodyBytes = 64 << 10

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: request body must contain a single JSON value", domain.ErrInvalidInput)
	}
	return nil
}

func writeMappedError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status, code, msg := mapDomainError(err)
	writeRejection(w, r, operation, status, code, msg, err)
}

func mapDomainError(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrFieldTooLong):
		return http.StatusBadRequest, "FIELD_TOO_LONG", err.Error()
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing credentials"
	case errors.Is(err, domain.ErrUnauthorizedRevoker):
		return http.StatusForbidden, "UNAUTHORIZED_REVOKER", err.Error()
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "licensee does not match caller"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "resource not found"
	case errors.Is(err, domain.ErrExclusiveLicenseExists):
		return http.StatusConflict, "EXCLUSIVE_LICENSE_EXISTS", err.Error()
	case errors.Is(err, domain.ErrLicenseExists):
		return http.StatusConflict, "LICENSE_EXISTS", err.Error()
	case errors.Is(err, domain.ErrAlreadyRevoked):
		return http.StatusConflict, "ALREADY_REVOKED", err.Error()
	case errors.Is(err, domain.ErrGuardMismatch):
		return http.StatusConflict, "GUARD_MISMATCH", err.Error()
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "CONFLICT", "concurrent update, retry the request"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED", "too many requests"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}
