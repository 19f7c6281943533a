package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cabgo/internal/domain"
	"cabgo/internal/middleware"
	"cabgo/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// respondError sends an error response with the HTTP status of the error's kind.
// Errors outside the taxonomy are logged and reported as an opaque 500.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	code, known := mapErrorToHTTPStatus(err)
	_ = c.Error(err)

	if !known {
		logger.Error("unhandled error",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}
	if code == http.StatusInternalServerError {
		logger.Error("request failed", zap.String("route", c.FullPath()), zap.Error(err))
	} else if cause := service.Cause(err); cause != nil {
		logger.Warn("collaborator error",
			zap.String("route", c.FullPath()),
			zap.String("kind", err.Error()),
			zap.NamedError("cause", cause),
		)
	}

	c.JSON(code, ErrorResponse{Error: err.Error(), Retryable: service.IsRetryable(err)})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// badRequest rejects a malformed body or path parameter.
func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

// mapErrorToHTTPStatus maps a service error kind to an HTTP status code.
// The second result is false for errors outside the taxonomy.
func mapErrorToHTTPStatus(err error) (int, bool) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, true
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusForbidden, true
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrConflict):
		return http.StatusConflict, true
	case errors.Is(err, service.ErrFailedPrecondition):
		return http.StatusUnprocessableEntity, true
	case errors.Is(err, service.ErrNoCapacity),
		errors.Is(err, service.ErrCollaboratorUnavailable):
		return http.StatusServiceUnavailable, true
	case errors.Is(err, service.ErrInconsistentState):
		return http.StatusInternalServerError, true
	default:
		return http.StatusInternalServerError, false
	}
}

// principal returns the authenticated caller or aborts with 401.
func principal(c *gin.Context) (domain.Principal, bool) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "missing credential"})
	}
	return p, ok
}

// rideIDParam parses a ride id path parameter or aborts with 400.
func rideIDParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, service.ErrInvalidRideID.Error())
		return 0, false
	}
	return id, true
}
