package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/dkomics/church-portal/internal/middleware"
	"github.com/dkomics/church-portal/internal/services"
	"github.com/dkomics/church-portal/pkg/logger"
	"github.com/dkomics/church-portal/pkg/metrics"
	"github.com/dkomics/church-portal/pkg/response"
	"github.com/gin-gonic/gin"
)

const auditWarning = "the action succeeded but could not be written to the audit log"

// toAppError maps a service error to its HTTP form. Unknown errors yield nil.
func toAppError(c *gin.Context, err error) *response.AppError {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		return response.NewValidation("please correct the highlighted fields", verr.Fields)
	case errors.Is(err, services.ErrAccessDenied):
		metrics.AccessDenied.WithLabelValues(routeLabel(c)).Inc()
		return response.NewForbidden("you do not have permission to perform this action")
	case errors.Is(err, services.ErrInvalidRole):
		return response.NewBadRequest("invalid role")
	case errors.Is(err, services.ErrNotFound):
		return response.NewNotFound("not found")
	case errors.Is(err, services.ErrInvalidCredentials):
		return response.NewUnauthorized("invalid username or password")
	case errors.Is(err, services.ErrAccountDisabled):
		return response.NewForbidden("account is disabled")
	case errors.Is(err, services.ErrNoProfile):
		return response.NewForbidden("account has no profile, contact an administrator")
	case errors.Is(err, services.ErrDuplicateMembershipID):
		return response.NewUnavailable("a membership number conflict occurred, please try again")
	case errors.Is(err, services.ErrSequenceExhausted):
		logger.Error().Err(err).Str("route", routeLabel(c)).Msg("membership numbering exhausted")
		return response.NewServerError("membership numbers for this branch and year are exhausted, contact an administrator")
	case errors.Is(err, services.ErrConflict), errors.Is(err, services.ErrNotReconcilable):
		return response.NewConflict(err.Error())
	}
	return nil
}

// respondError writes err; unknown errors are logged and hidden behind a 500.
func respondError(c *gin.Context, err error) {
	if appErr := toAppError(c, err); appErr != nil {
		response.Error(c, appErr)
		return
	}
	logger.Error().Err(err).
		Str("route", routeLabel(c)).
		Uint("user_id", middleware.GetUserID(c)).
		Msg("request failed")
	response.Error(c, err)
}

// respond writes the outcome of an action. An action that succeeded but whose
// audit entry failed is still a success, carrying a warning.
func respond(c *gin.Context, status int, data any, err error) {
	var warnings []string
	if err != nil {
		if !errors.Is(err, services.ErrAuditWrite) {
			respondError(c, err)
			return
		}
		warnings = append(warnings, auditWarning)
	}
	if status == http.StatusCreated {
		response.Created(c, data, warnings...)
		return
	}
	response.SuccessWithWarnings(c, data, warnings...)
}

func routeLabel(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}

func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}
