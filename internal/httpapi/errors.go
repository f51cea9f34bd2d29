package httpapi

import (
	"errors"
	"net/http"

	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/guard"
	"outbound-dialer/internal/guardclient"
	"outbound-dialer/internal/reporting"
	"outbound-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

// writeError maps domain errors to the guard API's error body. Anything
// unrecognised is logged and reported as 500 without details.
func writeError(c *gin.Context, err error) {
	var cooldown *calls.CooldownError
	switch {
	case errors.As(err, &cooldown):
		last := cooldown.LastCallTime
		c.AbortWithStatusJSON(http.StatusConflict, guardclient.ErrorBody{
			Error:        err.Error(),
			Reason:       calls.ReasonCalledRecently,
			LastCallTime: &last,
			LastCallerID: cooldown.LastCallerID,
		})
	case errors.Is(err, calls.ErrDuplicateLock):
		c.AbortWithStatusJSON(http.StatusConflict, guardclient.ErrorBody{Error: err.Error(), Reason: calls.ReasonInProgress})
	case errors.Is(err, calls.ErrInvalidNumber):
		c.AbortWithStatusJSON(http.StatusBadRequest, guardclient.ErrorBody{Error: err.Error(), Reason: guardclient.ReasonInvalidNumber})
	case errors.Is(err, calls.ErrInvalidArgument), errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, guardclient.ErrorBody{Error: err.Error(), Reason: guardclient.ReasonInvalidArgument})
	case errors.Is(err, calls.ErrAttemptNotFound), errors.Is(err, guard.ErrLockNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, guardclient.ErrorBody{Error: err.Error(), Reason: guardclient.ReasonNotFound})
	case errors.Is(err, calls.ErrNotOwner):
		c.AbortWithStatusJSON(http.StatusForbidden, guardclient.ErrorBody{Error: err.Error(), Reason: guardclient.ReasonNotOwner})
	default:
		logger.FromGin(c).Error("request failed", "err", err)
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, guardclient.ErrorBody{Error: "internal error"})
	}
}
