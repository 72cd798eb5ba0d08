package server

import (
	"errors"
	"net/http"
	"strconv"

	apierrors "github.com/atherlabs/atherbot/internal/errors"
	"github.com/atherlabs/atherbot/internal/requestlog"
	"github.com/gin-gonic/gin"
)

// handleGetUsage returns aggregated usage stats for a rolling window.
// Defaults to the monthly window when no period is given.
func (s *APIServer) handleGetUsage(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		return
	}

	period := requestlog.Period(c.DefaultQuery("period", string(requestlog.PeriodMonth)))

	stats, err := s.logService.Stats(c.Request.Context(), userID, period)
	if err != nil {
		if errors.Is(err, requestlog.ErrInvalidPeriod) {
			respondError(c, apierrors.NewValidationError("period must be one of day, week, month"))
		} else {
			respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}

	c.JSON(http.StatusOK, stats)
}

// handleListRequests returns the paginated request log, newest first
func (s *APIServer) handleListRequests(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	resp, err := s.logService.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}

	c.JSON(http.StatusOK, resp)
}
