package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/apperr"
)

// Result is the envelope of every command response.
type Result struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	Data   any    `json:"data,omitempty"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Result{OK: true, Data: data})
}

func accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, Result{OK: true, Data: data})
}

func badRequest(c *gin.Context, reason string) {
	c.JSON(http.StatusBadRequest, Result{Reason: reason})
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, Result{Reason: "unauthorized"})
}

// fail writes err with the status of its kind. Internal failures are logged
// and their details kept out of the response.
func (s *Server) fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusOf(kind)
	reason := err.Error()
	if kind == apperr.KindInternal {
		s.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		reason = "internal error"
	}
	c.JSON(status, Result{Reason: reason, Data: gin.H{"kind": kind}})
}

func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindDuplicate, apperr.KindBusy:
		return http.StatusConflict
	case apperr.KindNotReady, apperr.KindManualNeeded:
		return http.StatusUnprocessableEntity
	case apperr.KindLimitExceeded:
		return http.StatusTooManyRequests
	case apperr.KindExternalCapability:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
