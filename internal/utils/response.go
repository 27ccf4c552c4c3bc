package utils

import (
	"github.com/gemxhub/backend/internal/apperror"
	"github.com/gemxhub/backend/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorResponse is the envelope every failed request returns
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// hideInternalErrors suppresses 5xx details in client responses; set from
// config at startup.
var hideInternalErrors bool

// SetProductionMode toggles 5xx detail suppression
func SetProductionMode(production bool) {
	hideInternalErrors = production
}

// RespondError writes err as the standard envelope and aborts the chain
func RespondError(c *gin.Context, err error) {
	appErr := apperror.As(err)
	status := appErr.Status()

	message := appErr.Message
	if status >= 500 {
		logger.Log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString("request_id")),
			zap.Error(err),
		)
		if hideInternalErrors || message == "" {
			message = "internal server error"
		} else {
			message = appErr.Error()
		}
	}
	if message == "" {
		message = string(appErr.Kind)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{Error: message, Code: string(appErr.Kind)})
}
