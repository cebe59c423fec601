package respond

import (
	"github.com/gin-gonic/gin"

	"greencheck-workspace/internal/apperr"
	"greencheck-workspace/internal/shared/telemetry"
)

// ErrorBody defines the standardized error object.
type ErrorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// ErrorResponse wraps the error body.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Error sends a standardized error response.
func Error(c *gin.Context, status int, code, message string, details interface{}) {
	fields := map[string]any{
		"status":     status,
		"code":       code,
		"message":    message,
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
		"request_id": c.GetString("requestId"),
	}
	if workspaceID := c.GetString("workspaceId"); workspaceID != "" {
		fields["workspace_id"] = workspaceID
	}
	if status >= 500 {
		telemetry.Error("http.error", fields)
	} else {
		telemetry.Warn("http.error", fields)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// AppError renders a classified failure. The kind is the error code and the
// op is always part of the details.
func AppError(c *gin.Context, err *apperr.Error, details gin.H) {
	if details == nil {
		details = gin.H{}
	}
	details["op"] = err.Op
	if err.Quota != nil {
		details["quota"] = err.Quota
	}
	Error(c, err.HTTPStatus(), string(err.Kind), err.Message, details)
}
