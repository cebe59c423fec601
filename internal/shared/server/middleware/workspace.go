package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	workspaceIDKey = "workspaceId"

	// WorkspaceCookie carries the workspace id between console requests.
	WorkspaceCookie = "gc_workspace"
	// WorkspaceHeader lets non-browser clients pin a workspace explicitly.
	WorkspaceHeader = "X-Workspace-Id"
)

// Workspace resolves the caller's workspace id from the header or cookie,
// issuing a fresh one when neither carries a valid id.
func Workspace(env string, maxAgeSeconds int) gin.HandlerFunc {
	secure := env == "production"
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		id := validWorkspaceID(c.GetHeader(WorkspaceHeader))
		if id == "" {
			if raw, err := c.Cookie(WorkspaceCookie); err == nil {
				id = validWorkspaceID(raw)
			}
		}
		if id == "" {
			id = uuid.NewString()
		}

		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(WorkspaceCookie, id, maxAgeSeconds, "/", "", secure, true)
		c.Set(workspaceIDKey, id)
		c.Next()
	}
}

func validWorkspaceID(raw string) string {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return id.String()
}

// WorkspaceIDFromContext fetches the id set by the Workspace middleware.
func WorkspaceIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(workspaceIDKey)
	if id, ok := val.(string); ok {
		return id
	}
	return ""
}
