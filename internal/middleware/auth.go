package middleware

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/hubflo/hubflo/internal/constants"
	apierrors "github.com/hubflo/hubflo/internal/errors"
	"github.com/hubflo/hubflo/internal/services"
)

// RequireAdmin lets a request through when its session is logged in as admin
// or it carries the admin token in the X-Admin-Token header or ?token= query.
func RequireAdmin(auth *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.Enabled() {
			apierrors.Forbidden(c, "Admin access is not configured")
			c.Abort()
			return
		}

		session := sessions.Default(c)
		if admin, ok := session.Get(constants.ContextKeyAdmin).(bool); ok && admin {
			c.Set(constants.ContextKeyAdmin, true)
			c.Next()
			return
		}

		token := c.GetHeader(constants.HeaderAdminToken)
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			apierrors.Unauthorized(c, "")
			c.Abort()
			return
		}
		if err := auth.Login(token); err != nil {
			apierrors.InvalidCredentials(c, "")
			c.Abort()
			return
		}

		c.Set(constants.ContextKeyAdmin, true)
		c.Next()
	}
}

// IsAdmin reports whether RequireAdmin accepted the request
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(constants.ContextKeyAdmin)
}
