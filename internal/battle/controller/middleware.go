package controller

import (
	"context"
	"strings"

	"codebattle/internal/auth"
	pkgerrors "codebattle/pkg/errors"
	"codebattle/pkg/utils/contextkey"
	"codebattle/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware validates the bearer token and stamps the caller's
// identity onto the request.
func AuthMiddleware(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c.GetHeader("Authorization"))
		identity, err := verifier.Verify(token)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}

		c.Set("user_id", identity.UserID)
		c.Set("username", identity.Username)
		ctx := context.WithValue(c.Request.Context(), contextkey.UserID, identity.UserID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func extractBearerToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func currentUserID(c *gin.Context) (string, bool) {
	userID := c.GetString("user_id")
	if userID == "" {
		response.AbortWithErrorCode(c, pkgerrors.Unauthorized, "")
		return "", false
	}
	return userID, true
}
