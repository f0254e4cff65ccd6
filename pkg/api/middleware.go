package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/infrallm/infrallm/pkg/apperr"
	"github.com/infrallm/infrallm/pkg/authn"
)

// context keys populated by requireAuth, read by handlers via the
// identity* helpers below.
const (
	ctxUserID     = "infrallm.userID"
	ctxOrgID      = "infrallm.orgID"
	ctxEmail      = "infrallm.email"
	ctxAuthMethod = "infrallm.authMethod"
)

// securityHeaders sets standard hardening response headers on every
// response, grounded on the teacher's pkg/api/middleware.go
// securityHeaders, translated from an echo.MiddlewareFunc to a
// gin.HandlerFunc.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}

// requireAuth extracts a credential per spec.md §4.9's precedence
// (X-API-Key header, then Authorization: Bearer, then ?api_key=, then
// ?access_token=), authenticates it against auth, and populates the gin
// context with the resulting identity. Missing or invalid credentials
// abort the request with 401 before the handler runs.
func requireAuth(auth *authn.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential := authn.ExtractCredential(
			c.GetHeader("X-API-Key"),
			c.GetHeader("Authorization"),
			c.Query("api_key"),
			c.Query("access_token"),
		)

		identity, err := auth.Authenticate(c.Request.Context(), credential)
		if err != nil {
			abortWithError(c, apperr.Wrap(apperr.KindUnauthenticated, "authentication failed", err))
			return
		}

		c.Set(ctxUserID, identity.UserID)
		c.Set(ctxOrgID, identity.OrganizationID)
		c.Set(ctxEmail, identity.Email)
		c.Set(ctxAuthMethod, string(identity.AuthMethod))
		c.Next()
	}
}

func identityUserID(c *gin.Context) string { return c.GetString(ctxUserID) }
func identityOrgID(c *gin.Context) string  { return c.GetString(ctxOrgID) }

// corsMiddleware reflects one of the configured allowed origins, matching
// the teacher's CORS posture of an explicit allowlist rather than a
// wildcard, since credentials (the access-token/JWT headers) are sent on
// every request.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowed[origin] || allowed["*"]) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
			c.Writer.Header().Set("Access-Control-Allow-Headers", strings.Join(
				[]string{"Content-Type", "Authorization", "X-API-Key"}, ", "))
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		}
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
