package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fieldsnap/fieldsnap/internal/auth"
)

const claimsKey = "claims"

// Authenticate verifies the bearer token and stores its claims on the
// request context. Requests without a valid token are rejected.
func (h *Handler) Authenticate(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "missing bearer token"})
		return
	}

	claims, err := auth.ParseToken(token, h.jwtSecret)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "invalid token"})
		return
	}
	if claims.UserID == "" || claims.TenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "incomplete claims"})
		return
	}

	c.Set(claimsKey, claims)
	c.Next()
}

func currentClaims(c *gin.Context) *auth.Claims {
	v, _ := c.Get(claimsKey)
	claims, _ := v.(*auth.Claims)
	if claims == nil {
		// Authenticate always runs first on registered routes.
		return &auth.Claims{}
	}
	return claims
}
