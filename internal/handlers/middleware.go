package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	authorizationHeader = "Authorization"
	bearerScheme        = "Bearer"

	// ctxUserID is the gin context key the write path reads to tag queued
	// commands with their origin.
	ctxUserID = "userId"
)

// userIdMiddleware authenticates /api/v1 requests from a Bearer token and
// stores the resolved user id for originOf.
func (h *Handler) userIdMiddleware(c *gin.Context) {
	header := c.GetHeader(authorizationHeader)
	if header == "" {
		h.abortUnauthorized(c, "missing Authorization header")
		return
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || scheme != bearerScheme || token == "" {
		h.abortUnauthorized(c, "invalid Authorization header format")
		return
	}

	userID, err := h.services.ParseToken(token)
	if err != nil {
		if h.log != nil {
			h.log.Infow("auth_token_rejected", "err", err)
		}
		h.abortUnauthorized(c, "invalid or expired token")
		return
	}

	c.Set(ctxUserID, userID)
	c.Next()
}

func (h *Handler) abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}
