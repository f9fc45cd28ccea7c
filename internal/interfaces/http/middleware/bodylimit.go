package middleware

import (
	"net/http"
	"strings"

	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// BodyLimit returns a middleware that limits request body size
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return BodyLimitWithOverrides(maxBytes, nil)
}

// BodyLimitWithOverrides limits request bodies to maxBytes, except for paths
// starting with one of the override prefixes, which use their own limit.
func BodyLimitWithOverrides(maxBytes int64, overrides map[string]int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := maxBytes
		for prefix, n := range overrides {
			if strings.HasPrefix(c.Request.URL.Path, prefix) {
				limit = n
				break
			}
		}

		if c.Request.ContentLength > limit {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge,
				dto.NewErrorResponse(dto.ErrCodeBodyTooLarge, "Request body exceeds maximum allowed size"))
			return
		}

		// Streaming bodies without a length are cut off while reading.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
