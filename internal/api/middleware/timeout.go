package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bassista/go_lanatus/internal/logger"
	"github.com/gin-gonic/gin"
)

// RequestTimeout puts a deadline on the request context. Store calls observe it;
// the handler itself is not interrupted.
func RequestTimeout(d time.Duration) gin.HandlerFunc {
	if d <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		// A written response cannot be replaced.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Writer.Written() {
			logger.WithComponent("http").Warnf("request %s %s exceeded %v", c.Request.Method, c.Request.URL.Path, d)
			c.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{"error": "request timeout"})
		}
	}
}
