package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/merlian/merlian/internal/logutil"
)

const requestIDHeader = "X-Request-Id"

// requestID tags each request with an id and a request-scoped logger.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Writer.Header().Set(requestIDHeader, id)
		c.Set("request_id", id)

		l := logutil.GetLogger(c.Request.Context()).With(zap.String("request_id", id))
		c.Request = c.Request.WithContext(logutil.WithLogger(c.Request.Context(), l))
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logutil.GetLogger(c.Request.Context()).Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}
