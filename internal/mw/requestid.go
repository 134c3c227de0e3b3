package mw

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const RequestIDHeader = "X-Request-ID"

// RequestID 为每个请求分配 ID（上游已带则沿用），并在出错时记录带 ID 的日志。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestID", id)
		c.Header(RequestIDHeader, id)
		c.Next()
		if c.Writer.Status() >= 500 {
			log.Warn().Str("request_id", id).Str("path", c.Request.URL.Path).Int("status", c.Writer.Status()).Msg("request failed")
		}
	}
}
