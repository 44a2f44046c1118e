package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/response"
)

// BodyLimit 限制请求体大小。Content-Length 超限直接拒绝，
// 未声明长度的请求在读取超限时由 http.MaxBytesReader 报错。
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes <= 0 {
			c.Next()
			return
		}
		if c.Request.ContentLength > maxBytes {
			response.Fail(c, errors.ErrBodyTooLarge.WithMessagef("request body exceeds %d bytes", maxBytes))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
