package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	rlog "roomcast/pkg/logger"
	"roomcast/pkg/utils"
)

const RequestIDHeader = "X-Request-ID"

// RequestLoggerMiddleware tags each request with an id, echoes it back in
// RequestIDHeader and logs the request once it completes.
func RequestLoggerMiddleware(logger *rlog.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := utils.SanitizeString(c.GetHeader(RequestIDHeader))
		if requestID == "" {
			requestID = utils.NewRequestID()
		}
		requestID = utils.TruncateString(requestID, 64)
		c.Header(RequestIDHeader, requestID)

		ctx := rlog.WithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		logger.LogRequest(ctx, c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Milliseconds())
	}
}
