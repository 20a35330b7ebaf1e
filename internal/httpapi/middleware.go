package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Chigala/bitcoin-pay/internal/core/gateway"
	logiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/log"
	"github.com/Chigala/bitcoin-pay/pkg/types"
)

const requestIDHeader = "X-Request-ID"

// requestID stamps every request with a trace id, generating one when the
// caller didn't supply it. Grounded on the reference node's
// middleware.RequestID (header in, header out, stashed in gin.Context).
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestId", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// requestLogger records method/path/status/latency for every request,
// grounded on the reference node's middleware.Logger but speaking through
// this module's own logiface.Logger instead of reaching for zap directly.
func requestLogger(logger logiface.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []logiface.Field{
			logiface.F("requestId", c.GetString("requestId")),
			logiface.F("method", c.Request.Method),
			logiface.F("path", c.Request.URL.Path),
			logiface.F("status", c.Writer.Status()),
			logiface.F("latencyMs", time.Since(start).Milliseconds()),
		}
		switch {
		case c.Writer.Status() >= 500:
			logger.Error("http request", fields...)
		case c.Writer.Status() >= 400:
			logger.Warn("http request", fields...)
		default:
			logger.Info("http request", fields...)
		}
	}
}

// errorResponse is the §6 `{error: string}` shape.
type errorResponse struct {
	Error string `json:"error"`
}

// respondErr maps an error from the gateway's §7 taxonomy to the §6 HTTP
// status table and writes the `{error}` body. Order matters: check the
// more specific sentinels before the catch-all.
func respondErr(c *gin.Context, err error) {
	status := statusFor(err)
	c.JSON(status, errorResponse{Error: err.Error()})
	c.Abort()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrValidation), errors.Is(err, types.ErrAuth):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound), errors.Is(err, gateway.ErrTokenNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidState), errors.Is(err, types.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, types.ErrExpired):
		return http.StatusGone
	case errors.Is(err, types.ErrTransient), errors.Is(err, types.ErrFatal):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
