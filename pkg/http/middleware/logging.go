package middleware

import (
	"time"

	applogger "ClinicPulse/pkg/logger"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// RequestLogging tags every request with an X-Request-ID (kept when the
// caller sent one) and logs it at debug level with the tenant it targets.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			rid := req.Header.Get(echo.HeaderXRequestID)
			if rid == "" {
				rid = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, rid)
			start := time.Now()

			err := next(c)

			if l != nil {
				l.Debug("http request",
					applogger.String("request_id", rid),
					applogger.String("method", req.Method),
					applogger.String("route", c.Path()),
					applogger.String("tenant_id", c.QueryParam("tenant_id")),
					applogger.String("remote", c.RealIP()),
					applogger.Int("status", c.Response().Status),
					applogger.Duration("duration_ms", time.Since(start)),
				)
			}
			return err
		}
	}
}
