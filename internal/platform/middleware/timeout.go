package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// TimeoutConfig bounds request handling time.
type TimeoutConfig struct {
	Timeout time.Duration
	// Overrides maps route patterns (as registered with echo, e.g.
	// "/api/v1/reports/:reportId/augment") to their own deadline.
	Overrides map[string]time.Duration
}

// RequestTimeout sets a context deadline on each incoming request. If the
// deadline passes before the handler completes, the request context is
// cancelled and 504 is returned.
func RequestTimeout(cfg TimeoutConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			timeout := cfg.Timeout
			if d, ok := cfg.Overrides[c.Path()]; ok {
				timeout = d
			}
			if timeout <= 0 {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() {
				done <- next(c)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					return echo.NewHTTPError(http.StatusGatewayTimeout, "request processing exceeded the allowed time limit")
				}
				return ctx.Err()
			}
		}
	}
}
