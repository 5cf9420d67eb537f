package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const maxStackBytes = 4096

// Recovery turns a panic into a 500 response. The panic is logged through the
// request logger when Logger already ran, so it carries the request id, and
// always with the lab it happened in.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				stack := make([]byte, maxStackBytes)
				stack = stack[:runtime.Stack(stack, false)]

				lab, _ := c.Get("lab_id").(string)
				req := c.Request()
				panicLogger(c, logger).Error().
					Str("method", req.Method).
					Str("path", req.URL.Path).
					Str("lab_id", lab).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", stack).
					Msg("panic recovered")

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}

func panicLogger(c echo.Context, fallback zerolog.Logger) *zerolog.Logger {
	if l := zerolog.Ctx(c.Request().Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	rid, _ := c.Get("request_id").(string)
	l := fallback.With().Str("request_id", rid).Logger()
	return &l
}
