// Package echo adapts the access gate to echo routers.
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	gatehttp "github.com/paygate-protocol/paygate/http"
)

// Middleware enforces payment for echo routes.
//
//	e.GET("/weather", weatherHandler, echopay.Middleware(gate, cfg))
func Middleware(gate *gatehttp.Gate, cfg gatehttp.RouteConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var nextErr error
			wrapped := gate.Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				orig := c.Response().Writer
				c.Response().Writer = w
				c.SetRequest(r)
				nextErr = next(c)
				c.Response().Writer = orig
			}))
			wrapped.ServeHTTP(c.Response().Writer, c.Request())
			return nextErr
		}
	}
}
