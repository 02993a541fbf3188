// Package gin adapts the access gate to gin routers.
package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	gatehttp "github.com/paygate-protocol/paygate/http"
)

// gateWriter redirects a gin handler's output into the gate's buffered
// response writer so release stays gated.
type gateWriter struct {
	gin.ResponseWriter
	inner  http.ResponseWriter
	status int
}

func (w *gateWriter) Header() http.Header { return w.inner.Header() }

func (w *gateWriter) WriteHeader(code int) {
	w.status = code
	w.inner.WriteHeader(code)
}

func (w *gateWriter) Write(b []byte) (int, error) {
	return w.inner.Write(b)
}

func (w *gateWriter) WriteString(s string) (int, error) {
	return w.inner.Write([]byte(s))
}

func (w *gateWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *gateWriter) Written() bool { return w.status != 0 }

// Middleware enforces payment for one gin route.
//
//	router.GET("/weather", ginpay.Middleware(gate, cfg), weatherHandler)
func Middleware(gate *gatehttp.Gate, cfg gatehttp.RouteConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		released := false
		wrapped := gate.Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			released = true
			orig := c.Writer
			c.Request = r
			c.Writer = &gateWriter{ResponseWriter: orig, inner: w}
			c.Next()
			c.Writer = orig
		}))
		wrapped.ServeHTTP(c.Writer, c.Request)
		if !released {
			c.Abort()
		}
	}
}
