package logging

import (
	"context"
	"io"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type ctxKey struct{}

// RequestIDHeader is propagated from API Gateway / clients when present.
const RequestIDHeader = "X-Request-Id"

// New returns a JSON logger at the given level; unknown levels fall back to info.
func New(level string, out io.Writer) *log.Logger {
	l := log.New()
	l.SetFormatter(&log.JSONFormatter{})
	if out == nil {
		out = os.Stdout
	}
	l.SetOutput(out)
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

// WithEntry stores a request-scoped entry in ctx.
func WithEntry(ctx context.Context, e *log.Entry) context.Context {
	return context.WithValue(ctx, ctxKey{}, e)
}

// FromContext returns the request-scoped entry, or one built on the standard logger.
func FromContext(ctx context.Context) *log.Entry {
	if e, ok := ctx.Value(ctxKey{}).(*log.Entry); ok {
		return e
	}
	return log.NewEntry(log.StandardLogger())
}

// Middleware tags every request with a request id and logs its completion.
func Middleware(l *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(RequestIDHeader, reqID)

		entry := l.WithFields(log.Fields{
			"request_id": reqID,
			"method":     c.Request.Method,
			"path":       c.FullPath(),
		})
		c.Request = c.Request.WithContext(WithEntry(c.Request.Context(), entry))

		c.Next()

		entry.WithField("status", c.Writer.Status()).Info("request completed")
	}
}
