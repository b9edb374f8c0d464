package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dtroode/kurasi/internal/logger"
	"github.com/dtroode/kurasi/internal/metrics"
)

// Logging logs every ops request and records it in metrics.
type Logging struct {
	logger   *logger.Logger
	recorder metrics.Recorder
}

func NewLogging(logger *logger.Logger, recorder metrics.Recorder) *Logging {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Logging{logger: logger, recorder: recorder}
}

// Handle wraps next.
func (l *Logging) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		l.recorder.RecordHTTPRequest(r.Method, status, duration)

		l.logger.Debug("HTTP request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", duration.Milliseconds())

		if status >= http.StatusInternalServerError {
			l.logger.Warn("HTTP request failed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status)
		}
	})
}
