package dashboard

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ebpfhollow/logger"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLogger tags every request with a req_id and logs it once served.
// Successful requests are logged at debug so the refresh loop stays quiet.
func requestLogger(base *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		l := logger.WithRequestID(base, reqID)
		w.Header().Set("X-Request-Id", reqID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(logger.WithContext(r.Context(), l)))

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)),
		}
		if rec.status >= 400 {
			l.Warn("dashboard HTTP error", fields...)
			return
		}
		l.Debug("dashboard request", fields...)
	})
}
