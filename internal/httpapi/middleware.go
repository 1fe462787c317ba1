package httpapi

import (
	"net/http"
	"time"

	"github.com/BrandonDHaskell/Vesta/server/internal/logger"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now().UTC()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		ctx := logger.WithName(r.Context(), "http")
		next.ServeHTTP(rec, r.WithContext(ctx))

		logger.InfoKV(ctx, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"from", r.RemoteAddr,
			"dur", time.Since(start),
		)
	})
}
