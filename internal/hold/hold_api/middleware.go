package hold_api

import (
	"net/http"
	"strconv"
	"time"

	"ms-seating/internal/logger"

	"github.com/go-chi/chi/v5/middleware"
)

// RequestLogger writes one API line per request. SSE streams are logged when
// the client disconnects.
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.LogAPI(r.Method, r.URL.Path, strconv.Itoa(status), time.Since(start).Round(time.Microsecond).String())
		})
	}
}
