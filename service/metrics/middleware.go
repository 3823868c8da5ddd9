package metrics

import (
	"net/http"
	"time"
)

// HTTPMetricsMiddleware records request count and latency under a fixed
// route name (e.g. "/api/v1/randomness/{seed}") rather than the raw path, so
// seeds never become label values.
func HTTPMetricsMiddleware(m *Metrics, route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			defer Timer(time.Now(), func(d float64) {
				m.RecordHTTPRequest(route, r.Method, rec.status, d)
			})()
			next.ServeHTTP(rec, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Timer returns a func that reports the seconds elapsed since start:
//
//	defer metrics.Timer(time.Now(), m.RecordSomething)()
func Timer(start time.Time, record func(float64)) func() {
	return func() {
		record(time.Since(start).Seconds())
	}
}
