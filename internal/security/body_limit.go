package security

import "net/http"

// BodySizeLimit caps request body sizes so a single oversized payload cannot
// exhaust the server. Reads past the cap fail with http.MaxBytesError.
func BodySizeLimit(max int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if max > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, max)
			}
			next.ServeHTTP(w, r)
		})
	}
}
