package shield

import "net/http"

// HeadToGet rewrites HEAD to GET before routing. The admin routes register
// GET handlers only; without the rewrite, uptime checks probing /healthz
// with HEAD would see 405. net/http drops the body on HEAD responses, so
// the rewrite is safe for every handler behind it.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}
