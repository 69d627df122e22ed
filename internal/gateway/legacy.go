package gateway

import "net/http"

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>tablecast</title></head>
<body>
<h1>tablecast</h1>
<p>Connect to <code>/ws</code> to play, <code>/pantry</code> for the inventory demo.</p>
<script src="/static/js/app.js"></script>
</body>
</html>
`

// NewLegacyHandler serves the index page and static assets. This is
// the fallthrough target for everything the router does not match.
func NewLegacyHandler(staticDir string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(indexHTML))
	})
	if staticDir != "" {
		mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	}
	return mux
}
