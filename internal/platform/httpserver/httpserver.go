package httpserver

import (
	"net/http"
	"time"
)

// New builds the process HTTP server. Handler-level timeouts are enforced by
// the router middleware; here we only bound header reads and idle keepalives
// so a slow client cannot pin a connection.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
