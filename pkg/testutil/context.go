package testutil

import (
	"net/http"
	"time"

	"escorte/pkg/requestcontext"
)

// WithAgent injects an authenticated caller into the request context,
// simulating what the auth middleware does for real requests.
func WithAgent(req *http.Request, agentID int64, role string) *http.Request {
	ctx := requestcontext.WithAgent(req.Context(), agentID, role)
	return req.WithContext(ctx)
}

// WithRequestTime pins the request clock so assertions on timestamps are
// deterministic.
func WithRequestTime(req *http.Request, now time.Time) *http.Request {
	ctx := requestcontext.WithTime(req.Context(), now)
	return req.WithContext(ctx)
}
