package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/MrEthical07/mindgate"
	"github.com/MrEthical07/mindgate/authstate"
	"github.com/MrEthical07/mindgate/guard"
)

// HolderView is the part of a session holder Pages reads.
// *authstate.Holder satisfies it.
type HolderView interface {
	Ready() <-chan struct{}
	Snapshot() authstate.Snapshot
}

// HolderFunc resolves the device holder for a request. It may set cookies.
type HolderFunc func(w http.ResponseWriter, r *http.Request) (HolderView, error)

type sessionContextKey struct{}

// SessionFromContext returns the session Pages admitted the request with.
// It is nil for anonymous visitors on public pages.
func SessionFromContext(ctx context.Context) *mindgate.Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*mindgate.Session)
	return sess
}

// DefaultReadyTimeout bounds how long Pages waits for a holder to resolve.
const DefaultReadyTimeout = 3 * time.Second

// retryAfter is sent with 503 while a holder is still resolving, in seconds.
const retryAfter = "1"

// Pages guards server-rendered pages. It waits until the holder has
// resolved and then applies policy. A holder that is still loading after
// readyTimeout is answered with 503 and Retry-After, never a redirect.
func Pages(policy guard.Policy, holders HolderFunc, readyTimeout time.Duration) func(http.Handler) http.Handler {
	if readyTimeout <= 0 {
		readyTimeout = DefaultReadyTimeout
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			holder, err := holders(w, r)
			if err != nil {
				http.Error(w, "session unavailable", http.StatusServiceUnavailable)
				return
			}

			timer := time.NewTimer(readyTimeout)
			select {
			case <-holder.Ready():
			case <-timer.C:
			case <-r.Context().Done():
				timer.Stop()
				return
			}
			timer.Stop()

			snap := holder.Snapshot()
			if snap.Loading {
				w.Header().Set("Cache-Control", "no-store")
				w.Header().Set("Retry-After", retryAfter)
				http.Error(w, "session loading", http.StatusServiceUnavailable)
				return
			}
			sess := policy.Live(snap.Session)

			d := policy.Decide(sess, r.URL.RequestURI())
			if !d.Allow {
				w.Header().Set("Cache-Control", "no-store")
				http.Redirect(w, r, d.RedirectTo, http.StatusFound)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
