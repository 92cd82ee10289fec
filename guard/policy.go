package guard

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/MrEthical07/mindgate"
)

// Decision is the outcome of Decide. RedirectTo is empty when Allow is true.
type Decision struct {
	Allow      bool
	RedirectTo string
}

// Policy lists the paths reachable without a session.
type Policy struct {
	// SignInPath receives visitors without a session.
	SignInPath string
	// HomePath receives visitors with a session who open a public path.
	HomePath string
	// PublicPaths may only be visited without a session.
	PublicPaths []string
	// OpenPrefixes bypass the guard entirely.
	OpenPrefixes []string
	// ReturnParam carries the original path to the sign-in page.
	ReturnParam string
	// Now is the clock sessions are expired against. Nil means time.Now.
	Now func() time.Time
}

// DefaultPolicy is the application's route table.
func DefaultPolicy() Policy {
	return Policy{
		SignInPath:  "/login",
		HomePath:    "/",
		PublicPaths: []string{"/login", "/signup", "/auth/callback"},
		OpenPrefixes: []string{
			"/static/",
			"/healthz",
			"/metrics",
			"/api/",
			"/auth/events",
			"/auth/auth-code-error",
		},
		ReturnParam: "redirectTo",
	}
}

var errPolicy = errors.New("guard: invalid policy")

// Validate rejects policies under which a redirect target would redirect
// again.
func (p Policy) Validate() error {
	for _, v := range []struct{ name, val string }{
		{"SignInPath", p.SignInPath},
		{"HomePath", p.HomePath},
	} {
		if !strings.HasPrefix(v.val, "/") {
			return fmt.Errorf("%w: %s must be an absolute path", errPolicy, v.name)
		}
		if strings.ContainsAny(v.val, "?#") {
			return fmt.Errorf("%w: %s must not carry a query", errPolicy, v.name)
		}
	}
	if p.ReturnParam == "" {
		return fmt.Errorf("%w: ReturnParam is empty", errPolicy)
	}
	if !p.isPublic(cleanPath(p.SignInPath)) && !p.isOpen(cleanPath(p.SignInPath)) {
		return fmt.Errorf("%w: SignInPath %q is not reachable without a session", errPolicy, p.SignInPath)
	}
	if p.isPublic(cleanPath(p.HomePath)) && !p.isOpen(cleanPath(p.HomePath)) {
		return fmt.Errorf("%w: HomePath %q is on the public list", errPolicy, p.HomePath)
	}
	return nil
}

func (p Policy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Live returns sess, or nil when it has expired.
func (p Policy) Live(sess *mindgate.Session) *mindgate.Session {
	if sess == nil || sess.Expired(p.now(), 0) {
		return nil
	}
	return sess
}

// Decide maps a session and a request path to a decision. An expired
// session counts as no session. The query string of target is ignored for
// matching and kept in the return target.
func (p Policy) Decide(sess *mindgate.Session, target string) Decision {
	clean := cleanPath(target)
	if p.isOpen(clean) {
		return Decision{Allow: true}
	}
	sess = p.Live(sess)

	public := p.isPublic(clean)
	switch {
	case public && sess != nil:
		return Decision{RedirectTo: p.HomePath}
	case !public && sess == nil:
		return Decision{RedirectTo: p.SignInTarget(target)}
	default:
		return Decision{Allow: true}
	}
}

// Decide applies DefaultPolicy.
func Decide(sess *mindgate.Session, target string) Decision {
	return DefaultPolicy().Decide(sess, target)
}

// SignInTarget is the sign-in URL that returns to target afterwards.
func (p Policy) SignInTarget(target string) string {
	if target == "" {
		target = "/"
	}
	return p.SignInPath + "?" + p.ReturnParam + "=" + url.QueryEscape(target)
}

// SafeReturn returns raw when it is a local path and HomePath otherwise.
// It is applied to user-supplied return targets before redirecting.
func (p Policy) SafeReturn(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.Contains(raw, `\`) {
		return p.HomePath
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" {
		return p.HomePath
	}
	return raw
}

func (p Policy) isPublic(clean string) bool {
	return slices.ContainsFunc(p.PublicPaths, func(pp string) bool {
		return cleanPath(pp) == clean
	})
}

func (p Policy) isOpen(clean string) bool {
	for _, prefix := range p.OpenPrefixes {
		if strings.HasSuffix(prefix, "/") {
			if strings.HasPrefix(clean+"/", prefix) {
				return true
			}
			continue
		}
		if clean == prefix || strings.HasPrefix(clean, prefix+"/") {
			return true
		}
	}
	return false
}

func cleanPath(target string) string {
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		target = target[:i]
	}
	if target == "" {
		return "/"
	}
	if !strings.HasPrefix(target, "/") {
		target = "/" + target
	}
	return path.Clean(target)
}
