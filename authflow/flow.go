package authflow

import (
	"context"
	"log/slog"

	"github.com/MrEthical07/mindgate"
)

// Client is the SDK surface the flows call. *authclient.Client satisfies it.
type Client interface {
	SignInWithPassword(ctx context.Context, email, password string) (*mindgate.Session, error)
	SignUp(ctx context.Context, email, password, redirectTo string) (mindgate.Identity, error)
	SignOut(ctx context.Context) error
}

// Flow runs form submissions for one device. It does not retry.
type Flow struct {
	client      Client
	redirectURL string
	logger      *slog.Logger
}

// New returns a Flow. redirectURL is where verification links point.
func New(client Client, redirectURL string, logger *slog.Logger) *Flow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{client: client, redirectURL: redirectURL, logger: logger.With("component", "authflow")}
}

// SignIn signs in. The returned session is informational: observers learn
// about it from the holder.
func (f *Flow) SignIn(ctx context.Context, email, password string) (*mindgate.Session, error) {
	sess, err := f.client.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, f.fail(OpSignIn, err)
	}
	return sess, nil
}

// SignUp registers an account and triggers the verification email. No
// session is established.
func (f *Flow) SignUp(ctx context.Context, email, password string) error {
	if _, err := f.client.SignUp(ctx, email, password, f.redirectURL); err != nil {
		return f.fail(OpSignUp, err)
	}
	return nil
}

// SignOut ends the device session. An already expired session is not an
// error.
func (f *Flow) SignOut(ctx context.Context) error {
	err := f.client.SignOut(ctx)
	if err == nil || Classify(err) == KindSessionExpired {
		return nil
	}
	return f.fail(OpSignOut, err)
}

func (f *Flow) fail(op Op, err error) *AuthError {
	ae := &AuthError{Op: op, Kind: Classify(err), Err: err}
	if ae.Kind == KindCredentialRejected {
		f.logger.Info("auth flow rejected", "op", string(op), "kind", ae.Kind.String())
	} else {
		f.logger.Warn("auth flow failed", "op", string(op), "kind", ae.Kind.String(), "error", err)
	}
	return ae
}
