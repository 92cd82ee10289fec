// Package mindgate is the identity backend behind the meditation app: email
// and password accounts, Redis-held sessions with rotating refresh tokens,
// short-lived JWT access tokens and email verification codes.
//
// Build an [Engine] once at startup:
//
//	engine, err := mindgate.New().
//		WithConfig(cfg).
//		WithRedis(rdb).
//		WithUserProvider(users).
//		WithMailer(mailer).
//		Build()
//
// The engine is safe for concurrent use. Device-side session handling lives
// in the authclient and authstate packages; route protection lives in guard.
package mindgate
