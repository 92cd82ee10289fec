// Package internal contains helpers that are private to mindgate: session
// identifiers, refresh token encoding and verification code generation.
//
// # Sub-packages
//
//   - rate: Redis-backed fixed-window throttles for sign-in, sign-up and refresh
//   - stores: short-lived verification code records
//   - config: service configuration loading
//   - database: SQLite connection, migrations and the user repository
//   - httpapi: HTTP routes, device registry and the session event stream
//   - observability: slog setup with secret redaction and the otel meter provider
//
// # What this package must NOT do
//
//   - Export types that appear in the public mindgate API.
//   - Be imported by any package outside the mindgate module.
package internal
