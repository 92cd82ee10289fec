// Package rate provides the Redis-backed fixed-window throttles used by the
// identity backend.
//
// # Window semantics
//
// INCR + EXPIRE on the first hit of a window. Key prefixes:
//   - mg:rl:si:  sign-in failures per email
//   - mg:rl:sip: sign-in failures per client IP
//   - mg:rl:su:  sign-up attempts per email
//   - mg:rl:sup: sign-up attempts per client IP
//   - mg:rl:rf:  refresh attempts per session
package rate
