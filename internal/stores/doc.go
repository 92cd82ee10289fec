// Package stores holds short-lived, single-use records in Redis. Today that
// is the email verification record behind the sign-up confirmation link.
//
// Records live in a Redis hash with a TTL. Consumption is a Lua script so
// the compare, attempt count and delete happen atomically. Only the SHA-256
// of the secret is stored.
package stores
