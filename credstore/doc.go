// Package credstore is the key-value store the auth client persists
// sessions through.
//
// A [Backend] is a fallible primitive of one [Kind]: durable (Redis),
// scoped (a SQLite scratch file that lives as long as the process) or
// in-memory. [Probe] picks the first backend that survives a round-trip and
// wraps it in an [Adapter]. The Adapter never returns an error: failures are
// logged and the operation degrades to an in-process cache.
package credstore
