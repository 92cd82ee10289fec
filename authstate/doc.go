// Package authstate holds the current session of one device.
//
// A [Holder] subscribes to its [Source] and then fetches the session once.
// From then on the subscription is the only writer. Readers see an
// immutable [Snapshot] through an atomic pointer, so a session is never
// observed half-replaced. After [Holder.Close] no write happens, even when
// a push or the initial fetch completes later.
package authstate
