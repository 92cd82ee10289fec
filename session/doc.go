// Package session persists signed-in sessions in Redis.
//
// Each session is one CBOR encoded [Record] under <prefix>:s:<sid>, plus
// membership in the per-user set <prefix>:u:<uid>. The record holds only the
// SHA-256 of the current refresh secret; [Store.RotateRefreshHash] swaps it
// under WATCH so two concurrent refreshes with the same token cannot both win.
//
// The package does not parse access tokens or decide who may sign in; that
// belongs to the backend engine.
package session
