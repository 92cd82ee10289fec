// Package authclient is the device-side SDK over the mindgate engine.
//
// A [Client] owns one device's session. It persists the session through an
// injected [Storage] (normally a credstore.Adapter), refreshes it when it
// is about to expire, and pushes [Event]s to subscribers registered with
// [Client.OnAuthStateChange]. Events are delivered in order from a single
// dispatcher goroutine per client, so subscribers never run concurrently
// with each other.
package authclient
