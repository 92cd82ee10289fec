// Package httpapi is the HTTP surface of the mindgate server.
//
// Browsers are identified by an opaque device cookie. Each device owns one
// SDK client and one session holder, created on first use and evicted when
// idle; the browser itself never sees tokens. Pages are guarded by the
// holder's state, the JSON API by access-token validation, and the
// /auth/events websocket pushes session changes and guard redirects.
//
// The server follows the usual lifecycle:
//
//	srv, err := httpapi.New(deps)
//	go srv.Run(ctx) // device janitor
//	http.Serve(ln, srv.Handler())
//	srv.Close()
package httpapi
