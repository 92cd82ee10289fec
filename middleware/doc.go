// Package middleware adapts the engine and the session guard to net/http.
//
//   - [RequireSession] protects JSON endpoints. It accepts a bearer access
//     token or falls back to the device's stored session, validates it with
//     the engine and puts the [mindgate.AuthResult] in the request context.
//   - [Pages] protects server-rendered pages. It waits for the device's
//     session holder to resolve, applies [guard.Policy.Decide] and either
//     redirects or serves the page with the session in the context.
//
// Neither middleware parses tokens or touches Redis itself.
package middleware
