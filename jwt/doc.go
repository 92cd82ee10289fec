// Package jwt issues and verifies the short-lived access tokens handed to
// signed-in devices. Tokens carry the session id so the backend can reject a
// token whose session was signed out before the token expired.
package jwt
