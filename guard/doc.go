// Package guard decides whether a path may be shown for a session.
//
// [Policy.Decide] depends only on the path and on whether a live session is
// present; an expired session counts as none. A [Controller] re-runs it
// whenever the device's session holder changes, the device navigates or
// the held session expires, and drives a [Navigator] with the result.
package guard
