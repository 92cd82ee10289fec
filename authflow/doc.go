// Package authflow runs the sign-in, sign-up and sign-out forms against an
// auth client and classifies failures for display.
//
// The flow never writes session state. A successful sign-in reaches the
// device's session holder through the client's push subscription only.
package authflow
