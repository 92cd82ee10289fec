// Package catalog serves the guided-audio lessons and records which ones a
// user has completed.
package catalog
