package session

import "time"

// Record is one stored session.
type Record struct {
	SchemaVersion uint8
	SessionID     string
	UserID        string
	Email         string
	Verified      bool
	RefreshHash   [32]byte
	CreatedAt     int64
	ExpiresAt     int64
}

// Expired reports whether the record's absolute lifetime has ended at now.
func (r *Record) Expired(now time.Time) bool {
	return now.Unix() >= r.ExpiresAt
}

// ExpiresAtTime returns ExpiresAt as a time.Time.
func (r *Record) ExpiresAtTime() time.Time {
	return time.Unix(r.ExpiresAt, 0)
}
