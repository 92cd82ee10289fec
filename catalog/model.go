package catalog

import (
	"errors"
	"slices"
	"strconv"
	"time"
)

var (
	ErrInvalidTrackType = errors.New("invalid track type")
	ErrInvalidTrackID   = errors.New("invalid track id")
	ErrTrackNotFound    = errors.New("track not found")
)

// TrackType is the lesson series a track belongs to.
type TrackType string

const (
	TypeSwitch           TrackType = "switch"
	TypeSwitchOff        TrackType = "switch-off"
	TypeFoundation       TrackType = "foundation"
	TypeEmotionalControl TrackType = "emotional_control"
	TypeVisualization    TrackType = "visualization"
	TypeMaintenance      TrackType = "maintenance"
	TypeTraining         TrackType = "training"
	TypeTakeControl      TrackType = "take-control"
)

// TrackTypes lists every series in menu order.
var TrackTypes = []TrackType{
	TypeSwitch,
	TypeSwitchOff,
	TypeFoundation,
	TypeEmotionalControl,
	TypeVisualization,
	TypeMaintenance,
	TypeTraining,
	TypeTakeControl,
}

// ParseTrackType validates s.
func ParseTrackType(s string) (TrackType, error) {
	t := TrackType(s)
	if !slices.Contains(TrackTypes, t) {
		return "", ErrInvalidTrackType
	}
	return t, nil
}

// ParseTrackID validates a decimal track id.
func ParseTrackID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidTrackID
	}
	return id, nil
}

// Track is one lesson. Duration is in seconds.
type Track struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Duration    int       `json:"duration"`
	Type        TrackType `json:"type"`
	AudioURL    string    `json:"audio_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// Progress is a user's state on one track.
type Progress struct {
	ID          int64      `json:"id"`
	UserID      string     `json:"user_id"`
	TrackID     int64      `json:"track_id"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TrackWithProgress joins a track with the caller's progress on it.
type TrackWithProgress struct {
	Track
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at"`
}
