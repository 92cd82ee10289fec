package catalog

import (
	"context"
	"time"
)

// Service validates catalogue requests and delegates to a Repository.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService returns a Service over repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// TracksByType lists the tracks of one series in id order.
func (s *Service) TracksByType(ctx context.Context, typ string) ([]Track, error) {
	t, err := ParseTrackType(typ)
	if err != nil {
		return nil, err
	}
	return s.repo.TracksByType(ctx, t)
}

// Track returns the track with id in series typ, or nil when there is none.
func (s *Service) Track(ctx context.Context, typ, id string) (*Track, error) {
	t, err := ParseTrackType(typ)
	if err != nil {
		return nil, err
	}
	trackID, err := ParseTrackID(id)
	if err != nil {
		return nil, err
	}

	tr, err := s.repo.TrackByID(ctx, trackID)
	if err != nil || tr == nil || tr.Type != t {
		return nil, err
	}
	return tr, nil
}

// Progress returns the user's progress on a track, or nil.
func (s *Service) Progress(ctx context.Context, userID, trackID string) (*Progress, error) {
	id, err := ParseTrackID(trackID)
	if err != nil {
		return nil, err
	}
	return s.repo.Progress(ctx, userID, id)
}

// AllProgress lists every progress row of the user.
func (s *Service) AllProgress(ctx context.Context, userID string) ([]Progress, error) {
	return s.repo.AllProgress(ctx, userID)
}

// MarkCompleted records completion. Repeating it is harmless.
func (s *Service) MarkCompleted(ctx context.Context, userID, trackID string) error {
	id, err := ParseTrackID(trackID)
	if err != nil {
		return err
	}
	tr, err := s.repo.TrackByID(ctx, id)
	if err != nil {
		return err
	}
	if tr == nil {
		return ErrTrackNotFound
	}
	return s.repo.MarkCompleted(ctx, userID, id, s.now())
}

// TrackWithProgress returns a track joined with the user's progress, or
// nil when the track does not exist.
func (s *Service) TrackWithProgress(ctx context.Context, userID, trackID string) (*TrackWithProgress, error) {
	id, err := ParseTrackID(trackID)
	if err != nil {
		return nil, err
	}
	tr, err := s.repo.TrackByID(ctx, id)
	if err != nil || tr == nil {
		return nil, err
	}
	if _, err := ParseTrackType(string(tr.Type)); err != nil {
		return nil, err
	}

	out := &TrackWithProgress{Track: *tr}
	p, err := s.repo.Progress(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if p != nil {
		out.Completed = p.Completed
		out.CompletedAt = p.CompletedAt
	}
	return out, nil
}
