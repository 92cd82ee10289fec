package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository is the catalogue storage.
type Repository interface {
	TracksByType(ctx context.Context, t TrackType) ([]Track, error)
	// TrackByID returns nil, nil when no track matches.
	TrackByID(ctx context.Context, id int64) (*Track, error)
	// Progress returns nil, nil when the user has no row for the track.
	Progress(ctx context.Context, userID string, trackID int64) (*Progress, error)
	AllProgress(ctx context.Context, userID string) ([]Progress, error)
	MarkCompleted(ctx context.Context, userID string, trackID int64, at time.Time) error
}

// DBTX is satisfied by *sql.DB, *sql.Tx and *database.DB.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLRepository reads the tracks and user_progress tables.
type SQLRepository struct {
	db DBTX
}

var _ Repository = (*SQLRepository)(nil)

// NewSQLRepository returns a repository over db.
func NewSQLRepository(db DBTX) *SQLRepository {
	return &SQLRepository{db: db}
}

const trackColumns = "id, title, description, duration, type, audio_url, created_at"

func (r *SQLRepository) TracksByType(ctx context.Context, t TrackType) ([]Track, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+trackColumns+" FROM tracks WHERE type = ? ORDER BY id ASC", string(t))
	if err != nil {
		return nil, fmt.Errorf("querying tracks: %w", err)
	}
	defer rows.Close()

	tracks := []Track{}
	for rows.Next() {
		tr, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tracks: %w", err)
	}
	return tracks, nil
}

func (r *SQLRepository) TrackByID(ctx context.Context, id int64) (*Track, error) {
	tr, err := scanTrack(r.db.QueryRowContext(ctx, "SELECT "+trackColumns+" FROM tracks WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tr, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrack(s scanner) (Track, error) {
	var (
		tr        Track
		typ       string
		createdAt string
	)
	if err := s.Scan(&tr.ID, &tr.Title, &tr.Description, &tr.Duration, &typ, &tr.AudioURL, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Track{}, err
		}
		return Track{}, fmt.Errorf("scanning track: %w", err)
	}
	tr.Type = TrackType(typ)
	tr.CreatedAt = parseTime(createdAt)
	return tr, nil
}

const progressColumns = "id, user_id, track_id, completed, completed_at, created_at"

func (r *SQLRepository) Progress(ctx context.Context, userID string, trackID int64) (*Progress, error) {
	p, err := scanProgress(r.db.QueryRowContext(ctx,
		"SELECT "+progressColumns+" FROM user_progress WHERE user_id = ? AND track_id = ?", userID, trackID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *SQLRepository) AllProgress(ctx context.Context, userID string) ([]Progress, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+progressColumns+" FROM user_progress WHERE user_id = ? ORDER BY track_id ASC", userID)
	if err != nil {
		return nil, fmt.Errorf("querying progress: %w", err)
	}
	defer rows.Close()

	out := []Progress{}
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating progress: %w", err)
	}
	return out, nil
}

func scanProgress(s scanner) (Progress, error) {
	var (
		p           Progress
		completed   int
		completedAt sql.NullString
		createdAt   string
	)
	if err := s.Scan(&p.ID, &p.UserID, &p.TrackID, &completed, &completedAt, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Progress{}, err
		}
		return Progress{}, fmt.Errorf("scanning progress: %w", err)
	}
	p.Completed = completed != 0
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		p.CompletedAt = &t
	}
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

// MarkCompleted upserts the progress row. completed_at keeps its first
// value on repeated calls.
func (r *SQLRepository) MarkCompleted(ctx context.Context, userID string, trackID int64, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339Nano)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_progress (user_id, track_id, completed, completed_at, created_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(user_id, track_id) DO UPDATE SET
			completed = 1,
			completed_at = COALESCE(user_progress.completed_at, excluded.completed_at)`,
		userID, trackID, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("marking track completed: %w", err)
	}
	return nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
