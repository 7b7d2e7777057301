package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/andresmejia3/truthlens/internal/types"
)

// ErrSessionNotFound is returned when a session id does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Store manages the PostgreSQL pool and pgvector operations.
type Store struct {
	pool *pgxpool.Pool
}

// Session is one recorded run: a live camera session or a replayed file.
type Session struct {
	ID        string
	Source    string
	Name      string
	StartedAt time.Time
	Windows   int
	AvgScore  float64
	MaxScore  float64
}

// SimilarWindow is a window returned by FindSimilarWindows.
type SimilarWindow struct {
	SessionID string
	Window    types.ScoreWindow
	Distance  float64
}

// New opens a pool, verifies it and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// initSchema creates the tables and vector extension if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			name TEXT,
			started_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS deception_windows (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			closed_at TIMESTAMPTZ NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			emotion_changes INT NOT NULL,
			microexpression DOUBLE PRECISION NOT NULL,
			gaze_aversion DOUBLE PRECISION NOT NULL,
			dominant TEXT NOT NULL,
			emotions VECTOR(7) NOT NULL
		);
		CREATE INDEX IF NOT EXISTS deception_windows_session_idx ON deception_windows (session_id, closed_at);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSession registers a session. Re-registering an existing id clears its windows,
// so replaying the same file does not duplicate history.
func (s *Store) EnsureSession(ctx context.Context, id, source string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM deception_windows WHERE session_id = $1", id); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, source, started_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET started_at = NOW(), source = EXCLUDED.source
	`, id, source)
	return err
}

// InsertWindow saves one closed score window.
func (s *Store) InsertWindow(ctx context.Context, sessionID string, w types.ScoreWindow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO deception_windows
			(session_id, closed_at, score, emotion_changes, microexpression, gaze_aversion, dominant, emotions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sessionID, w.ClosedAt, w.Score, w.EmotionChanges, w.Microexpression, w.GazeAversion,
		string(w.Dominant), pgvector.NewVector(w.Emotions.Vector()))
	return err
}

// ListSessions returns every session with window aggregates, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.source, COALESCE(s.name, ''), s.started_at,
			COUNT(w.id), COALESCE(AVG(w.score), 0), COALESCE(MAX(w.score), 0)
		FROM sessions s
		LEFT JOIN deception_windows w ON w.session_id = s.id
		GROUP BY s.id
		ORDER BY s.started_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var ss Session
		if err := rows.Scan(&ss.ID, &ss.Source, &ss.Name, &ss.StartedAt, &ss.Windows, &ss.AvgScore, &ss.MaxScore); err != nil {
			return nil, err
		}
		sessions = append(sessions, ss)
	}
	return sessions, rows.Err()
}

const windowColumns = `closed_at, score, emotion_changes, microexpression, gaze_aversion, dominant, emotions`

func scanWindow(row pgx.Row, extra ...any) (types.ScoreWindow, error) {
	var (
		w        types.ScoreWindow
		dominant string
		vec      pgvector.Vector
	)
	dest := append([]any{&w.ClosedAt, &w.Score, &w.EmotionChanges, &w.Microexpression, &w.GazeAversion, &dominant, &vec}, extra...)
	if err := row.Scan(dest...); err != nil {
		return w, err
	}
	w.Dominant = types.Emotion(dominant)
	w.Emotions = types.ScoresFromVector(vec.Slice())
	return w, nil
}

// SessionWindows returns the most recent windows of a session in chronological order.
// limit <= 0 returns all of them.
func (s *Store) SessionWindows(ctx context.Context, sessionID string, limit int) ([]types.ScoreWindow, error) {
	query := `SELECT ` + windowColumns + ` FROM deception_windows WHERE session_id = $1 ORDER BY closed_at DESC, id DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windows []types.ScoreWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(windows)
	return windows, nil
}

// FindSimilarWindows returns the windows whose closing emotion mix is nearest to scores,
// by Euclidean distance (<-> is the L2 operator in pgvector).
func (s *Store) FindSimilarWindows(ctx context.Context, scores types.Scores, limit int) ([]SimilarWindow, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+windowColumns+`, session_id, emotions <-> $1 AS distance
		FROM deception_windows
		ORDER BY emotions <-> $1
		LIMIT $2
	`, pgvector.NewVector(scores.Vector()), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SimilarWindow
	for rows.Next() {
		var sw SimilarWindow
		w, err := scanWindow(rows, &sw.SessionID, &sw.Distance)
		if err != nil {
			return nil, err
		}
		sw.Window = w
		out = append(out, sw)
	}
	return out, rows.Err()
}

// RenameSession sets a human-readable name on a session.
func (s *Store) RenameSession(ctx context.Context, id, name string) error {
	tag, err := s.pool.Exec(ctx, "UPDATE sessions SET name = $1 WHERE id = $2", name, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Reset drops all application tables to clear the database state.
// The schema is recreated on the next New.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS deception_windows CASCADE;
		DROP TABLE IF EXISTS sessions CASCADE;
	`)
	return err
}
