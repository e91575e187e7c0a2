package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/partswatch/partswatch/internal/catalog"
	"github.com/partswatch/partswatch/internal/store"
)

// CreateSession appends one crawl session audit row.
func (s *Store) CreateSession(ctx context.Context, session catalog.CrawlSession) error {
	counters, err := json.Marshal(session.Counters)
	if err != nil {
		return fmt.Errorf("encode session counters: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO crawl_sessions
		   (session_id, sites, status, counters, error_text, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		session.ID, session.Sites, string(session.Status), counters,
		session.ErrorText, session.StartedAt)
	if err != nil {
		return fmt.Errorf("create session %s: %w", session.ID, err)
	}
	return nil
}

// UpdateSession moves a session through its lifecycle. Terminal states stamp
// the end time.
func (s *Store) UpdateSession(ctx context.Context, id string, status catalog.SessionStatus, errText string, counters catalog.SessionCounters) error {
	raw, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("encode session counters: %w", err)
	}
	var endedAt *time.Time
	if status.Terminal() {
		now := time.Now().UTC()
		endedAt = &now
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE crawl_sessions
		 SET status = $2, counters = $3, error_text = $4,
		     ended_at = COALESCE($5, ended_at)
		 WHERE session_id = $1`,
		id, string(status), raw, errText, endedAt)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetSession fetches one session audit row by id.
func (s *Store) GetSession(ctx context.Context, id string) (catalog.CrawlSession, error) {
	var (
		sess     catalog.CrawlSession
		status   string
		counters []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, sites, status, counters, error_text,
		        started_at, ended_at
		 FROM crawl_sessions WHERE session_id = $1`, id).
		Scan(&sess.ID, &sess.Sites, &status, &counters, &sess.ErrorText,
			&sess.StartedAt, &sess.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.CrawlSession{}, store.ErrNotFound
	}
	if err != nil {
		return catalog.CrawlSession{}, fmt.Errorf("get session %s: %w", id, err)
	}
	sess.Status = catalog.SessionStatus(status)
	if len(counters) > 0 {
		if err := json.Unmarshal(counters, &sess.Counters); err != nil {
			return catalog.CrawlSession{}, fmt.Errorf("decode session counters: %w", err)
		}
	}
	return sess, nil
}
