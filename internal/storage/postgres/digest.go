package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/kizashi/subsidy-radar/internal/radar"
)

// ListSubscribers returns recipients with a trialing or active subscription.
func (s *Store) ListSubscribers(ctx context.Context) ([]radar.Subscriber, error) {
	rows, err := s.pool.Query(ctx, `
SELECT user_id, email, COALESCE(home_pref_code, '')
FROM digest_subscribers
WHERE status IN ('trialing', 'active')
ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	var out []radar.Subscriber
	for rows.Next() {
		var sub radar.Subscriber
		if err := rows.Scan(&sub.UserID, &sub.Email, &sub.HomePrefCode); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	return out, nil
}

// ListDigestUserIDs returns users that already have a log row for the date.
func (s *Store) ListDigestUserIDs(ctx context.Context, digestDate time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM email_digest_logs WHERE digest_date = $1`, digestDate)
	if err != nil {
		return nil, fmt.Errorf("list digest users: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan digest user: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list digest users: %w", err)
	}
	return out, nil
}

// UpsertDigestLog records the outcome for (user, digest date).
func (s *Store) UpsertDigestLog(ctx context.Context, log radar.DigestLog) error {
	createdAt := log.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO email_digest_logs (user_id, pref_code, digest_date, status, error, sent_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id, digest_date) DO UPDATE SET
	status = EXCLUDED.status,
	error = EXCLUDED.error,
	sent_at = EXCLUDED.sent_at`,
		log.UserID, log.PrefCode, log.DigestDate, string(log.Status), nullString(log.Error), log.SentAt, createdAt)
	if err != nil {
		return fmt.Errorf("upsert digest log %s: %w", log.UserID, err)
	}
	return nil
}

// ListDigestLogsSince returns log rows created at or after since.
func (s *Store) ListDigestLogsSince(ctx context.Context, since time.Time) ([]radar.DigestLog, error) {
	rows, err := s.pool.Query(ctx, `
SELECT user_id, pref_code, digest_date, status, error, sent_at, created_at
FROM email_digest_logs
WHERE created_at >= $1
ORDER BY created_at, user_id`, since)
	if err != nil {
		return nil, fmt.Errorf("list digest logs: %w", err)
	}
	defer rows.Close()

	var out []radar.DigestLog
	for rows.Next() {
		var (
			l       radar.DigestLog
			status  string
			errText *string
		)
		if err := rows.Scan(&l.UserID, &l.PrefCode, &l.DigestDate, &status, &errText, &l.SentAt, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan digest log: %w", err)
		}
		l.Status = radar.DigestStatus(status)
		l.Error = deref(errText)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list digest logs: %w", err)
	}
	return out, nil
}
