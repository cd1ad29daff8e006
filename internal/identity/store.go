package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// User is one sender scoped to exactly one instance. Records are created
// on first contact and never deleted automatically.
type User struct {
	ID           string    `json:"id"`
	InstanceName string    `json:"instance_name"`
	SenderID     string    `json:"sender_id"`
	SenderJID    string    `json:"sender_jid,omitempty"`
	DisplayName  string    `json:"display_name,omitempty"`
	FirstSeenAt  time.Time `json:"first_seen_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	MessageCount int       `json:"message_count"`
}

// Session is one logical conversation between a user and an instance.
// Sessions are permanent once created; expiry is an external policy.
type Session struct {
	ID           string    `json:"id"`
	Name         string    `json:"session_name"`
	InstanceName string    `json:"instance_name"`
	UserID       string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// PGStore persists users and sessions in Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) UpsertUser(ctx context.Context, u User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, instance_name, sender_id, sender_jid, display_name, message_count)
		 VALUES ($1, $2, $3, $4, $5, 1)
		 ON CONFLICT (instance_name, sender_id) DO UPDATE SET
		   display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), users.display_name),
		   last_seen_at = now(),
		   message_count = users.message_count + 1`,
		u.ID, u.InstanceName, u.SenderID, nullable(u.SenderJID), nullable(u.DisplayName))
	if err != nil {
		return fmt.Errorf("upsert user %s/%s: %w", u.InstanceName, u.SenderID, err)
	}
	return nil
}

func (s *PGStore) TouchSession(ctx context.Context, sess Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, session_name, instance_name, user_id)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_name) DO UPDATE SET last_active_at = now()`,
		sess.ID, sess.Name, sess.InstanceName, sess.UserID)
	if err != nil {
		return fmt.Errorf("touch session %s: %w", sess.Name, err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
