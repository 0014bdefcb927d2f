// Package redis holds Redis-backed adapters for the auth ports.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	domainauth "github.com/target/mmk-pageshot/internal/domain/auth"
	"github.com/target/mmk-pageshot/internal/ports"
)

const defaultSessionPrefix = "session:"

// SessionStoreOptions configures a SessionStore.
type SessionStoreOptions struct {
	Client redis.UniversalClient
	// Prefix is prepended to session ids; defaults to "session:".
	Prefix string
	Now    func() time.Time
}

// SessionStore keeps each session as a hash whose key expires with the session.
type SessionStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ ports.SessionStore = (*SessionStore)(nil)

// sessionRecord is the hash layout. Times are unix milliseconds.
type sessionRecord struct {
	UserID    string `redis:"user_id"`
	Name      string `redis:"name"`
	Email     string `redis:"email"`
	Role      string `redis:"role"`
	CreatedAt int64  `redis:"created_at"`
	ExpiresAt int64  `redis:"expires_at"`
}

func toRecord(s domainauth.Session) sessionRecord {
	return sessionRecord{
		UserID:    s.UserID,
		Name:      s.Name,
		Email:     s.Email,
		Role:      string(s.Role),
		CreatedAt: s.CreatedAt.UnixMilli(),
		ExpiresAt: s.ExpiresAt.UnixMilli(),
	}
}

func (r sessionRecord) session(id string) domainauth.Session {
	return domainauth.Session{
		ID:        id,
		UserID:    r.UserID,
		Name:      r.Name,
		Email:     r.Email,
		Role:      domainauth.Role(r.Role),
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
		ExpiresAt: time.UnixMilli(r.ExpiresAt).UTC(),
	}
}

// NewSessionStore builds a store from opts.
func NewSessionStore(opts SessionStoreOptions) *SessionStore {
	s := &SessionStore{client: opts.Client, prefix: opts.Prefix, now: opts.Now}
	if s.prefix == "" {
		s.prefix = defaultSessionPrefix
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *SessionStore) key(id string) string { return s.prefix + id }

// Save replaces the session hash and sets its absolute expiry in one transaction.
func (s *SessionStore) Save(ctx context.Context, sess domainauth.Session) error {
	switch {
	case sess.ID == "":
		return errors.New("session ID cannot be empty")
	case sess.Expired(s.now()):
		return errors.New("session is expired")
	}
	key := s.key(sess.ID)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key, toRecord(sess))
		p.ExpireAt(ctx, key, sess.ExpiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save session: %w", err)
	}
	return nil
}

// Get returns ports.ErrSessionNotFound for unknown and lapsed sessions.
func (s *SessionStore) Get(ctx context.Context, id string) (domainauth.Session, error) {
	if id == "" {
		return domainauth.Session{}, ports.ErrSessionNotFound
	}
	cmd := s.client.HGetAll(ctx, s.key(id))
	fields, err := cmd.Result()
	if err != nil {
		return domainauth.Session{}, fmt.Errorf("redis get session: %w", err)
	}
	if len(fields) == 0 {
		return domainauth.Session{}, ports.ErrSessionNotFound
	}

	var rec sessionRecord
	if err := cmd.Scan(&rec); err != nil {
		return domainauth.Session{}, fmt.Errorf("decode session: %w", err)
	}
	sess := rec.session(id)
	// Key expiry has second granularity on some servers.
	if sess.Expired(s.now()) {
		if err := s.Delete(ctx, id); err != nil {
			return domainauth.Session{}, fmt.Errorf("cleanup expired session: %w", err)
		}
		return domainauth.Session{}, ports.ErrSessionNotFound
	}
	return sess, nil
}

// Delete removes a session; unknown ids are not an error.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}
