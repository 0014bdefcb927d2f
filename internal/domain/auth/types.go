// Package auth holds the identity and session types shared by the login flow
// and the job API. A session's UserID is the owner every job is scoped to.
package auth

import "time"

// Role is the coarse permission level derived from directory groups.
type Role string

const (
	RoleGuest Role = "guest"
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) rank() int {
	switch r {
	case RoleGuest:
		return 1
	case RoleUser:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

// Allows reports whether r meets required. Unknown roles allow nothing.
func (r Role) Allows(required Role) bool {
	have, need := r.rank(), required.rank()
	return have > 0 && need > 0 && have >= need
}

// Identity is what a login provider vouches for after a successful exchange.
type Identity struct {
	UserID    string
	Name      string
	Email     string
	Groups    []string
	ExpiresAt time.Time
}

// Session is the server-side record behind the session cookie.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Owner is the key jobs created under this session are stored against.
func (s Session) Owner() string { return s.UserID }

// Expired reports whether the session is no longer usable at now.
func (s Session) Expired(now time.Time) bool { return !now.Before(s.ExpiresAt) }

// TTL is the remaining lifetime at now, never negative.
func (s Session) TTL(now time.Time) time.Duration {
	return max(s.ExpiresAt.Sub(now), 0)
}
