// Package session tracks active sessions in Redis. Each session is a
// hash keyed by session ID plus a per-account index set, so token
// verification can check membership without scanning and logout-all
// can enumerate everything an account owns.
package session

import "time"

// Session is one authenticated presence of an account.
type Session struct {
	ID             string
	AccountID      string
	IP             string
	UserAgent      string
	Fingerprint    string
	ImpersonatedBy string
	CreatedAt      time.Time
	LastActivity   time.Time
}

// IdleFor returns how long the session has been inactive as of now.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity)
}
