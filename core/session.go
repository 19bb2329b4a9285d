package core

import "time"

// Session holds the authentication state of an API consumer.
// It is passed explicitly to whatever talks to the API; there is no package level session.
type Session struct {
	Token     string
	UserID    string
	Username  string
	IsAdmin   bool
	ExpiresAt time.Time
}

func (s Session) IsAuthenticated() bool {
	return s.Token != "" && (s.ExpiresAt.IsZero() || time.Now().Before(s.ExpiresAt))
}
