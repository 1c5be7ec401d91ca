package core

import "time"

// Session is a logged-in browser session.
type Session struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// UserCredential is a configured login account. Password is plain text and is
// hashed once at startup.
type UserCredential struct {
	Username string
	Password string
	Name     string
}
