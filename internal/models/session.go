package models

import "time"

// Session is an issued operator session. Validity is membership in the session store.
type Session struct {
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}
