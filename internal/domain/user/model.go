package user

import "time"

// User is a board member as seen by other clients.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	IsOnline  bool      `json:"isOnline"`
	LastSeen  time.Time `json:"lastSeen"`
	CreatedAt time.Time `json:"createdAt"`
}

// Identity is the caller resolved by the auth collaborator. Username is trusted as given.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}
