package meeting

import "time"

// SessionInfo captures one mounted meeting session on this gateway.
type SessionInfo struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}
