package meeting

import "time"

// User is the platform's view of a participant.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Caption 平台实时字幕事件负载
type Caption struct {
	Text      string    `json:"text"`
	User      *User     `json:"user,omitempty"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// ChatMessage 聊天频道中的一条消息
type ChatMessage struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	User      *User     `json:"user,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
