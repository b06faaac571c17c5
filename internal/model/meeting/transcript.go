package meeting

import "time"

// Origin 标记转写条目的来源
type Origin string

const (
	OriginCaption Origin = "caption"
	OriginBot     Origin = "bot"
)

// TranscriptEntry is one line of the live transcript. Entries are never
// edited once appended.
type TranscriptEntry struct {
	Seq          int       `json:"seq"`
	Text         string    `json:"text"`
	SpeakerLabel string    `json:"speaker"`
	Timestamp    time.Time `json:"timestamp"`
	Origin       Origin    `json:"origin"`
}

// IsBot reports whether the entry came from the automated participant.
func (e TranscriptEntry) IsBot() bool { return e.Origin == OriginBot }
