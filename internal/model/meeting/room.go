package meeting

// Room 外部平台上的会议容器，成员列表由平台持有。
type Room struct {
	ID          string       `json:"id"`
	Type        string       `json:"type"`
	CreatedByID string       `json:"createdById,omitempty"`
	Members     []string     `json:"members"`
	Settings    RoomSettings `json:"settings"`
}

// RoomSettings carries the subset of call settings this gateway overrides.
type RoomSettings struct {
	TranscriptionMode string `json:"transcriptionMode,omitempty"`
	ClosedCaptionMode string `json:"closedCaptionMode,omitempty"`
}

// CreateRoomRequest describes a room created by the first joiner.
type CreateRoomRequest struct {
	CreatedByID string
	Settings    RoomSettings
}

// HasMember reports whether userID is already on the membership list.
func (r Room) HasMember(userID string) bool {
	for _, m := range r.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// WithMember returns the membership list extended by userID. Existing
// members are preserved in order and userID is never duplicated.
func (r Room) WithMember(userID string) []string {
	out := make([]string, 0, len(r.Members)+1)
	out = append(out, r.Members...)
	if r.HasMember(userID) {
		return out
	}
	return append(out, userID)
}
