package meeting

import "time"

// Identity 一次入会尝试对应的合成用户身份，随会话结束而丢弃。
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
}

// Credential 平台签发的限时凭证，本服务不负责续期。
type Credential struct {
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// TokenGrant is the payload returned by the token endpoint.
type TokenGrant struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
	APIKey string `json:"apiKey"`

	Credential Credential `json:"-"`
}

// Identity returns the identity the grant was issued for.
func (g TokenGrant) Identity() Identity {
	return Identity{ID: g.UserID, DisplayName: g.Name}
}
