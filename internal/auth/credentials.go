package auth

import "time"

// AuthType identifies how credentials were obtained.
type AuthType string

const (
	AuthTypeOAuth AuthType = "oauth"
	// AuthTypeToken is a pre-issued access token with no refresh capability.
	AuthTypeToken AuthType = "token"
)

// Credentials is an authenticated session for one profile.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiryDate   time.Time
	Scopes       []string
	Type         AuthType
}

// StoredCredentials is the persisted form of Credentials.
type StoredCredentials struct {
	Profile      string   `json:"profile"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	ExpiryDate   string   `json:"expiry_date"`
	Scopes       []string `json:"scopes"`
	Type         AuthType `json:"type"`
}
