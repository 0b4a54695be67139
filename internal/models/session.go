package models

// User profile as the backend returns it
// Snapshot is replaced wholesale on every update
type UserProfile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Avatar   string `json:"avatar,omitempty"`
}

// Session persisted on the client side
type Session struct {
	AccessToken  string
	RefreshToken string
	User         *UserProfile

	// Access token expiration in epoch seconds, zero if unknown
	Expiry int64
}

// Token pair issued by the backend on login, register or refresh
// Refresh may be empty when backend does not rotate it
type TokenPair struct {
	Access  string `json:"token"`
	Refresh string `json:"refreshToken,omitempty"`
}
