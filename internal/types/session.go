package types

// SessionStatus is the authentication state of the current client context.
type SessionStatus int

const (
	StatusUnauthenticated SessionStatus = iota
	StatusAuthenticating
	StatusAuthenticated
)

func (s SessionStatus) String() string {
	switch s {
	case StatusAuthenticating:
		return "authenticating"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Profile is the user record returned by the backend and cached under the
// "user" storage key.
type Profile struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// DisplayName falls back to a guest label when the profile is empty.
func (p Profile) DisplayName() string {
	if p.Name == "" {
		return "Guest User"
	}
	return p.Name
}

// DisplayEmail falls back to a placeholder when the profile has no email.
func (p Profile) DisplayEmail() string {
	if p.Email == "" {
		return "No Email"
	}
	return p.Email
}

// Registration is the payload for account creation.
type Registration struct {
	Name     string
	Email    string
	Password string
}

// Session is a read-only snapshot of the session controller state.
type Session struct {
	Status  SessionStatus
	Profile Profile
	Token   string
	// Epoch changes on every transition into or out of Authenticated. Work
	// started under one epoch must not be applied under another.
	Epoch uint64
}

// Authenticated reports whether the snapshot carries a validated token.
func (s Session) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.Token != ""
}
