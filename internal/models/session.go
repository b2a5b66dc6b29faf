package models

// Session is the observable state of the signed-in user.
// Loading is true until the first identity resolution completes.
type Session struct {
	User    *UserProfile `json:"user"`
	Loading bool         `json:"loading"`
}

// Authenticated reports a resolved, signed-in session.
func (s Session) Authenticated() bool {
	return !s.Loading && s.User != nil
}

// Clone copies the session, including the profile.
func (s Session) Clone() Session {
	return Session{User: s.User.Clone(), Loading: s.Loading}
}
