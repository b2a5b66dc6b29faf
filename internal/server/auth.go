// internal/server/auth.go
package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"microloan-client/internal/common/errors"
	"microloan-client/internal/models"
)

type loginResult struct {
	user *models.UserProfile
	err  error
}

func (s *Server) login(c *gin.Context) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !bind(c, &body) {
		return
	}
	u, err := s.sessions.Login(c.Request.Context(), body.Email, body.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, "Login successful!", gin.H{"user": u, "redirectTo": "/"})
}

func (s *Server) register(c *gin.Context) {
	var body struct {
		Email    string      `json:"email"`
		Password string      `json:"password"`
		Name     string      `json:"name"`
		PhotoURL string      `json:"photoURL"`
		Role     models.Role `json:"role"`
	}
	if !bind(c, &body) {
		return
	}
	u, err := s.sessions.Register(c.Request.Context(), body.Email, body.Password, body.Name, body.PhotoURL, body.Role)
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusCreated, "Registration successful!", gin.H{"user": u, "redirectTo": "/"})
}

func (s *Server) logout(c *gin.Context) {
	if err := s.sessions.Logout(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, "Logged out successfully", gin.H{"redirectTo": "/"})
}

// providerLogin starts a Google or GitHub sign-in and replies with the
// authorization URL. The login finishes in the background once the provider
// redirects to the callback route.
func (s *Server) providerLogin(c *gin.Context) {
	kind := models.ProviderKind(strings.ToLower(c.Param("kind")))

	urls := make(chan string, 1)
	done := make(chan loginResult, 1)
	opener := func(authURL string) error {
		if state := stateOf(authURL); state != "" {
			s.trackLogin(state, done)
		}
		urls <- authURL
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), s.opts.ProviderLoginTimeout)
	go func() {
		defer cancel()
		u, err := s.sessions.LoginWithProvider(ctx, kind, opener)
		if err != nil && (errors.HasCode(err, errors.ErrCodeTimeout) || ctx.Err() != nil) {
			s.forgetLogin(done)
		}
		done <- loginResult{user: u, err: err}
	}()

	select {
	case authURL := <-urls:
		success(c, http.StatusAccepted, "Continue in the browser", gin.H{"authUrl": authURL})
	case res := <-done:
		s.forgetLogin(done)
		if res.err != nil {
			respondError(c, res.err)
			return
		}
		success(c, http.StatusOK, "Login successful!", gin.H{"user": res.user, "redirectTo": "/"})
	case <-c.Request.Context().Done():
		cancel()
		c.Abort()
	}
}

// providerCallback is the OAuth redirect target. It hands the code to the
// waiting login and, when this process started it, waits for the outcome.
func (s *Server) providerCallback(c *gin.Context) {
	kind, ok := models.ParseProviderKind(c.Param("provider"))
	if !ok || s.oauth == nil {
		fail(c, http.StatusNotFound, "NOT_FOUND", "Unknown sign-in provider")
		return
	}
	state := c.Query("state")
	if err := s.oauth.Complete(kind, state, c.Query("code"), c.Query("error")); err != nil {
		respondError(c, err)
		return
	}

	done := s.takeLogin(state)
	if done == nil {
		success(c, http.StatusOK, "Sign-in received", nil)
		return
	}
	select {
	case res := <-done:
		if res.err != nil {
			respondError(c, res.err)
			return
		}
		c.Redirect(http.StatusFound, "/")
	case <-c.Request.Context().Done():
		c.Abort()
	}
}

func stateOf(authURL string) string {
	u, err := url.Parse(authURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("state")
}

func (s *Server) trackLogin(state string, done chan loginResult) {
	s.loginsMu.Lock()
	s.logins[state] = done
	s.loginsMu.Unlock()
}

func (s *Server) takeLogin(state string) chan loginResult {
	s.loginsMu.Lock()
	defer s.loginsMu.Unlock()
	done := s.logins[state]
	delete(s.logins, state)
	return done
}

func (s *Server) forgetLogin(done chan loginResult) {
	s.loginsMu.Lock()
	defer s.loginsMu.Unlock()
	for state, ch := range s.logins {
		if ch == done {
			delete(s.logins, state)
		}
	}
}

func (s *Server) pendingLogins() int {
	s.loginsMu.Lock()
	defer s.loginsMu.Unlock()
	return len(s.logins)
}
