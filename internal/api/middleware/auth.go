package middleware

import (
	"net/http"

	"github.com/kiranshivaraju/akhbar/internal/api/response"
	"github.com/kiranshivaraju/akhbar/internal/session"
	"github.com/kiranshivaraju/akhbar/pkg/models"
)

// UserSource is implemented by token sources that also know who is logged in.
type UserSource interface {
	User() *models.User
}

// Session gates routes that call the backend on behalf of the logged-in user.
// It never validates credentials itself; it only checks a token is stored.
type Session struct {
	tokens session.TokenSource
}

func NewSession(tokens session.TokenSource) *Session {
	return &Session{tokens: tokens}
}

// RequireLogin rejects the request with 401 when no backend token is stored.
func (s *Session) RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.tokens.Token(); err != nil {
			response.Error(w, http.StatusUnauthorized,
				"LOGIN_REQUIRED", "Please log in again", nil)
			return
		}
		if us, ok := s.tokens.(UserSource); ok {
			if u := us.User(); u != nil {
				r = r.WithContext(setUserEmail(r.Context(), u.Email))
			}
		}
		next.ServeHTTP(w, r)
	})
}
