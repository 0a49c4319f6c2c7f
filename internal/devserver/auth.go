package devserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/careloop/medportal/internal/portal"
)

var errInvalidToken = errors.New("invalid or expired token")

type authenticator struct {
	secret []byte
	ttl    time.Duration
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func checkPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// issue signs an HS256 token with sub = email, matching the real backend's
// claim layout.
func (a *authenticator) issue(email string) (string, error) {
	claims := jwt.MapClaims{
		"sub": email,
		"exp": jwt.NewNumericDate(time.Now().Add(a.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *authenticator) verify(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", errInvalidToken
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errInvalidToken
	}
	return sub, nil
}

type contextKey string

const userKey contextKey = "current_user"

// requireAuth resolves the bearer credential to a user and rejects with 401
// otherwise.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			writeError(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		email, err := s.auth.verify(parts[1])
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		user, _, err := s.store.UserByEmail(email)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		next(w, r.WithContext(ctx))
	}
}

func currentUser(ctx context.Context) portal.User {
	u, _ := ctx.Value(userKey).(portal.User)
	return u
}
