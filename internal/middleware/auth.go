package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/mealminder/internal/auth"
	"github.com/dukerupert/mealminder/internal/model"
)

// BearerAuth checks a shared service secret, either in plain form or as a
// bcrypt digest.
type BearerAuth struct {
	secret []byte
	hash   []byte
}

func NewBearerAuth(secret, hash string) *BearerAuth {
	b := &BearerAuth{}
	if secret != "" {
		b.secret = []byte(secret)
	}
	if hash != "" {
		b.hash = []byte(hash)
	}
	return b
}

// Verify reports whether token matches the configured secret.
func (b *BearerAuth) Verify(token string) bool {
	if token == "" {
		return false
	}
	if b.hash != nil {
		return bcrypt.CompareHashAndPassword(b.hash, []byte(token)) == nil
	}
	if b.secret == nil {
		return false
	}
	return subtle.ConstantTimeCompare(b.secret, []byte(token)) == 1
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireBearer rejects requests without a valid bearer token with 401.
func RequireBearer(b *BearerAuth, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !b.Verify(BearerToken(r)) {
				logger.Warn("unauthorized request", "path", r.URL.Path, "remote", r.RemoteAddr)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type UserGetter interface {
	Get(ctx context.Context, id int64) (*model.UserPreference, error)
}

// LoadUser resolves the {id} path value and stores the user in the request
// context. It must wrap a handler registered with an {id} pattern.
func LoadUser(users UserGetter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		u, err := users.Get(r.Context(), id)
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if u == nil {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), *u)))
	})
}
