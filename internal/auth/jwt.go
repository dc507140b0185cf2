// Package auth provides JWT-based authentication middleware with metrics.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/fruitsalade/librarian/internal/logging"
	"github.com/fruitsalade/librarian/internal/metrics"
	"github.com/fruitsalade/librarian/pkg/protocol"
)

type contextKey string

const userContextKey contextKey = "user"

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Claims holds JWT token claims.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Auth issues and checks tokens for a fixed set of users.
type Auth struct {
	secret []byte
	users  map[string][]byte // username -> bcrypt hash
	ttl    time.Duration
}

// New creates an Auth. users maps usernames to bcrypt hashes.
func New(jwtSecret string, users map[string]string, ttl time.Duration) *Auth {
	hashes := make(map[string][]byte, len(users))
	for name, hash := range users {
		hashes[name] = []byte(hash)
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Auth{secret: []byte(jwtSecret), users: hashes, ttl: ttl}
}

// Authenticate checks a password against the stored hash.
func (a *Auth) Authenticate(username, password string) error {
	hash, ok := a.users[username]
	if !ok {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Issue signs a token for username.
func (a *Auth) Issue(username string) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(a.ttl)
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "librarian",
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, exp, nil
}

// Validate parses and verifies a token.
func (a *Auth) Validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer("librarian"))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Middleware returns HTTP middleware that validates JWT tokens.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, "missing authentication token")
			return
		}

		claims, err := a.Validate(tokenStr)
		if err != nil {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, "invalid token: "+err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClaims extracts claims from the request context.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(userContextKey).(*Claims)
	return claims
}

// HandleLogin handles POST /api/v1/auth/token
func (a *Auth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req protocol.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusBadRequest, "username and password required")
		return
	}

	if err := a.Authenticate(req.Username, req.Password); err != nil {
		metrics.RecordAuthAttempt(false)
		logging.Warn("login failed", logging.String("username", req.Username))
		sendAuthError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, exp, err := a.Issue(req.Username)
	if err != nil {
		metrics.RecordAuthAttempt(false)
		logging.Error("failed to sign token", logging.Err(err))
		sendAuthError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	metrics.RecordAuthAttempt(true)
	logging.Info("login successful", logging.String("username", req.Username))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(protocol.TokenResponse{
		Token:     token,
		ExpiresAt: exp,
		Username:  req.Username,
	})
}

// extractToken reads a bearer token from the Authorization header, or from
// the token query parameter for EventSource clients that cannot set headers.
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func sendAuthError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: msg,
		Code:  code,
	})
}
