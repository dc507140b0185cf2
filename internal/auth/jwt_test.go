package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/fruitsalade/librarian/pkg/protocol"
)

func newTestAuth(t *testing.T) *Auth {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return New("test-secret", map[string]string{"alice": string(hash)}, time.Hour)
}

func TestLoginIssuesValidToken(t *testing.T) {
	a := newTestAuth(t)
	body, _ := json.Marshal(protocol.TokenRequest{Username: "alice", Password: "hunter2"})

	w := httptest.NewRecorder()
	a.HandleLogin(w, httptest.NewRequest("POST", "/api/v1/auth/token", bytes.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}

	var resp protocol.TokenResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	claims, err := a.Validate(resp.Token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Username != "alice" || resp.ExpiresAt.Before(time.Now()) {
		t.Errorf("claims = %+v, expires = %v", claims, resp.ExpiresAt)
	}
}

func TestLoginRejects(t *testing.T) {
	a := newTestAuth(t)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", "{", http.StatusBadRequest},
		{"missing password", `{"username":"alice"}`, http.StatusBadRequest},
		{"wrong password", `{"username":"alice","password":"nope"}`, http.StatusUnauthorized},
		{"unknown user", `{"username":"mallory","password":"hunter2"}`, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			a.HandleLogin(w, httptest.NewRequest("POST", "/api/v1/auth/token", bytes.NewBufferString(tt.body)))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	a := newTestAuth(t)
	token, _, err := a.Issue("alice")
	if err != nil {
		t.Fatal(err)
	}
	other, _, _ := New("other-secret", nil, time.Hour).Issue("alice")

	var seen string
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetClaims(r.Context()).Username
	}))

	tests := []struct {
		name string
		auth string
		url  string
		want int
	}{
		{"bearer", "Bearer " + token, "/x", http.StatusOK},
		{"query token", "", "/x?token=" + token, http.StatusOK},
		{"missing", "", "/x", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, "/x", http.StatusUnauthorized},
		{"foreign signature", "Bearer " + other, "/x", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			r := httptest.NewRequest("GET", tt.url, nil)
			if tt.auth != "" {
				r.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusOK && seen != "alice" {
				t.Errorf("claims username = %q", seen)
			}
		})
	}
}
