package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/nkiryanov/blogpress/internal/models"
)

// Credentials the fake backend accepts
const (
	BackendEmail    = "admin@example.com"
	BackendPassword = "secret123"
	BackendResetKey = "reset-token"
)

// Backend is in-process fake of the blog REST API
// Route keys used by Calls and Fail look like "POST /auth/login"
type Backend struct {
	// Base URL including /api prefix
	URL string

	User models.UserProfile

	mu           sync.Mutex
	password     string
	access       string
	refresh      string
	rotate       bool
	tokenTTL     time.Duration
	refreshDelay time.Duration
	calls        map[string]int
	failures     map[string]int
	auditStatus  func(entry map[string]any) int
	auditEntries []map[string]any
	lastBodies   map[string]map[string]any
}

func NewBackend(t *testing.T) *Backend {
	t.Helper()

	b := &Backend{
		User: models.UserProfile{
			ID:       "1",
			Username: "admin",
			Email:    BackendEmail,
			Role:     "admin",
		},
		password:   BackendPassword,
		tokenTTL:   15 * time.Minute,
		calls:      make(map[string]int),
		failures:   make(map[string]int),
		lastBodies: make(map[string]map[string]any),
	}

	srv := httptest.NewServer(b.router())
	t.Cleanup(srv.Close)
	b.URL = srv.URL + "/api"

	return b
}

func (b *Backend) router() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.Use(b.track)

	api.HandleFunc("/auth/login", b.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", b.handleLogout).Methods(http.MethodPost)
	api.HandleFunc("/auth/refresh", b.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/auth/register", b.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/auth/me", b.authorized(b.handleMe)).Methods(http.MethodGet)
	api.HandleFunc("/auth/verify", b.handleVerify).Methods(http.MethodGet)
	api.HandleFunc("/auth/request-reset", b.handleRequestReset).Methods(http.MethodPost)
	api.HandleFunc("/auth/reset-password", b.handleResetPassword).Methods(http.MethodPost)
	api.HandleFunc("/auth/change-password", b.authorized(b.handleChangePassword)).Methods(http.MethodPost)
	api.HandleFunc("/audit-logs", b.handleAuditLog).Methods(http.MethodPost)
	api.HandleFunc("/posts", b.authorized(b.handlePosts)).Methods(http.MethodGet)

	// Probe of connectivity monitor
	r.Methods(http.MethodHead).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	return r
}

// Calls count, JSON body capture and forced failures
func (b *Backend) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tmpl, _ := mux.CurrentRoute(r).GetPathTemplate()
		key := r.Method + " " + strings.TrimPrefix(tmpl, "/api")

		body := map[string]any{}
		if r.Header.Get("Content-Type") == "application/json" {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}

		b.mu.Lock()
		b.calls[key]++
		b.lastBodies[key] = body
		status, fail := b.failures[key]
		b.mu.Unlock()

		if fail {
			writeJSON(w, status, map[string]any{"message": fmt.Sprintf("forced %d", status)})
			return
		}

		next.ServeHTTP(w, r.WithContext(withBody(r.Context(), body)))
	})
}

func (b *Backend) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !b.validBearer(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Token expired"})
			return
		}
		next(w, r)
	}
}

func (b *Backend) validBearer(r *http.Request) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.access != "" && r.Header.Get("Authorization") == "Bearer "+b.access
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	body := bodyFrom(r.Context())
	if !hasCSRF(body) {
		writeJSON(w, http.StatusForbidden, map[string]any{"message": "CSRF token missing"})
		return
	}

	b.mu.Lock()
	ok := body["email"] == b.User.Email && body["password"] == b.password
	b.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Invalid credentials"})
		return
	}

	writeJSON(w, http.StatusOK, b.issueSession(true))
}

func (b *Backend) handleLogout(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.access, b.refresh = "", ""
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	body := bodyFrom(r.Context())

	b.mu.Lock()
	delay := b.refreshDelay
	valid := b.refresh != "" && body["refreshToken"] == b.refresh
	rotate := b.rotate
	b.mu.Unlock()

	time.Sleep(delay)

	if !valid {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Invalid refresh token"})
		return
	}

	session := b.issueSession(rotate)
	resp := map[string]any{"token": session["token"]}
	if rotate {
		resp["refreshToken"] = session["refreshToken"]
	}
	writeJSON(w, http.StatusOK, resp)
}

func (b *Backend) handleRegister(w http.ResponseWriter, r *http.Request) {
	body := bodyFrom(r.Context())
	if !hasCSRF(body) {
		writeJSON(w, http.StatusForbidden, map[string]any{"message": "CSRF token missing"})
		return
	}

	b.mu.Lock()
	if body["email"] == b.User.Email {
		b.mu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]any{"message": "Email already registered"})
		return
	}
	b.User = models.UserProfile{
		ID:       "2",
		Username: fmt.Sprint(body["username"]),
		Email:    fmt.Sprint(body["email"]),
		Role:     "author",
	}
	b.password = fmt.Sprint(body["password"])
	b.mu.Unlock()

	writeJSON(w, http.StatusCreated, b.issueSession(true))
}

func (b *Backend) handleMe(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	user := b.User
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, user)
}

func (b *Backend) handleVerify(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"valid": b.validBearer(r)})
}

func (b *Backend) handleRequestReset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (b *Backend) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	body := bodyFrom(r.Context())
	if body["token"] != BackendResetKey {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Reset token is invalid"})
		return
	}

	b.mu.Lock()
	b.password = fmt.Sprint(body["newPassword"])
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (b *Backend) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	body := bodyFrom(r.Context())

	b.mu.Lock()
	defer b.mu.Unlock()

	if body["currentPassword"] != b.password {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Current password is wrong"})
		return
	}
	b.password = fmt.Sprint(body["newPassword"])

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (b *Backend) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	body := bodyFrom(r.Context())

	b.mu.Lock()
	status := http.StatusCreated
	if b.auditStatus != nil {
		status = b.auditStatus(body)
	}
	if status < 300 {
		b.auditEntries = append(b.auditEntries, body)
	}
	id := len(b.auditEntries)
	b.mu.Unlock()

	if status >= 300 {
		writeJSON(w, status, map[string]any{"error": "audit storage failed"})
		return
	}
	writeJSON(w, status, map[string]any{"id": fmt.Sprintf("audit-%d", id)})
}

func (b *Backend) handlePosts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []map[string]any{{"id": "1", "title": "Hello"}})
}

// New access token and, if asked, new refresh token
func (b *Backend) issueSession(newRefresh bool) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.access = IssueToken(b.User.ID, time.Now().Add(b.tokenTTL))
	if newRefresh || b.refresh == "" {
		b.refresh = IssueToken(b.User.ID, time.Now().Add(24*time.Hour))
	}

	return map[string]any{
		"success":      true,
		"token":        b.access,
		"refreshToken": b.refresh,
		"user":         b.User,
	}
}

// Number of calls made to route, e.g. "POST /auth/refresh"
func (b *Backend) Calls(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[route]
}

// Last JSON body route got
func (b *Backend) LastBody(route string) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastBodies[route]
}

// Respond to route with status until Recover is called
func (b *Backend) Fail(route string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[route] = status
}

func (b *Backend) Recover(route string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failures, route)
}

// Decide audit response status per entry, 201 for everyone if not set
func (b *Backend) SetAuditStatus(fn func(entry map[string]any) int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.auditStatus = fn
}

func (b *Backend) AuditEntries() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]map[string]any(nil), b.auditEntries...)
}

func (b *Backend) SetRefreshDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshDelay = d
}

// Return new refresh token on every refresh
func (b *Backend) SetRotateRefresh(rotate bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rotate = rotate
}

// Lifetime of issued access tokens
func (b *Backend) SetTokenTTL(ttl time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokenTTL = ttl
}

// Forget issued tokens, as if session expired on server
func (b *Backend) RevokeSession() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.access, b.refresh = "", ""
}

func (b *Backend) AccessToken() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.access
}

func (b *Backend) RefreshToken() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refresh
}

func hasCSRF(body map[string]any) bool {
	token, _ := body["_csrf"].(string)
	return token != ""
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
