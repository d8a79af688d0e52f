package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/irontrack/ironauth"
)

func testPair() ironauth.TokenPair {
	return ironauth.TokenPair{
		AccessToken:      "access-2",
		RefreshToken:     "refresh-2",
		AccessExpiresAt:  testNow.Add(30 * time.Minute),
		RefreshExpiresAt: testNow.Add(30 * 24 * time.Hour),
	}
}

func cookiesByName(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := make(map[string]*http.Cookie)
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func TestRefreshHandlerSetsCookies(t *testing.T) {
	var presented string
	engine := &fakeEngine{
		refresh: func(_ context.Context, token string) (ironauth.TokenPair, *ironauth.Identity, error) {
			presented = token
			return testPair(), lifter, nil
		},
	}
	tr := newTransport(engine, ironauth.CookieConfig{Secure: true, RefreshPath: "/auth"})

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: RefreshCookie, Value: "refresh-1"})
	rec := httptest.NewRecorder()
	tr.RefreshHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if presented != "refresh-1" {
		t.Fatalf("expected refresh cookie to be presented, got %q", presented)
	}

	cookies := cookiesByName(rec)
	access, refresh := cookies[AccessCookie], cookies[RefreshCookie]
	if access == nil || refresh == nil {
		t.Fatalf("expected both cookies, got %v", cookies)
	}
	if access.Value != "access-2" || !access.HttpOnly || !access.Secure || access.SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected access cookie %+v", access)
	}
	if access.MaxAge != int((30 * time.Minute).Seconds()) || access.Path != "/" {
		t.Fatalf("unexpected access cookie scope %+v", access)
	}
	if refresh.Value != "refresh-2" || !refresh.HttpOnly || refresh.SameSite != http.SameSiteStrictMode {
		t.Fatalf("unexpected refresh cookie %+v", refresh)
	}
	if refresh.Path != "/auth" || refresh.MaxAge != int((30*24*time.Hour).Seconds()) {
		t.Fatalf("unexpected refresh cookie scope %+v", refresh)
	}

	var body identityBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Subject != "u-1" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestRefreshRejectionClearsCookies(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		cleared bool
	}{
		{"revoked", ironauth.ErrRevokedToken, http.StatusUnauthorized, true},
		{"invalid", ironauth.ErrInvalidToken, http.StatusUnauthorized, true},
		{"inactive", ironauth.ErrAccountInactive, http.StatusUnauthorized, true},
		{"throttled", ironauth.ErrRefreshRateLimited, http.StatusTooManyRequests, false},
		{"unavailable", ironauth.ErrUnavailable, http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{
				refresh: func(context.Context, string) (ironauth.TokenPair, *ironauth.Identity, error) {
					return ironauth.TokenPair{}, nil, tt.err
				},
			}
			tr := newTransport(engine, ironauth.CookieConfig{})

			req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
			req.AddCookie(&http.Cookie{Name: RefreshCookie, Value: "refresh-1"})
			rec := httptest.NewRecorder()
			tr.RefreshHandler().ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			cookies := cookiesByName(rec)
			if got := cookies[RefreshCookie] != nil; got != tt.cleared {
				t.Fatalf("expected cleared=%v, got cookies %v", tt.cleared, cookies)
			}
			if tt.cleared && cookies[RefreshCookie].MaxAge >= 0 {
				t.Fatalf("expected expired refresh cookie, got %+v", cookies[RefreshCookie])
			}
		})
	}
}

func TestLoginHandler(t *testing.T) {
	engine := &fakeEngine{
		login: func(_ context.Context, email, password string) (ironauth.TokenPair, *ironauth.Identity, error) {
			if email != "u@example.com" || password != "Secr3t!" {
				return ironauth.TokenPair{}, nil, ironauth.ErrInvalidCredentials
			}
			return testPair(), lifter, nil
		},
	}
	tr := newTransport(engine, ironauth.CookieConfig{})

	tests := []struct {
		name    string
		method  string
		body    string
		status  int
		cookies bool
	}{
		{"success", http.MethodPost, `{"email":"u@example.com","password":"Secr3t!"}`, http.StatusOK, true},
		{"wrong password", http.MethodPost, `{"email":"u@example.com","password":"nope"}`, http.StatusUnauthorized, false},
		{"malformed", http.MethodPost, `{"email":`, http.StatusBadRequest, false},
		{"unknown field", http.MethodPost, `{"email":"u@example.com","password":"Secr3t!","admin":true}`, http.StatusBadRequest, false},
		{"wrong method", http.MethodGet, ``, http.StatusMethodNotAllowed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/auth/login", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			tr.LoginHandler().ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			if got := cookiesByName(rec)[AccessCookie] != nil; got != tt.cookies {
				t.Fatalf("expected access cookie=%v", tt.cookies)
			}
		})
	}
}

func TestLogoutHandler(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		err    error
		status int
		calls  int
	}{
		{"revokes", "refresh-1", nil, http.StatusNoContent, 1},
		{"no cookie", "", nil, http.StatusNoContent, 0},
		{"already invalid", "garbage", ironauth.ErrInvalidToken, http.StatusNoContent, 1},
		{"ledger down", "refresh-1", errors.Join(ironauth.ErrUnavailable, errors.New("dial")), http.StatusServiceUnavailable, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			engine := &fakeEngine{
				logout: func(_ context.Context, token string) error {
					calls++
					if token != tt.cookie {
						t.Fatalf("unexpected token %q", token)
					}
					return tt.err
				},
			}
			tr := newTransport(engine, ironauth.CookieConfig{})

			req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: RefreshCookie, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			tr.LogoutHandler().ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			if calls != tt.calls {
				t.Fatalf("expected %d logout calls, got %d", tt.calls, calls)
			}
			if tt.status == http.StatusNoContent && cookiesByName(rec)[AccessCookie] == nil {
				t.Fatal("expected access cookie to be cleared")
			}
		})
	}
}

func TestMaxAge(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{30 * time.Minute, 1800},
		{1500 * time.Millisecond, 2},
		{0, 1},
		{-time.Minute, 1},
	}
	for _, tt := range tests {
		if got := maxAge(testNow.Add(tt.in), testNow); got != tt.want {
			t.Fatalf("%v: expected %d, got %d", tt.in, tt.want, got)
		}
	}
}
