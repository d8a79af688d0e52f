package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/irontrack/ironauth"
)

const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
)

func (t *Transport) setTokenCookies(w http.ResponseWriter, pair ironauth.TokenPair) {
	now := t.now()
	http.SetCookie(w, &http.Cookie{
		Name:     AccessCookie,
		Value:    pair.AccessToken,
		Path:     orRoot(t.cookies.AccessPath),
		Domain:   t.cookies.Domain,
		MaxAge:   maxAge(pair.AccessExpiresAt, now),
		HttpOnly: true,
		Secure:   t.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    pair.RefreshToken,
		Path:     orRoot(t.cookies.RefreshPath),
		Domain:   t.cookies.Domain,
		MaxAge:   maxAge(pair.RefreshExpiresAt, now),
		HttpOnly: true,
		Secure:   t.cookies.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (t *Transport) clearTokenCookies(w http.ResponseWriter) {
	expire := func(name, path string, sameSite http.SameSite) {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     orRoot(path),
			Domain:   t.cookies.Domain,
			Expires:  time.Unix(0, 0).UTC(),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   t.cookies.Secure,
			SameSite: sameSite,
		})
	}
	expire(AccessCookie, t.cookies.AccessPath, http.SameSiteLaxMode)
	expire(RefreshCookie, t.cookies.RefreshPath, http.SameSiteStrictMode)
}

// accessToken reads the access cookie, falling back to an Authorization
// bearer header when allowed.
func (t *Transport) accessToken(r *http.Request) string {
	if c, err := r.Cookie(AccessCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if !t.cookies.AllowBearer {
		return ""
	}
	token, _ := bearerToken(r.Header.Get("Authorization"))
	return token
}

func refreshToken(r *http.Request) string {
	c, err := r.Cookie(RefreshCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

// maxAge is the number of whole seconds until expiresAt, rounded up. It is
// at least 1 because a non-positive Max-Age deletes the cookie.
func maxAge(expiresAt, now time.Time) int {
	secs := int((expiresAt.Sub(now) + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

func orRoot(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
