package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/irontrack/ironauth"
)

const maxCredentialBody = 4 << 10

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type identityBody struct {
	Subject   string `json:"subject"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	Role      string `json:"role"`
	Superuser bool   `json:"superuser"`
}

func newIdentityBody(id *ironauth.Identity) identityBody {
	return identityBody{
		Subject:   id.Subject,
		Email:     id.Email,
		Name:      id.Name,
		Role:      id.Role,
		Superuser: id.Superuser,
	}
}

// Refresh exchanges the refresh cookie of r for a new token pair and sets
// both cookies on w. When the refresh token is rejected as invalid or
// revoked the cookies are cleared.
func (t *Transport) Refresh(w http.ResponseWriter, r *http.Request) (ironauth.TokenPair, *ironauth.Identity, error) {
	if t == nil || t.engine == nil {
		return ironauth.TokenPair{}, nil, ironauth.ErrEngineNotReady
	}

	ctx := ironauth.WithClientIP(r.Context(), t.clientIP(r))
	pair, id, err := t.engine.Refresh(ctx, refreshToken(r))
	if err != nil {
		switch ironauth.ReasonOf(err) {
		case ironauth.ReasonInvalidToken, ironauth.ReasonRevokedToken,
			ironauth.ReasonUnknownSubject, ironauth.ReasonAccountInactive:
			t.clearTokenCookies(w)
		}
		return ironauth.TokenPair{}, nil, err
	}

	t.setTokenCookies(w, pair)
	return pair, id, nil
}

// RefreshHandler serves [Transport.Refresh] and responds with the
// refreshed identity.
func (t *Transport) RefreshHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, id, err := t.Refresh(w, r)
		if err != nil {
			t.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newIdentityBody(id))
	})
}

// LoginHandler accepts {"email", "password"} and sets the token cookies.
func (t *Transport) LoginHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSON(w, http.StatusMethodNotAllowed, errorBody{Code: "method_not_allowed"})
			return
		}

		var body credentials
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCredentialBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Code: ironauth.ReasonBadRequest.String()})
			return
		}

		ctx := ironauth.WithClientIP(r.Context(), t.clientIP(r))
		pair, id, err := t.engine.Login(ctx, body.Email, body.Password)
		if err != nil {
			t.writeError(w, r, err)
			return
		}

		t.setTokenCookies(w, pair)
		writeJSON(w, http.StatusOK, newIdentityBody(id))
	})
}

// LogoutHandler revokes the refresh cookie and clears both cookies. A
// missing or already invalid refresh token still logs the client out.
func (t *Transport) LogoutHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := refreshToken(r)
		if token != "" {
			ctx := ironauth.WithClientIP(r.Context(), t.clientIP(r))
			err := t.engine.Logout(ctx, token)
			if err != nil && !errors.Is(err, ironauth.ErrInvalidToken) {
				t.writeError(w, r, err)
				return
			}
		}

		t.clearTokenCookies(w)
		w.WriteHeader(http.StatusNoContent)
	})
}
