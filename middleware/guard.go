package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/irontrack/ironauth"
	"github.com/labstack/echo/v4"
)

// Engine is the part of [ironauth.Engine] the transport calls.
type Engine interface {
	Authenticate(ctx context.Context, token string, reqs ...ironauth.Requirement) (*ironauth.Identity, error)
	Login(ctx context.Context, email, password string) (ironauth.TokenPair, *ironauth.Identity, error)
	Refresh(ctx context.Context, refreshToken string) (ironauth.TokenPair, *ironauth.Identity, error)
	Logout(ctx context.Context, refreshToken string) error
}

// Transport binds an engine to HTTP requests: it reads tokens from
// cookies, renders rejections and sets cookies on login and refresh.
type Transport struct {
	engine    Engine
	cookies   ironauth.CookieConfig
	logger    *slog.Logger
	extractIP echo.IPExtractor
	now       func() time.Time
}

// New returns a Transport for engine. logger may be nil.
func New(engine Engine, cookies ironauth.CookieConfig, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Transport{
		engine:    engine,
		cookies:   cookies,
		logger:    logger.With("component", "transport"),
		extractIP: echo.ExtractIPDirect(),
		now:       time.Now,
	}
}

// Authenticate runs the engine's authentication state machine on the
// access token carried by r.
func (t *Transport) Authenticate(r *http.Request, reqs ...ironauth.Requirement) (*ironauth.Identity, error) {
	return t.authenticate(r, reqs)
}

func (t *Transport) authenticate(r *http.Request, reqs []ironauth.Requirement) (*ironauth.Identity, error) {
	if t == nil || t.engine == nil {
		return nil, ironauth.ErrEngineNotReady
	}
	ctx := ironauth.WithClientIP(r.Context(), t.clientIP(r))
	return t.engine.Authenticate(ctx, t.accessToken(r), reqs...)
}

// Guard is net/http middleware that rejects unauthorized requests and
// stores the identity of authorized ones in the request context.
func (t *Transport) Guard(reqs ...ironauth.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := t.Authenticate(r, reqs...)
			if err != nil {
				t.writeError(w, r, err)
				return
			}

			ctx := ironauth.WithIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// EchoGuard is the echo form of [Transport.Guard]. The identity is also
// stored under the echo context key "identity".
func (t *Transport) EchoGuard(reqs ...ironauth.Requirement) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r := c.Request()
			id, err := t.authenticate(r, reqs)
			if err != nil {
				reason := ironauth.ReasonOf(err)
				t.logRejection(r, reason, err)
				return c.JSON(reason.HTTPStatus(), errorBody{Code: reason.String()})
			}

			c.SetRequest(r.WithContext(ironauth.WithIdentity(r.Context(), id)))
			c.Set("identity", id)
			return next(c)
		}
	}
}

type errorBody struct {
	Code string `json:"code"`
}

// writeError renders err as {"code": reason} with the mapped status.
// Causes are logged, never written.
func (t *Transport) writeError(w http.ResponseWriter, r *http.Request, err error) {
	reason := ironauth.ReasonOf(err)
	t.logRejection(r, reason, err)
	writeJSON(w, reason.HTTPStatus(), errorBody{Code: reason.String()})
}

func (t *Transport) logRejection(r *http.Request, reason ironauth.Reason, err error) {
	if reason.HTTPStatus() >= http.StatusInternalServerError {
		t.logger.Warn("request rejected", "path", r.URL.Path, "reason", reason.String(), "error", err)
		return
	}
	t.logger.Debug("request rejected", "path", r.URL.Path, "reason", reason.String())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
