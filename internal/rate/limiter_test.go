package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return New(client, cfg), mr
}

func TestLoginThrottle(t *testing.T) {
	l, mr := newTestLimiter(t, Config{
		MaxLoginAttempts:      3,
		LoginCooldownDuration: time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.CheckLogin(ctx, "U@Example.com", ""); err != nil {
			t.Fatalf("attempt %d: unexpected throttle: %v", i, err)
		}
		_ = l.IncrementLogin(ctx, "u@example.com", "")
	}

	if err := l.CheckLogin(ctx, "u@example.com", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if n, _ := l.LoginAttempts(ctx, "u@example.com"); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}

	mr.FastForward(2 * time.Minute)
	if err := l.CheckLogin(ctx, "u@example.com", ""); err != nil {
		t.Fatalf("expected window to reset, got %v", err)
	}
}

func TestResetLoginKeepsIPCounter(t *testing.T) {
	l, mr := newTestLimiter(t, Config{
		EnableIPThrottle:      true,
		MaxLoginAttempts:      5,
		LoginCooldownDuration: time.Minute,
	})
	ctx := context.Background()

	_ = l.IncrementLogin(ctx, "u@example.com", "10.0.0.1")
	if err := l.ResetLogin(ctx, "u@example.com"); err != nil {
		t.Fatalf("ResetLogin failed: %v", err)
	}

	if mr.Exists("rl:login:u@example.com") {
		t.Fatal("expected email counter cleared")
	}
	if !mr.Exists("rl:login_ip:10.0.0.1") {
		t.Fatal("expected IP counter kept")
	}
	if ttl := mr.TTL("rl:login_ip:10.0.0.1"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected IP counter TTL %v", ttl)
	}
}

func TestRefreshThrottle(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		EnableRefreshThrottle:   true,
		MaxRefreshAttempts:      2,
		RefreshCooldownDuration: time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.CheckRefresh(ctx, "user-1"); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}
	if err := l.CheckRefresh(ctx, "user-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.CheckRefresh(ctx, "user-2"); err != nil {
		t.Fatalf("other subject throttled: %v", err)
	}
}

func TestRedisOutage(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxLoginAttempts: 3, LoginCooldownDuration: time.Minute})
	mr.Close()

	if err := l.CheckLogin(context.Background(), "u@example.com", ""); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
