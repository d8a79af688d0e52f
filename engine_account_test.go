package ironauth

import (
	"context"
	"errors"
	"testing"
)

func TestMutationRefusedWhenCacheUnreachable(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := asAdmin(context.Background())

	user := env.register(t, "u@example.com", "Secr3t!")

	env.mr.SetError("LOADING Redis is loading the dataset in memory")
	defer env.mr.SetError("")

	err := env.engine.SetActive(ctx, user.Subject, false)
	if !errors.Is(err, ErrCacheUnavailable) {
		t.Fatalf("expected ErrCacheUnavailable, got %v", err)
	}
	if !env.store.get(user.Subject).Active {
		t.Fatal("storage must not change when the cache cannot be invalidated")
	}
	if ReasonOf(err) != ReasonUnavailable {
		t.Fatalf("expected unavailable, got %s", ReasonOf(err))
	}
	if n := env.engine.MetricsSnapshot().Counters[MetricInvalidationFailure]; n != 1 {
		t.Fatalf("expected invalidation failure counted, got %d", n)
	}
}

func TestMutateIdentityReportsLateInvalidationFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	user := env.register(t, "u@example.com", "Secr3t!")

	wrote := false
	err := env.engine.MutateIdentity(ctx, user.Subject, func(ctx context.Context) error {
		wrote = true
		env.mr.SetError("READONLY You can't write against a read only replica.")
		return nil
	})
	env.mr.SetError("")

	if !wrote {
		t.Fatal("expected write to run")
	}
	if !errors.Is(err, ErrInvalidationFailed) {
		t.Fatalf("expected ErrInvalidationFailed, got %v", err)
	}
}

func TestMutateIdentityPropagatesWriteError(t *testing.T) {
	env := newTestEnv(t, nil)

	boom := errors.New("write failed")
	err := env.engine.MutateIdentity(context.Background(), "u1", func(context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected write error, got %v", err)
	}
}

func TestCriticalActionsAreForbidden(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Auth.SystemAdminEmail = "root@irontrack.dev"
	})
	ctx := context.Background()

	root := env.register(t, "root@irontrack.dev", "Secr3t!")
	user := env.register(t, "u@example.com", "Secr3t!")

	asRoot := WithIdentity(ctx, &Identity{Subject: root.Subject, Superuser: true})
	asUser := WithIdentity(ctx, &Identity{Subject: user.Subject})

	cases := []struct {
		name string
		run  func() error
	}{
		{"deactivate system admin", func() error { return env.engine.SetActive(asAdmin(ctx), root.Subject, false) }},
		{"delete system admin", func() error { return env.engine.DeleteUser(asAdmin(ctx), root.Subject) }},
		{"demote system admin", func() error { return env.engine.RevokeRole(asAdmin(ctx), root.Subject) }},
		{"edit system admin profile", func() error {
			return env.engine.UpdateProfile(asRoot, root.Subject, "Root", "root2@irontrack.dev")
		}},
		{"deactivate self", func() error { return env.engine.SetActive(asUser, user.Subject, false) }},
		{"delete self", func() error { return env.engine.DeleteUser(asUser, user.Subject) }},
		{"promote self", func() error { return env.engine.AssignRole(asUser, user.Subject, "superuser") }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.run()
			if !errors.Is(err, ErrCriticalAction) {
				t.Fatalf("expected ErrCriticalAction, got %v", err)
			}
			requireReason(t, err, ReasonForbidden)
		})
	}

	if !env.store.get(root.Subject).Active || !env.store.get(user.Subject).Active {
		t.Fatal("forbidden actions must not change storage")
	}

	if err := env.engine.UpdateProfile(asUser, user.Subject, "New Name", "new@example.com"); err != nil {
		t.Fatalf("users may edit their own profile: %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	user := env.register(t, "u@example.com", "Secr3t!")
	old := env.login(t, "u@example.com", "Secr3t!")

	err := env.engine.ChangePassword(ctx, user.Subject, "wrong-pass", "N3wSecret!")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	err = env.engine.ChangePassword(ctx, user.Subject, "Secr3t!", "Secr3t!")
	if !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("expected ErrPasswordReuse, got %v", err)
	}

	err = env.engine.ChangePassword(ctx, user.Subject, "Secr3t!", "abc")
	if !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}

	if err := env.engine.ChangePassword(ctx, user.Subject, "Secr3t!", "N3wSecret!"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	_, _, err = env.engine.Refresh(ctx, old.RefreshToken)
	requireReason(t, err, ReasonRevokedToken)

	if _, _, err := env.engine.Login(ctx, "u@example.com", "Secr3t!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still accepted: %v", err)
	}
	fresh := env.login(t, "u@example.com", "N3wSecret!")
	if _, _, err := env.engine.Refresh(ctx, fresh.RefreshToken); err != nil {
		t.Fatalf("refresh after password change rejected: %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricPasswordChangeSuccess] != 1 || snap.Counters[MetricPasswordChangeInvalidOld] != 1 {
		t.Fatalf("unexpected password metrics: %+v", snap.Counters)
	}
}

func TestDeleteUserRejectsOutstandingTokens(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	user := env.register(t, "u@example.com", "Secr3t!")
	pair := env.login(t, "u@example.com", "Secr3t!")

	if _, err := env.engine.Authenticate(ctx, pair.AccessToken); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	if err := env.engine.DeleteUser(asAdmin(ctx), user.Subject); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}

	_, err := env.engine.Authenticate(ctx, pair.AccessToken)
	requireReason(t, err, ReasonUnknownSubject)

	_, _, err = env.engine.Refresh(ctx, pair.RefreshToken)
	requireReason(t, err, ReasonRevokedToken)

	err = env.engine.SetActive(asAdmin(ctx), user.Subject, true)
	requireReason(t, err, ReasonUnknownSubject)
}

func TestUpdateProfileRefreshesCachedIdentity(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	user := env.register(t, "u@example.com", "Secr3t!")
	env.register(t, "taken@example.com", "Secr3t!")
	pair := env.login(t, "u@example.com", "Secr3t!")

	if _, err := env.engine.Authenticate(ctx, pair.AccessToken); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	if err := env.engine.UpdateProfile(ctx, user.Subject, "Lifter", "Lifter@Example.com"); err != nil {
		t.Fatalf("UpdateProfile failed: %v", err)
	}
	got, err := env.engine.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if got.Name != "Lifter" || got.Email != "lifter@example.com" {
		t.Fatalf("expected updated profile, got %+v", got)
	}

	err = env.engine.UpdateProfile(ctx, user.Subject, "Lifter", "taken@example.com")
	if !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}

	if err := env.engine.UpdateProfile(ctx, user.Subject, "x", "nope"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
}

func TestAssignRoleRejectsEmptyRole(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.register(t, "u@example.com", "Secr3t!")

	err := env.engine.AssignRole(asAdmin(context.Background()), user.Subject, "  ")
	if !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	requireReason(t, err, ReasonBadRequest)
}

func TestUserReturnsInactiveAccounts(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := asAdmin(context.Background())

	user := env.register(t, "u@example.com", "Secr3t!")

	got, err := env.engine.User(ctx, user.Subject)
	if err != nil {
		t.Fatalf("User failed: %v", err)
	}
	if got.Email != "u@example.com" || !got.Active {
		t.Fatalf("unexpected identity %+v", got)
	}

	if err := env.engine.SetActive(ctx, user.Subject, false); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}
	got, err = env.engine.User(ctx, user.Subject)
	if err != nil {
		t.Fatalf("User after deactivation failed: %v", err)
	}
	if got.Active {
		t.Fatal("expected the deactivated account to be reported inactive")
	}

	_, err = env.engine.User(ctx, "missing")
	if !errors.Is(err, ErrUnknownSubject) || ReasonOf(err) != ReasonUnknownSubject {
		t.Fatalf("expected unknown subject, got %v", err)
	}
}
