package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/irontrack/ironauth/identity"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

const (
	pgUniqueViolation  = "23505"
	pgNotNullViolation = "23502"
)

const selectUser = `
SELECT u.id::text, u.email, coalesce(u.name, ''), u.password, r.slug,
       u.is_active, u.is_superuser, u.version, u.updated_at, u.joined_at
FROM user_account u
JOIN role r ON r.id = u.role_id`

// Store reads and writes user accounts in the user_account and role
// tables. It implements identity.UserStore.
type Store struct {
	db  DB
	now func() time.Time
}

// New returns a Store on db.
func New(db DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) FindUserByID(ctx context.Context, id string) (identity.Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return identity.Record{}, identity.ErrNotFound
	}
	return s.findOne(ctx, selectUser+` WHERE u.id = $1`, id)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (identity.Record, error) {
	return s.findOne(ctx, selectUser+` WHERE u.email = $1`, email)
}

func (s *Store) findOne(ctx context.Context, query string, arg string) (identity.Record, error) {
	var (
		rec     identity.Record
		version int32
	)
	err := s.db.QueryRow(ctx, query, arg).Scan(
		&rec.ID, &rec.Email, &rec.Name, &rec.PasswordHash, &rec.Role,
		&rec.Active, &rec.Superuser, &version, &rec.UpdatedAt, &rec.JoinedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return identity.Record{}, identity.ErrNotFound
		}
		return identity.Record{}, fmt.Errorf("select user: %w", err)
	}
	rec.Version = uint32(version)
	return rec, nil
}

// CreateUser inserts rec with a fresh UUIDv7 id. rec.Role is a role slug.
func (s *Store) CreateUser(ctx context.Context, rec identity.Record) (identity.Record, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return identity.Record{}, fmt.Errorf("generate user id: %w", err)
	}
	if rec.JoinedAt.IsZero() {
		rec.JoinedAt = s.now()
	}

	var name *string
	if rec.Name != "" {
		name = &rec.Name
	}

	var version int32
	err = s.db.QueryRow(ctx, `
INSERT INTO user_account (id, email, name, password, is_active, is_superuser, joined_at, role_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, (SELECT id FROM role WHERE slug = $8))
RETURNING version, updated_at`,
		id, rec.Email, name, rec.PasswordHash, rec.Active, rec.Superuser, rec.JoinedAt, rec.Role,
	).Scan(&version, &rec.UpdatedAt)
	if err != nil {
		return identity.Record{}, classify("insert user", err)
	}

	rec.ID = id.String()
	rec.Version = uint32(version)
	return rec, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return s.update(ctx, "update password", `
UPDATE user_account SET password = $2, version = version + 1, updated_at = now()
WHERE id = $1`, id, hash)
}

func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	return s.update(ctx, "update active flag", `
UPDATE user_account SET is_active = $2, version = version + 1, updated_at = now()
WHERE id = $1`, id, active)
}

func (s *Store) SetRole(ctx context.Context, id, role string) error {
	return s.update(ctx, "update role", `
UPDATE user_account SET role_id = (SELECT id FROM role WHERE slug = $2),
       version = version + 1, updated_at = now()
WHERE id = $1`, id, role)
}

func (s *Store) UpdateProfile(ctx context.Context, id, name, email string) error {
	var n *string
	if name != "" {
		n = &name
	}
	return s.update(ctx, "update profile", `
UPDATE user_account SET name = $2, email = $3, version = version + 1, updated_at = now()
WHERE id = $1`, id, n, email)
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.update(ctx, "delete user", `DELETE FROM user_account WHERE id = $1`, id)
}

func (s *Store) update(ctx context.Context, op, query, id string, args ...any) error {
	if _, err := uuid.Parse(id); err != nil {
		return identity.ErrNotFound
	}
	tag, err := s.db.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return classify(op, err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrNotFound
	}
	return nil
}

// Roles lists the role slugs known to the database.
func (s *Store) Roles(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT slug FROM role ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("select roles: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return identity.ErrDuplicateEmail
		case pgNotNullViolation:
			if pgErr.ColumnName == "role_id" {
				return identity.ErrUnknownRole
			}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ identity.UserStore = (*Store)(nil)
