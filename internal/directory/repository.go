package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
)

const uniqueViolation = "23505"

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetByID(ctx context.Context, id string) (User, error) {
	return r.getOne(ctx, "id", `WHERE id = $1`, id)
}

func (r *Repository) GetByUsername(ctx context.Context, username string) (User, error) {
	return r.getOne(ctx, "username", `WHERE username = $1`, strings.TrimSpace(username))
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (User, error) {
	return r.getOne(ctx, "email", `WHERE lower(email) = lower($1)`, strings.TrimSpace(email))
}

func (r *Repository) getOne(ctx context.Context, by, where string, arg string) (User, error) {
	var user User
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, created_at, updated_at
		FROM users
		`+where, arg).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query user by %s: %w", by, err)
	}

	return user, nil
}

func (r *Repository) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists); err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	return exists, nil
}

// Create inserts a user with a bcrypt hash of plainPassword. A clash on
// username or email yields ErrUserExists.
func (r *Repository) Create(ctx context.Context, username, plainPassword, email string) (User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" {
		return User{}, fmt.Errorf("create user: username and email are required")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plainPassword), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := User{
		ID:           id.String(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, user.ID, user.Username, user.Email, user.PasswordHash, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return User{}, ErrUserExists
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	return user, nil
}

// EnsureUser creates the user or, when the username is taken, resets its
// email and password.
func (r *Repository) EnsureUser(ctx context.Context, username, plainPassword, email string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plainPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate uuid v7: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (username)
		DO UPDATE SET
			email = EXCLUDED.email,
			password_hash = EXCLUDED.password_hash,
			updated_at = EXCLUDED.updated_at
	`, id.String(), username, email, string(hash), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}

	return nil
}

// GetMeta returns the raw JSON stored under key, or nil when the user has no
// such entry.
func (r *Repository) GetMeta(ctx context.Context, userID, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT meta_value
		FROM user_meta
		WHERE user_id = $1 AND meta_key = $2
	`, userID, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user meta %s: %w", key, err)
	}

	return value, nil
}

func (r *Repository) UpdateMeta(ctx context.Context, userID, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_meta (user_id, meta_key, meta_value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, meta_key)
		DO UPDATE SET
			meta_value = EXCLUDED.meta_value,
			updated_at = EXCLUDED.updated_at
	`, userID, key, string(value), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert user meta %s: %w", key, err)
	}

	return nil
}

func (r *Repository) DeleteMeta(ctx context.Context, userID, key string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM user_meta
		WHERE user_id = $1 AND meta_key = $2
	`, userID, key)
	if err != nil {
		return fmt.Errorf("delete user meta %s: %w", key, err)
	}

	return nil
}
