package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/convo/internal/logger"
	"github.com/convo/internal/model"
)

var ErrNotFound = errors.New("not found")

const userCols = `id, username, email, password_hash, profile_photo, is_assistant, is_online, last_seen_at, created_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// scanUser scans one row into model.User (column order matches userCols).
func scanUser(s interface{ Scan(dest ...any) error }, u *model.User) error {
	return s.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.ProfilePhoto, &u.IsAssistant, &u.IsOnline, &u.LastSeenAt, &u.CreatedAt)
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, username, email, password_hash, profile_photo, is_assistant, is_online, last_seen_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.ProfilePhoto, u.IsAssistant, u.IsOnline, u.LastSeenAt, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("userRepo.Create: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByEmail", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE email = $1`, email)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByEmail: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByUsername", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE username = $1`, username)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByUsername: %w", err)
	}
	return u, nil
}

func (r *UserRepository) ListAll(ctx context.Context, limit int) ([]model.User, error) {
	defer logger.DeferLogDuration("user.ListAll", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+userCols+` FROM users ORDER BY username LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("userRepo.ListAll: %w", err)
	}
	defer rows.Close()
	users := make([]model.User, 0, limit)
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("userRepo.ListAll scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.ListAll rows: %w", err)
	}
	return users, nil
}

// SetOnline updates the durable presence projection. lastSeen is only
// meaningful when going offline; going online clears it.
func (r *UserRepository) SetOnline(ctx context.Context, userID string, online bool, lastSeen *time.Time) error {
	defer logger.DeferLogDuration("user.SetOnline", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET is_online = $1, last_seen_at = $2 WHERE id = $3`,
		online, lastSeen, userID,
	)
	if err != nil {
		return fmt.Errorf("userRepo.SetOnline: %w", err)
	}
	return nil
}

// ResetOnline marks every user offline. Run at startup so presence does not
// leak across restarts.
func (r *UserRepository) ResetOnline(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET is_online = false`)
	if err != nil {
		return fmt.Errorf("userRepo.ResetOnline: %w", err)
	}
	return nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, userID, username, profilePhoto string) error {
	defer logger.DeferLogDuration("user.UpdateProfile", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET username = $1, profile_photo = $2 WHERE id = $3`,
		username, profilePhoto, userID,
	)
	if err != nil {
		return fmt.Errorf("userRepo.UpdateProfile: %w", err)
	}
	return nil
}

// EnsureAssistant returns the AI companion user, creating it on first use.
func (r *UserRepository) EnsureAssistant(ctx context.Context, username, email string) (*model.User, error) {
	defer logger.DeferLogDuration("user.EnsureAssistant", time.Now())()
	u, err := r.GetByEmail(ctx, email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	u = &model.User{
		ID:          uuid.New().String(),
		Username:    username,
		Email:       email,
		IsAssistant: true,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.Create(ctx, u); err != nil {
		// Concurrent creation: another process may have inserted it first.
		if existing, getErr := r.GetByEmail(ctx, email); getErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return u, nil
}
