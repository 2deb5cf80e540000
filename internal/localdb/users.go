package localdb

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nantokaworks/choice-wheel/internal/shared/logger"
	"github.com/nantokaworks/choice-wheel/internal/types"
	"go.uber.org/zap"
)

const tokenLength = 32

var ErrUserNotFound = errors.New("user not found")

// SetupUserTables creates users and api_tokens tables.
func SetupUserTables(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			display_name TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		logger.Error("Failed to create users table", zap.Error(err))
		return fmt.Errorf("failed to create users table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS api_tokens (
			token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)
	`); err != nil {
		logger.Error("Failed to create api_tokens table", zap.Error(err))
		return fmt.Errorf("failed to create api_tokens table: %w", err)
	}

	return nil
}

// EnsureUser はメールアドレスでユーザーを取得し、なければ作成する。
func EnsureUser(email, displayName string) (types.User, error) {
	db := GetDB()
	if db == nil {
		return types.User{}, fmt.Errorf("database not initialized")
	}

	email = types.NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return types.User{}, fmt.Errorf("invalid email: %q", email)
	}

	if user, err := GetUserByEmail(email); err == nil {
		return user, nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return types.User{}, err
	}

	id, err := gonanoid.New()
	if err != nil {
		return types.User{}, fmt.Errorf("failed to generate user id: %w", err)
	}

	_, err = db.Exec(`INSERT INTO users (id, email, display_name, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(email) DO NOTHING`, id, email, displayName, time.Now())
	if err != nil {
		logger.Error("Failed to create user", zap.Error(err), zap.String("email", email))
		return types.User{}, fmt.Errorf("failed to create user: %w", err)
	}

	return GetUserByEmail(email)
}

func GetUserByEmail(email string) (types.User, error) {
	db := GetDB()
	if db == nil {
		return types.User{}, fmt.Errorf("database not initialized")
	}

	var user types.User
	err := db.QueryRow(`SELECT id, email, COALESCE(display_name, '') FROM users WHERE email = ?`,
		types.NormalizeEmail(email)).Scan(&user.ID, &user.Email, &user.DisplayName)
	if err == sql.ErrNoRows {
		return types.User{}, ErrUserNotFound
	}
	if err != nil {
		return types.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// IssueToken creates a new API token for userID.
func IssueToken(userID string) (string, error) {
	db := GetDB()
	if db == nil {
		return "", fmt.Errorf("database not initialized")
	}

	token, err := gonanoid.New(tokenLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	if _, err := db.Exec(`INSERT INTO api_tokens (token, user_id, created_at) VALUES (?, ?, ?)`,
		token, userID, time.Now()); err != nil {
		logger.Error("Failed to save token", zap.Error(err), zap.String("user_id", userID))
		return "", fmt.Errorf("failed to save token: %w", err)
	}
	return token, nil
}

// GetUserByToken resolves a bearer token.
func GetUserByToken(token string) (types.User, error) {
	db := GetDB()
	if db == nil {
		return types.User{}, fmt.Errorf("database not initialized")
	}

	var user types.User
	err := db.QueryRow(`
		SELECT u.id, u.email, COALESCE(u.display_name, '')
		FROM api_tokens t JOIN users u ON u.id = t.user_id
		WHERE t.token = ?
	`, token).Scan(&user.ID, &user.Email, &user.DisplayName)
	if err == sql.ErrNoRows {
		return types.User{}, ErrUserNotFound
	}
	if err != nil {
		return types.User{}, fmt.Errorf("failed to get user by token: %w", err)
	}
	return user, nil
}

// RevokeToken deletes one token.
func RevokeToken(token string) error {
	db := GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}
	if _, err := db.Exec(`DELETE FROM api_tokens WHERE token = ?`, token); err != nil {
		logger.Error("Failed to revoke token", zap.Error(err))
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}
