package localdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nantokaworks/choice-wheel/internal/shared/logger"
	"github.com/nantokaworks/choice-wheel/internal/types"
	"go.uber.org/zap"
)

const totalSpinsKey = "total_spins"

// SpinHistory はスピン結果の履歴。
type SpinHistory struct {
	ID          int       `json:"id"`
	WheelID     string    `json:"wheel_id"`
	Winner      string    `json:"winner"`
	InitiatedBy string    `json:"initiated_by"`
	SliceCount  int       `json:"slice_count"`
	SlicesJSON  string    `json:"slices_json"`
	SpinTS      int64     `json:"spin_ts"`
	SpunAt      time.Time `json:"spun_at"`
}

// SetupSpinHistoryTables creates spin_history and global_stats tables.
func SetupSpinHistoryTables(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS spin_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			wheel_id TEXT NOT NULL,
			winner TEXT NOT NULL,
			initiated_by TEXT NOT NULL DEFAULT '',
			slice_count INTEGER NOT NULL,
			slices_json TEXT,
			spin_ts INTEGER NOT NULL DEFAULT 0,
			spun_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		logger.Error("Failed to create spin_history table", zap.Error(err))
		return fmt.Errorf("failed to create spin_history table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_spin_history_wheel ON spin_history(wheel_id, spun_at DESC)`); err != nil {
		logger.Warn("Failed to create spin_history index", zap.Error(err))
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS global_stats (
			key TEXT PRIMARY KEY,
			value INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		logger.Error("Failed to create global_stats table", zap.Error(err))
		return fmt.Errorf("failed to create global_stats table: %w", err)
	}

	return nil
}

type execQueryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func recordResolvedSpin(ctx context.Context, q execQueryer, w types.Wheel, initiatedBy, winner string, at time.Time) (int64, error) {
	slicesJSON, err := json.Marshal(nonNil(w.Slices))
	if err != nil {
		return 0, fmt.Errorf("failed to encode slices: %w", err)
	}

	if _, err := q.ExecContext(ctx, `
		INSERT INTO spin_history (wheel_id, winner, initiated_by, slice_count, slices_json, spin_ts, spun_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, w.ID, winner, initiatedBy, len(w.Slices), string(slicesJSON), w.Spin.Timestamp(), at); err != nil {
		return 0, fmt.Errorf("failed to save spin history: %w", err)
	}

	return incrementStat(ctx, q, totalSpinsKey)
}

func incrementStat(ctx context.Context, q execQueryer, key string) (int64, error) {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO global_stats (key, value) VALUES (?, 1)
		ON CONFLICT(key) DO UPDATE SET value = value + 1
	`, key); err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}

	var value int64
	if err := q.QueryRowContext(ctx, `SELECT value FROM global_stats WHERE key = ?`, key).Scan(&value); err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

// GetTotalSpins returns the number of resolved spins across all wheels.
func GetTotalSpins() (int64, error) {
	db := GetDB()
	if db == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var value int64
	err := db.QueryRow(`SELECT value FROM global_stats WHERE key = ?`, totalSpinsKey).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		logger.Error("Failed to get total spins", zap.Error(err))
		return 0, fmt.Errorf("failed to get total spins: %w", err)
	}
	return value, nil
}

// GetSpinHistory returns history for a wheel ordered by latest first.
func GetSpinHistory(wheelID string, limit int) ([]SpinHistory, error) {
	db := GetDB()
	if db == nil {
		return []SpinHistory{}, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT id, wheel_id, winner, initiated_by, slice_count, COALESCE(slices_json, ''), spin_ts, spun_at
		FROM spin_history
		WHERE wheel_id = ?
		ORDER BY spun_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = db.Query(query+" LIMIT ?", wheelID, limit)
	} else {
		rows, err = db.Query(query, wheelID)
	}
	if err != nil {
		logger.Error("Failed to get spin history", zap.Error(err))
		return []SpinHistory{}, fmt.Errorf("failed to get spin history: %w", err)
	}
	defer rows.Close()

	history := []SpinHistory{}
	for rows.Next() {
		var item SpinHistory
		if err := rows.Scan(
			&item.ID,
			&item.WheelID,
			&item.Winner,
			&item.InitiatedBy,
			&item.SliceCount,
			&item.SlicesJSON,
			&item.SpinTS,
			&item.SpunAt,
		); err != nil {
			logger.Error("Failed to scan spin history", zap.Error(err))
			continue
		}
		history = append(history, item)
	}

	if err := rows.Err(); err != nil {
		logger.Error("Error iterating spin history", zap.Error(err))
		return []SpinHistory{}, fmt.Errorf("failed to iterate spin history: %w", err)
	}

	return history, nil
}

// DeleteSpinHistory deletes all history rows of a wheel.
func DeleteSpinHistory(wheelID string) error {
	db := GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	_, err := db.Exec(`DELETE FROM spin_history WHERE wheel_id = ?`, wheelID)
	if err != nil {
		logger.Error("Failed to delete spin history", zap.Error(err), zap.String("wheel_id", wheelID))
		return fmt.Errorf("failed to delete spin history: %w", err)
	}

	return nil
}
