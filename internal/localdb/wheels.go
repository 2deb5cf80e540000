package localdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nantokaworks/choice-wheel/internal/docstore"
	"github.com/nantokaworks/choice-wheel/internal/shared/logger"
	"github.com/nantokaworks/choice-wheel/internal/types"
	"go.uber.org/zap"
)

// SetupWheelTables creates wheels and wheel_participants tables.
func SetupWheelTables(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS wheels (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			owner TEXT NOT NULL,
			visibility TEXT NOT NULL DEFAULT 'private',
			slices_json TEXT NOT NULL DEFAULT '[]',
			is_spinning BOOLEAN NOT NULL DEFAULT false,
			initiated_by TEXT NOT NULL DEFAULT '',
			has_current_spin BOOLEAN NOT NULL DEFAULT false,
			current_winner TEXT,
			current_ts INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		logger.Error("Failed to create wheels table", zap.Error(err))
		return fmt.Errorf("failed to create wheels table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS wheel_participants (
			wheel_id TEXT NOT NULL,
			email TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'viewer',
			position INTEGER NOT NULL,
			PRIMARY KEY (wheel_id, email),
			FOREIGN KEY (wheel_id) REFERENCES wheels(id) ON DELETE CASCADE
		)
	`); err != nil {
		logger.Error("Failed to create wheel_participants table", zap.Error(err))
		return fmt.Errorf("failed to create wheel_participants table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_wheels_owner ON wheels(owner)`); err != nil {
		logger.Warn("Failed to create wheels owner index", zap.Error(err))
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_wheel_participants_email ON wheel_participants(email)`); err != nil {
		logger.Warn("Failed to create wheel_participants email index", zap.Error(err))
	}

	return nil
}

// ResolvedSpin describes a spin that was just resolved by a committed write.
type ResolvedSpin struct {
	Wheel      types.Wheel
	Winner     string
	TotalSpins int64
}

// WheelStore is the sqlite docstore.Store. Resolving a spin also appends the
// history row and bumps the global counter in the same transaction.
type WheelStore struct {
	db         *sql.DB
	notifier   *docstore.Notifier
	now        func() time.Time
	onResolved func(ResolvedSpin)
}

func NewWheelStore(db *sql.DB) *WheelStore {
	return &WheelStore{db: db, notifier: docstore.NewNotifier(), now: time.Now}
}

// OnResolved registers a hook called after a resolving write commits.
func (s *WheelStore) OnResolved(fn func(ResolvedSpin)) {
	s.onResolved = fn
}

func (s *WheelStore) Notifier() *docstore.Notifier {
	return s.notifier
}

// Create inserts a new wheel. ID is generated when empty.
func (s *WheelStore) Create(ctx context.Context, w types.Wheel) (types.Wheel, error) {
	if w.ID == "" {
		id, err := gonanoid.New(12)
		if err != nil {
			return types.Wheel{}, fmt.Errorf("failed to generate wheel id: %w", err)
		}
		w.ID = id
	}
	if w.Visibility == "" {
		w.Visibility = types.VisibilityPrivate
	}
	w.Participants = types.NormalizeParticipants(w.Participants)

	now := s.now()
	w.Version = 1
	w.CreatedAt = now
	w.UpdatedAt = now

	slicesJSON, err := json.Marshal(nonNil(w.Slices))
	if err != nil {
		return types.Wheel{}, fmt.Errorf("failed to encode slices: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO wheels (id, title, owner, visibility, slices_json, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		`, w.ID, w.Title, w.Owner, string(w.Visibility), string(slicesJSON), now, now); err != nil {
			return err
		}
		return replaceParticipants(ctx, tx, w.ID, w.Participants)
	})
	if err != nil {
		logger.Error("Failed to create wheel", zap.Error(err), zap.String("wheel_id", w.ID))
		return types.Wheel{}, fmt.Errorf("failed to create wheel: %w", err)
	}

	logger.Info("Wheel created", zap.String("wheel_id", w.ID), zap.String("owner", w.Owner))
	return w, nil
}

func (s *WheelStore) Get(ctx context.Context, id string) (types.Wheel, error) {
	return getWheel(ctx, s.db, id)
}

func (s *WheelStore) CompareAndSwap(ctx context.Context, id string, expectedVersion int64, next types.Wheel) (types.Wheel, error) {
	var (
		stored   types.Wheel
		resolved *ResolvedSpin
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := getWheel(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur.Version != expectedVersion {
			return docstore.ErrConflict
		}

		next.ID = cur.ID
		next.Owner = cur.Owner
		next.CreatedAt = cur.CreatedAt
		next.Participants = types.NormalizeParticipants(next.Participants)
		if err := s.writeWheel(ctx, tx, cur.Version, next); err != nil {
			return err
		}

		stored, err = getWheel(ctx, tx, id)
		if err != nil {
			return err
		}

		if winner, ok := resolvedWinner(cur, stored); ok {
			total, err := recordResolvedSpin(ctx, tx, stored, cur.Spin.InitiatedBy, winner, s.now())
			if err != nil {
				return err
			}
			resolved = &ResolvedSpin{Wheel: stored, Winner: winner, TotalSpins: total}
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, docstore.ErrConflict) && !errors.Is(err, docstore.ErrNotFound) {
			logger.Error("Failed to write wheel", zap.Error(err), zap.String("wheel_id", id))
		}
		return types.Wheel{}, err
	}

	s.notifier.Notify(id)
	if resolved != nil && s.onResolved != nil {
		s.onResolved(*resolved)
	}
	return stored, nil
}

func (s *WheelStore) Update(ctx context.Context, id string, fields docstore.Fields) (types.Wheel, error) {
	var stored types.Wheel
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := getWheel(ctx, tx, id)
		if err != nil {
			return err
		}
		fields.Apply(&cur)
		if err := s.writeWheel(ctx, tx, cur.Version, cur); err != nil {
			return err
		}
		stored, err = getWheel(ctx, tx, id)
		return err
	})
	if err != nil {
		if !errors.Is(err, docstore.ErrNotFound) {
			logger.Error("Failed to update wheel", zap.Error(err), zap.String("wheel_id", id))
		}
		return types.Wheel{}, err
	}

	s.notifier.Notify(id)
	return stored, nil
}

func (s *WheelStore) Subscribe(ctx context.Context, id string, onChange func(types.Wheel), onError func(error)) (func(), error) {
	return docstore.Watch(ctx, s, s.notifier, id, onChange, onError)
}

// Delete removes a wheel and its participants.
func (s *WheelStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM wheels WHERE id = ?`, id)
	if err != nil {
		logger.Error("Failed to delete wheel", zap.Error(err), zap.String("wheel_id", id))
		return fmt.Errorf("failed to delete wheel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return docstore.ErrNotFound
	}
	s.notifier.Notify(id)
	return nil
}

// ListForUser returns wheels owned by or shared with user, newest first.
func (s *WheelStore) ListForUser(ctx context.Context, user types.User) ([]types.Wheel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM wheels
		WHERE owner = ?
		   OR id IN (SELECT wheel_id FROM wheel_participants WHERE email = ?)
		ORDER BY updated_at DESC, id
	`, user.ID, types.NormalizeEmail(user.Email))
	if err != nil {
		logger.Error("Failed to list wheels", zap.Error(err))
		return []types.Wheel{}, fmt.Errorf("failed to list wheels: %w", err)
	}

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			logger.Error("Failed to scan wheel id", zap.Error(err))
			continue
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return []types.Wheel{}, fmt.Errorf("failed to iterate wheels: %w", err)
	}

	wheels := make([]types.Wheel, 0, len(ids))
	for _, id := range ids {
		w, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				continue
			}
			return []types.Wheel{}, err
		}
		wheels = append(wheels, w)
	}
	return wheels, nil
}

// ListIDs returns the ids of every wheel.
func (s *WheelStore) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM wheels ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list wheel ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func getWheel(ctx context.Context, q queryer, id string) (types.Wheel, error) {
	var (
		w              types.Wheel
		visibility     string
		slicesJSON     string
		hasCurrentSpin bool
		currentWinner  sql.NullString
		currentTS      int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, title, owner, visibility, slices_json, is_spinning, initiated_by,
			has_current_spin, current_winner, current_ts, version, created_at, updated_at
		FROM wheels WHERE id = ?
	`, id).Scan(
		&w.ID,
		&w.Title,
		&w.Owner,
		&visibility,
		&slicesJSON,
		&w.Spin.IsSpinning,
		&w.Spin.InitiatedBy,
		&hasCurrentSpin,
		&currentWinner,
		&currentTS,
		&w.Version,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return types.Wheel{}, docstore.ErrNotFound
	}
	if err != nil {
		return types.Wheel{}, fmt.Errorf("failed to get wheel: %w", err)
	}

	w.Visibility = types.Visibility(visibility)
	if err := json.Unmarshal([]byte(slicesJSON), &w.Slices); err != nil {
		return types.Wheel{}, fmt.Errorf("failed to decode slices: %w", err)
	}
	if hasCurrentSpin {
		cs := &types.CurrentSpin{Timestamp: currentTS}
		if currentWinner.Valid {
			winner := currentWinner.String
			cs.Winner = &winner
		}
		w.Spin.CurrentSpin = cs
	}

	rows, err := q.QueryContext(ctx, `
		SELECT email, role FROM wheel_participants WHERE wheel_id = ? ORDER BY position
	`, id)
	if err != nil {
		return types.Wheel{}, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	w.Participants = []types.Participant{}
	for rows.Next() {
		var p types.Participant
		var role string
		if err := rows.Scan(&p.Email, &role); err != nil {
			return types.Wheel{}, fmt.Errorf("failed to scan participant: %w", err)
		}
		p.Role = types.Role(role)
		w.Participants = append(w.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return types.Wheel{}, fmt.Errorf("failed to iterate participants: %w", err)
	}

	return w, nil
}

func (s *WheelStore) writeWheel(ctx context.Context, tx *sql.Tx, expectedVersion int64, w types.Wheel) error {
	slicesJSON, err := json.Marshal(nonNil(w.Slices))
	if err != nil {
		return fmt.Errorf("failed to encode slices: %w", err)
	}

	var (
		hasCurrentSpin bool
		currentWinner  sql.NullString
		currentTS      int64
	)
	if cs := w.Spin.CurrentSpin; cs != nil {
		hasCurrentSpin = true
		currentTS = cs.Timestamp
		if cs.Winner != nil {
			currentWinner = sql.NullString{String: *cs.Winner, Valid: true}
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE wheels SET
			title = ?,
			visibility = ?,
			slices_json = ?,
			is_spinning = ?,
			initiated_by = ?,
			has_current_spin = ?,
			current_winner = ?,
			current_ts = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?
	`,
		w.Title,
		string(w.Visibility),
		string(slicesJSON),
		w.Spin.IsSpinning,
		w.Spin.InitiatedBy,
		hasCurrentSpin,
		currentWinner,
		currentTS,
		s.now(),
		w.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update wheel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return docstore.ErrConflict
	}

	return replaceParticipants(ctx, tx, w.ID, w.Participants)
}

func replaceParticipants(ctx context.Context, tx *sql.Tx, wheelID string, participants []types.Participant) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM wheel_participants WHERE wheel_id = ?`, wheelID); err != nil {
		return fmt.Errorf("failed to clear participants: %w", err)
	}
	for i, p := range participants {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO wheel_participants (wheel_id, email, role, position) VALUES (?, ?, ?, ?)
		`, wheelID, p.Email, string(p.Role), i); err != nil {
			return fmt.Errorf("failed to insert participant: %w", err)
		}
	}
	return nil
}

func (s *WheelStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// resolvedWinner reports whether the write from prev to next resolved a spin.
func resolvedWinner(prev, next types.Wheel) (string, bool) {
	if !prev.Spin.IsSpinning {
		return "", false
	}
	r, ok := next.Spin.Phase().(types.Resolved)
	if !ok {
		return "", false
	}
	return r.Winner, true
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
