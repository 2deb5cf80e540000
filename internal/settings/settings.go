package settings

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nantokaworks/choice-wheel/internal/shared/logger"
	"go.uber.org/zap"
)

type SettingType string

const (
	SettingTypeNormal SettingType = "normal"
	SettingTypeSpin   SettingType = "spin"
)

const (
	KeySpinDurationMS         = "SPIN_DURATION_MS"
	KeySpinTickIntervalMS     = "SPIN_TICK_INTERVAL_MS"
	KeySpinExtraTurns         = "SPIN_EXTRA_TURNS"
	KeySpinCompleteCooldownMS = "SPIN_COMPLETE_COOLDOWN_MS"
	KeyHistoryLimit           = "HISTORY_LIMIT"
)

type Setting struct {
	Key         string      `json:"key"`
	Value       string      `json:"value"`
	Type        SettingType `json:"type"`
	Required    bool        `json:"required"`
	Description string      `json:"description"`
	UpdatedAt   time.Time   `json:"updated_at"`
	HasValue    bool        `json:"has_value"`
}

type SettingsManager struct {
	db *sql.DB
}

func NewSettingsManager(db *sql.DB) *SettingsManager {
	return &SettingsManager{db: db}
}

var defaultsMu sync.RWMutex

// 設定の定義
var DefaultSettings = map[string]Setting{
	KeySpinDurationMS: {
		Key: KeySpinDurationMS, Value: "4200", Type: SettingTypeSpin,
		Description: "Spin animation length in milliseconds",
	},
	KeySpinTickIntervalMS: {
		Key: KeySpinTickIntervalMS, Value: "120", Type: SettingTypeSpin,
		Description: "Tick sound interval in milliseconds",
	},
	KeySpinExtraTurns: {
		Key: KeySpinExtraTurns, Value: "6", Type: SettingTypeSpin,
		Description: "Full turns added before the wheel stops",
	},
	KeySpinCompleteCooldownMS: {
		Key: KeySpinCompleteCooldownMS, Value: "2000", Type: SettingTypeSpin,
		Description: "Window in which a repeated spin result report is ignored",
	},
	KeyHistoryLimit: {
		Key: KeyHistoryLimit, Value: "50", Type: SettingTypeNormal,
		Description: "Number of history rows returned by default",
	},
}

// SpinTiming はクライアント間で共有するスピンのタイミング。
type SpinTiming struct {
	Duration         time.Duration `json:"-"`
	TickInterval     time.Duration `json:"-"`
	ExtraTurns       int           `json:"extra_turns"`
	CompleteCooldown time.Duration `json:"-"`

	DurationMS         int64 `json:"duration_ms"`
	TickIntervalMS     int64 `json:"tick_interval_ms"`
	CompleteCooldownMS int64 `json:"complete_cooldown_ms"`
}

// NewSpinTiming fills both the duration and the millisecond fields.
func NewSpinTiming(duration, tick time.Duration, extraTurns int, cooldown time.Duration) SpinTiming {
	return SpinTiming{
		Duration:           duration,
		TickInterval:       tick,
		ExtraTurns:         extraTurns,
		CompleteCooldown:   cooldown,
		DurationMS:         duration.Milliseconds(),
		TickIntervalMS:     tick.Milliseconds(),
		CompleteCooldownMS: cooldown.Milliseconds(),
	}
}

// FromMillis rebuilds the duration fields after JSON decoding.
func (t SpinTiming) FromMillis() SpinTiming {
	return NewSpinTiming(
		time.Duration(t.DurationMS)*time.Millisecond,
		time.Duration(t.TickIntervalMS)*time.Millisecond,
		t.ExtraTurns,
		time.Duration(t.CompleteCooldownMS)*time.Millisecond,
	)
}

// ApplyDefaults は起動時の環境変数で既定値を上書きする。DB に保存済みの値は優先される。
func ApplyDefaults(t SpinTiming) {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	set := func(key, value string) {
		s := DefaultSettings[key]
		s.Value = value
		DefaultSettings[key] = s
	}
	if t.Duration > 0 {
		set(KeySpinDurationMS, strconv.FormatInt(t.Duration.Milliseconds(), 10))
	}
	if t.TickInterval > 0 {
		set(KeySpinTickIntervalMS, strconv.FormatInt(t.TickInterval.Milliseconds(), 10))
	}
	if t.ExtraTurns >= 0 {
		set(KeySpinExtraTurns, strconv.Itoa(t.ExtraTurns))
	}
	if t.CompleteCooldown > 0 {
		set(KeySpinCompleteCooldownMS, strconv.FormatInt(t.CompleteCooldown.Milliseconds(), 10))
	}
}

func defaultSetting(key string) (Setting, bool) {
	defaultsMu.RLock()
	defer defaultsMu.RUnlock()
	s, ok := DefaultSettings[key]
	return s, ok
}

// CRUD操作
func (sm *SettingsManager) GetSetting(key string) (string, error) {
	var value string
	err := sm.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		// デフォルト値を返す
		if d, exists := defaultSetting(key); exists {
			return d.Value, nil
		}
		return "", fmt.Errorf("setting not found: %s", key)
	}
	return value, err
}

func (sm *SettingsManager) SetSetting(key, value string) error {
	d, exists := defaultSetting(key)
	if !exists {
		return fmt.Errorf("unknown setting key: %s", key)
	}
	if err := ValidateSetting(key, value); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	_, err := sm.db.Exec(`
		INSERT INTO settings (key, value, setting_type, is_required, description)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`,
		key, value,
		string(d.Type),
		d.Required,
		d.Description,
	)
	return err
}

func (sm *SettingsManager) GetAllSettings() ([]Setting, error) {
	rows, err := sm.db.Query(`
		SELECT key, value, setting_type, is_required, description, updated_at
		FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[string]Setting)
	for rows.Next() {
		var s Setting
		var settingType string
		var description sql.NullString
		if err := rows.Scan(&s.Key, &s.Value, &settingType, &s.Required, &description, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Type = SettingType(settingType)
		s.Description = description.String
		s.HasValue = s.Value != ""
		found[s.Key] = s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// DBにない設定はデフォルト値で補完
	defaultsMu.RLock()
	for key, d := range DefaultSettings {
		if _, exists := found[key]; !exists {
			found[key] = d
		}
	}
	defaultsMu.RUnlock()

	all := make([]Setting, 0, len(found))
	for _, s := range found {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Key < all[j].Key })
	return all, nil
}

func (sm *SettingsManager) getInt(key string) (int64, error) {
	raw, err := sm.GetSetting(key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("setting %s is not an integer: %w", key, err)
	}
	return v, nil
}

// SpinTiming reads the current spin timing.
func (sm *SettingsManager) SpinTiming() (SpinTiming, error) {
	duration, err := sm.getInt(KeySpinDurationMS)
	if err != nil {
		return SpinTiming{}, err
	}
	tick, err := sm.getInt(KeySpinTickIntervalMS)
	if err != nil {
		return SpinTiming{}, err
	}
	turns, err := sm.getInt(KeySpinExtraTurns)
	if err != nil {
		return SpinTiming{}, err
	}
	cooldown, err := sm.getInt(KeySpinCompleteCooldownMS)
	if err != nil {
		return SpinTiming{}, err
	}
	return NewSpinTiming(
		time.Duration(duration)*time.Millisecond,
		time.Duration(tick)*time.Millisecond,
		int(turns),
		time.Duration(cooldown)*time.Millisecond,
	), nil
}

// HistoryLimit returns the default history page size.
func (sm *SettingsManager) HistoryLimit() int {
	v, err := sm.getInt(KeyHistoryLimit)
	if err != nil || v <= 0 {
		return 50
	}
	return int(v)
}

// バリデーション
func ValidateSetting(key, value string) error {
	intRange := func(min, max int64) error {
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil || v < min || v > max {
			return fmt.Errorf("must be integer between %d and %d", min, max)
		}
		return nil
	}

	switch key {
	case KeySpinDurationMS:
		return intRange(500, 60000)
	case KeySpinTickIntervalMS:
		return intRange(10, 5000)
	case KeySpinExtraTurns:
		return intRange(0, 50)
	case KeySpinCompleteCooldownMS:
		return intRange(0, 60000)
	case KeyHistoryLimit:
		return intRange(1, 1000)
	}
	return nil
}

// 初期設定のセットアップ
func (sm *SettingsManager) InitializeDefaultSettings() error {
	defaultsMu.RLock()
	keys := make([]string, 0, len(DefaultSettings))
	for key := range DefaultSettings {
		keys = append(keys, key)
	}
	defaultsMu.RUnlock()

	initialized := 0
	for _, key := range keys {
		// 既に設定が存在する場合はスキップ
		var existingKey string
		if err := sm.db.QueryRow("SELECT key FROM settings WHERE key = ?", key).Scan(&existingKey); err == nil {
			continue
		}

		d, _ := defaultSetting(key)
		if err := sm.SetSetting(key, d.Value); err != nil {
			return fmt.Errorf("failed to initialize setting %s: %w", key, err)
		}
		initialized++
	}
	if initialized > 0 {
		logger.Info("Initialized default settings", zap.Int("count", initialized))
	}
	return nil
}
