package types

import (
	"errors"
	"strings"
	"time"
)

// MaxSlices はホイールに載せられる項目数の上限。
const MaxSlices = 16

var (
	ErrTooManySlices = errors.New("too many slices")
	ErrNoSlices      = errors.New("wheel has no slices")
)

// Visibility はホイールの公開範囲。
type Visibility string

const (
	VisibilityPrivate         Visibility = "private"
	VisibilityPublic          Visibility = "public"
	VisibilityAnonymousPublic Visibility = "anonymous-public"
)

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPrivate, VisibilityPublic, VisibilityAnonymousPublic:
		return true
	}
	return false
}

// Role は共有参加者の権限。オーナーは参加者リストには載らない。
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Participant は共有先ユーザー。メールアドレスで一意。
type Participant struct {
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// User is an authenticated identity.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

// Wheel is the shared wheel document.
type Wheel struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Slices       []string      `json:"slices"`
	Visibility   Visibility    `json:"visibility"`
	Owner        string        `json:"owner"`
	Participants []Participant `json:"participants"`
	Spin         SpinDoc       `json:"spin"`
	Version      int64         `json:"version"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// IsPublic reports whether anyone may view the wheel.
func (w Wheel) IsPublic() bool {
	return w.Visibility == VisibilityPublic || w.Visibility == VisibilityAnonymousPublic
}

// RoleOf returns the role user holds on the wheel, or "" for none.
func (w Wheel) RoleOf(user User) Role {
	if user.ID != "" && user.ID == w.Owner {
		return RoleOwner
	}
	email := NormalizeEmail(user.Email)
	if email == "" {
		return ""
	}
	for _, p := range w.Participants {
		if NormalizeEmail(p.Email) == email {
			return p.Role
		}
	}
	return ""
}

// CanView はオーナー・参加者・公開ホイールなら true。
func (w Wheel) CanView(user User) bool {
	return w.IsPublic() || w.RoleOf(user) != ""
}

// CanSpin はオーナーか editor 参加者のみ true。
func (w Wheel) CanSpin(user User) bool {
	switch w.RoleOf(user) {
	case RoleOwner, RoleEditor:
		return true
	}
	return false
}

// Clone returns a deep copy.
func (w Wheel) Clone() Wheel {
	c := w
	c.Slices = append([]string(nil), w.Slices...)
	c.Participants = append([]Participant(nil), w.Participants...)
	c.Spin = w.Spin.Clone()
	return c
}

// CleanSlices trims labels and drops empty ones. Order and duplicates are kept.
func CleanSlices(items []string) []string {
	cleaned := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		cleaned = append(cleaned, item)
	}
	return cleaned
}

// ValidateSlices cleans items and enforces the slice count limits.
func ValidateSlices(items []string) ([]string, error) {
	cleaned := CleanSlices(items)
	if len(cleaned) == 0 {
		return nil, ErrNoSlices
	}
	if len(cleaned) > MaxSlices {
		return nil, ErrTooManySlices
	}
	return cleaned, nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeParticipants はメールで重複排除する（後勝ち）。不明なロールは viewer 扱い。
func NormalizeParticipants(participants []Participant) []Participant {
	index := make(map[string]int, len(participants))
	out := make([]Participant, 0, len(participants))
	for _, p := range participants {
		email := NormalizeEmail(p.Email)
		if email == "" {
			continue
		}
		role := p.Role
		if role != RoleEditor {
			role = RoleViewer
		}
		if i, ok := index[email]; ok {
			out[i].Role = role
			continue
		}
		index[email] = len(out)
		out = append(out, Participant{Email: email, Role: role})
	}
	return out
}
