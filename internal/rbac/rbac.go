// Package rbac keeps per-wheel roles in casbin. Each wheel is its own domain.
package rbac

import (
	"database/sql"
	"fmt"
	"sync"

	adapter "github.com/Blank-Xu/sql-adapter"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	_ "github.com/mattn/go-sqlite3"
	"github.com/nantokaworks/choice-wheel/internal/shared/logger"
	"github.com/nantokaworks/choice-wheel/internal/types"
	"go.uber.org/zap"
)

const (
	Model = `
[request_definition]
r = sub, dom, obj, act

[policy_definition]
p = sub, dom, obj, act

[role_definition]
g = _, _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.act == p.act && r.dom == p.dom && r.obj == p.obj && g(r.sub, p.sub, r.dom)
`
)

const (
	RoleOwner  = "wheel:owner"
	RoleEditor = "wheel:editor"
	RoleViewer = "wheel:viewer"

	ActRead   = "wheel:read"
	ActSpin   = "wheel:spin"
	ActEdit   = "wheel:edit"
	ActShare  = "wheel:share"
	ActDelete = "wheel:delete"

	// Anyone is the subject used for public wheels.
	Anyone = "anyone"
)

type Enforcer struct {
	E  *casbin.Enforcer
	mu sync.RWMutex
}

func NewEnforcer(path string) (*Enforcer, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	return NewEnforcerWithDB(db)
}

func NewEnforcerWithDB(db *sql.DB) (*Enforcer, error) {
	m, err := model.NewModelFromString(Model)
	if err != nil {
		return nil, err
	}

	a, err := adapter.NewAdapter(db, "sqlite3", "acl")
	if err != nil {
		return nil, err
	}

	e, err := casbin.NewEnforcer(m, a)
	if err != nil {
		return nil, err
	}

	e.EnableAutoSave(false)

	return &Enforcer{E: e}, nil
}

func UserSubject(id string) string {
	return "user:" + id
}

func EmailSubject(email string) string {
	return "email:" + types.NormalizeEmail(email)
}

func wheelPolicies(wheelID string) [][]string {
	return [][]string{
		{RoleOwner, wheelID, wheelID, ActShare},
		{RoleOwner, wheelID, wheelID, ActDelete},
		{RoleEditor, wheelID, wheelID, ActEdit},
		{RoleEditor, wheelID, wheelID, ActSpin},
		{RoleViewer, wheelID, wheelID, ActRead},
	}
}

// SyncWheel rebuilds the wheel's domain from its owner, participants and visibility.
func (e *Enforcer) SyncWheel(w types.Wheel) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.E.DeleteDomains(w.ID); err != nil {
		return fmt.Errorf("failed to clear wheel domain: %w", err)
	}

	if _, err := e.E.AddPolicies(wheelPolicies(w.ID)); err != nil {
		return err
	}

	groups := [][]string{
		// owner > editor > viewer
		{RoleOwner, RoleEditor, w.ID},
		{RoleEditor, RoleViewer, w.ID},
		{UserSubject(w.Owner), RoleOwner, w.ID},
	}
	for _, p := range w.Participants {
		role := RoleViewer
		if p.Role == types.RoleEditor {
			role = RoleEditor
		}
		groups = append(groups, []string{EmailSubject(p.Email), role, w.ID})
	}
	if w.IsPublic() {
		groups = append(groups, []string{Anyone, RoleViewer, w.ID})
	}
	if _, err := e.E.AddGroupingPolicies(groups); err != nil {
		return err
	}

	if err := e.E.SavePolicy(); err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

// RemoveWheel drops every policy of the wheel.
func (e *Enforcer) RemoveWheel(wheelID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.E.DeleteDomains(wheelID); err != nil {
		return err
	}
	return e.E.SavePolicy()
}

// IsAllowed checks act for user on the wheel, trying the user id, the email
// and then the public subject.
func (e *Enforcer) IsAllowed(user types.User, wheelID, act string) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	subjects := make([]string, 0, 3)
	if user.ID != "" {
		subjects = append(subjects, UserSubject(user.ID))
	}
	if user.Email != "" {
		subjects = append(subjects, EmailSubject(user.Email))
	}
	subjects = append(subjects, Anyone)

	for _, sub := range subjects {
		ok, err := e.E.Enforce(sub, wheelID, wheelID, act)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (e *Enforcer) allowed(user types.User, wheelID, act string) bool {
	ok, err := e.IsAllowed(user, wheelID, act)
	if err != nil {
		logger.Error("Failed to enforce policy",
			zap.String("wheel_id", wheelID),
			zap.String("act", act),
			zap.Error(err))
		return false
	}
	return ok
}

func (e *Enforcer) CanView(user types.User, w types.Wheel) bool {
	return e.allowed(user, w.ID, ActRead)
}

func (e *Enforcer) CanSpin(user types.User, w types.Wheel) bool {
	return e.allowed(user, w.ID, ActSpin)
}

func (e *Enforcer) CanEdit(user types.User, w types.Wheel) bool {
	return e.allowed(user, w.ID, ActEdit)
}

func (e *Enforcer) CanShare(user types.User, w types.Wheel) bool {
	return e.allowed(user, w.ID, ActShare)
}

func (e *Enforcer) CanDelete(user types.User, w types.Wheel) bool {
	return e.allowed(user, w.ID, ActDelete)
}

// PermissionsFor lists the actions user may perform on the wheel.
func (e *Enforcer) PermissionsFor(user types.User, w types.Wheel) []string {
	perms := []string{}
	for _, act := range []string{ActRead, ActSpin, ActEdit, ActShare, ActDelete} {
		if e.allowed(user, w.ID, act) {
			perms = append(perms, act)
		}
	}
	return perms
}
