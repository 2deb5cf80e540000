// Package identity は現在のユーザーを解決する。
package identity

import (
	"context"

	"github.com/nantokaworks/choice-wheel/internal/types"
)

// Provider returns the signed-in user, if any.
type Provider interface {
	CurrentUser() (types.User, bool)
}

// Static is a fixed identity, used by clients that signed in once.
type Static struct {
	User types.User
}

func (s Static) CurrentUser() (types.User, bool) {
	return s.User, s.User.ID != ""
}

// Anonymous never has a user.
type Anonymous struct{}

func (Anonymous) CurrentUser() (types.User, bool) {
	return types.User{}, false
}

type ctxKey struct{}

// WithUser stores user in ctx.
func WithUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

// FromContext returns the user stored by WithUser.
func FromContext(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(ctxKey{}).(types.User)
	return user, ok && user.ID != ""
}

// Request is a Provider bound to one request context.
type Request struct {
	Ctx context.Context
}

func (r Request) CurrentUser() (types.User, bool) {
	return FromContext(r.Ctx)
}
