package webserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/nantokaworks/choice-wheel/internal/identity"
	"github.com/nantokaworks/choice-wheel/internal/localdb"
	"github.com/nantokaworks/choice-wheel/internal/shared/logger"
	"github.com/nantokaworks/choice-wheel/internal/types"
	"go.uber.org/zap"
)

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	// ブラウザの WebSocket はヘッダーを付けられない
	return r.URL.Query().Get("token")
}

// withUser resolves the bearer token, if any, into the request context.
func (s *Server) withUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			next(w, r)
			return
		}

		user, err := localdb.GetUserByToken(token)
		if err != nil {
			if !errors.Is(err, localdb.ErrUserNotFound) {
				logger.Error("Failed to look up token", zap.Error(err))
				writeError(w, r, err)
				return
			}
			writeError(w, r, errInvalidToken)
			return
		}

		next(w, r.WithContext(identity.WithUser(r.Context(), user)))
	}
}

func (s *Server) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := identity.FromContext(r.Context()); !ok {
			writeError(w, r, errUnauthorized)
			return
		}
		next(w, r)
	}
}

func currentUser(r *http.Request) types.User {
	user, _ := identity.FromContext(r.Context())
	return user
}

// handleCreateUser signs a user in by email and issues an API token.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !strings.Contains(req.Email, "@") {
		writeError(w, r, badRequest("A valid email is required"))
		return
	}

	user, err := localdb.EnsureUser(req.Email, req.DisplayName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	token, err := localdb.IssueToken(user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	logger.Info("User signed in", zap.String("user_id", user.ID))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    user,
		"token":   token,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    currentUser(r),
	})
}
