package webserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/nantokaworks/choice-wheel/internal/coordinator"
	"github.com/nantokaworks/choice-wheel/internal/docstore"
	"github.com/nantokaworks/choice-wheel/internal/eventbus"
	"github.com/nantokaworks/choice-wheel/internal/localdb"
	"github.com/nantokaworks/choice-wheel/internal/rbac"
	"github.com/nantokaworks/choice-wheel/internal/shared/logger"
	"github.com/nantokaworks/choice-wheel/internal/types"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const (
	defaultQRSize = 256
	minQRSize     = 128
	maxQRSize     = 1024
)

type wheelRequest struct {
	Title        string              `json:"title"`
	Slices       []string            `json:"slices"`
	Visibility   types.Visibility    `json:"visibility"`
	Participants []types.Participant `json:"participants"`
}

func (s *Server) shareURL(id string) string {
	return s.opts.PublicBaseURL + "/wheel/" + id
}

func (s *Server) canEdit(user types.User, w types.Wheel) bool {
	if s.opts.Enforcer != nil {
		return s.opts.Enforcer.CanEdit(user, w)
	}
	return w.CanSpin(user)
}

func (s *Server) canShare(user types.User, w types.Wheel) bool {
	if s.opts.Enforcer != nil {
		return s.opts.Enforcer.CanShare(user, w)
	}
	return w.RoleOf(user) == types.RoleOwner
}

func (s *Server) permissions(user types.User, w types.Wheel) []string {
	if s.opts.Enforcer != nil {
		return s.opts.Enforcer.PermissionsFor(user, w)
	}
	perms := []string{}
	if w.CanView(user) {
		perms = append(perms, rbac.ActRead)
	}
	if w.CanSpin(user) {
		perms = append(perms, rbac.ActSpin, rbac.ActEdit)
	}
	if w.RoleOf(user) == types.RoleOwner {
		perms = append(perms, rbac.ActShare, rbac.ActDelete)
	}
	return perms
}

func (s *Server) wheelResponse(user types.User, w types.Wheel) map[string]interface{} {
	return map[string]interface{}{
		"success":     true,
		"wheel":       w,
		"phase":       phaseName(w.Spin.Phase()),
		"share_url":   s.shareURL(w.ID),
		"permissions": s.permissions(user, w),
	}
}

func phaseName(p types.SpinPhase) string {
	switch p.(type) {
	case types.Spinning:
		return "spinning"
	case types.Resolved:
		return "resolved"
	}
	return "idle"
}

// loadViewable returns the wheel when the requester may view it.
func (s *Server) loadViewable(r *http.Request, id string) (types.Wheel, error) {
	w, err := s.opts.Store.Get(r.Context(), id)
	if err != nil {
		return types.Wheel{}, err
	}
	if !s.auth.CanView(currentUser(r), w) {
		return types.Wheel{}, coordinator.ErrPermissionDenied
	}
	return w, nil
}

func (s *Server) syncACL(w types.Wheel) {
	if s.opts.Enforcer == nil {
		return
	}
	if err := s.opts.Enforcer.SyncWheel(w); err != nil {
		logger.Error("Failed to sync wheel policies", zap.String("wheel_id", w.ID), zap.Error(err))
	}
}

// SyncAllACL rebuilds the policies of every stored wheel.
func (s *Server) SyncAllACL(ctx context.Context) error {
	if s.opts.Enforcer == nil {
		return nil
	}
	ids, err := s.opts.Store.ListIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		w, err := s.opts.Store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				continue
			}
			return err
		}
		if err := s.opts.Enforcer.SyncWheel(w); err != nil {
			return err
		}
	}
	logger.Info("Wheel policies synced", zap.Int("wheels", len(ids)))
	return nil
}

func validateParticipants(participants []types.Participant) error {
	for _, p := range participants {
		if !strings.Contains(p.Email, "@") {
			return badRequest("Invalid participant email: " + p.Email)
		}
		if p.Role != "" && p.Role != types.RoleEditor && p.Role != types.RoleViewer {
			return badRequest("Invalid participant role: " + string(p.Role))
		}
	}
	return nil
}

func (s *Server) handleCreateWheel(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req wheelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	slices, err := types.ValidateSlices(req.Slices)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.Visibility == "" {
		req.Visibility = types.VisibilityPrivate
	}
	if !req.Visibility.Valid() {
		writeError(w, r, errInvalidVisibility)
		return
	}
	if err := validateParticipants(req.Participants); err != nil {
		writeError(w, r, err)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Untitled wheel"
	}

	created, err := s.opts.Store.Create(r.Context(), types.Wheel{
		Title:        title,
		Slices:       slices,
		Visibility:   req.Visibility,
		Owner:        user.ID,
		Participants: req.Participants,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.syncACL(created)
	s.opts.Bus.Publish(eventbus.TopicWheelChanged, created.ID)

	writeJSON(w, http.StatusCreated, s.wheelResponse(user, created))
}

func (s *Server) handleListWheels(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	wheels, err := s.opts.Store.ListForUser(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"wheels":  wheels,
	})
}

func (s *Server) handleGetWheel(w http.ResponseWriter, r *http.Request) {
	wheel, err := s.loadViewable(r, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.wheelResponse(currentUser(r), wheel))
}

func (s *Server) handleDeleteWheel(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	id := r.PathValue("id")

	wheel, err := s.opts.Store.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if wheel.RoleOf(user) != types.RoleOwner {
		writeError(w, r, coordinator.ErrPermissionDenied)
		return
	}

	if err := s.opts.Store.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	if err := localdb.DeleteSpinHistory(id); err != nil {
		logger.Warn("Failed to delete spin history", zap.String("wheel_id", id), zap.Error(err))
	}
	if s.opts.Enforcer != nil {
		if err := s.opts.Enforcer.RemoveWheel(id); err != nil {
			logger.Warn("Failed to remove wheel policies", zap.String("wheel_id", id), zap.Error(err))
		}
	}
	s.opts.Bus.Publish(eventbus.TopicWheelChanged, id)

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// handleUpdateSlices replaces the slice list. Rejected while a spin is running.
func (s *Server) handleUpdateSlices(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	id := r.PathValue("id")

	var req struct {
		Slices []string `json:"slices"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	slices, err := types.ValidateSlices(req.Slices)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := docstore.RunTransaction(r.Context(), s.opts.Store, id, func(tx *docstore.Tx) error {
		cur := tx.Current
		if !s.canEdit(user, cur) {
			return coordinator.ErrPermissionDenied
		}
		if cur.Spin.IsSpinning {
			return coordinator.ErrAlreadySpinning
		}
		cur.Slices = slices
		tx.Set(cur)
		return nil
	}, s.txOptions()...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.opts.Bus.Publish(eventbus.TopicWheelChanged, id)

	writeJSON(w, http.StatusOK, s.wheelResponse(user, res.Wheel))
}

func (s *Server) handleUpdateParticipants(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	id := r.PathValue("id")

	var req struct {
		Participants []types.Participant `json:"participants"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validateParticipants(req.Participants); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Participants == nil {
		req.Participants = []types.Participant{}
	}

	s.updateShared(w, r, user, id, docstore.Fields{Participants: req.Participants})
}

func (s *Server) handleUpdateVisibility(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	id := r.PathValue("id")

	var req struct {
		Visibility types.Visibility `json:"visibility"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !req.Visibility.Valid() {
		writeError(w, r, errInvalidVisibility)
		return
	}

	s.updateShared(w, r, user, id, docstore.Fields{Visibility: &req.Visibility})
}

// updateShared writes sharing fields, owner only, and resyncs the policies.
func (s *Server) updateShared(w http.ResponseWriter, r *http.Request, user types.User, id string, fields docstore.Fields) {
	cur, err := s.opts.Store.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !s.canShare(user, cur) {
		writeError(w, r, coordinator.ErrPermissionDenied)
		return
	}

	updated, err := s.opts.Store.Update(r.Context(), id, fields)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.syncACL(updated)
	s.opts.Bus.Publish(eventbus.TopicWheelChanged, id)

	logger.Info("Wheel sharing updated",
		zap.String("wheel_id", id),
		zap.String("visibility", string(updated.Visibility)),
		zap.Int("participants", len(updated.Participants)))
	writeJSON(w, http.StatusOK, s.wheelResponse(user, updated))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.loadViewable(r, id); err != nil {
		writeError(w, r, err)
		return
	}

	limit := 50
	if s.opts.Settings != nil {
		limit = s.opts.Settings.HistoryLimit()
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, badRequest("Invalid limit"))
			return
		}
		limit = n
	}

	history, err := localdb.GetSpinHistory(id, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"history": history,
	})
}

// handleQR returns the share link of the wheel as a PNG QR code.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.loadViewable(r, id); err != nil {
		writeError(w, r, err)
		return
	}

	size := defaultQRSize
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, badRequest("Invalid size"))
			return
		}
		size = min(max(n, minQRSize), maxQRSize)
	}

	png, err := qrcode.Encode(s.shareURL(id), qrcode.Medium, size)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=600")
	w.Write(png)
}
