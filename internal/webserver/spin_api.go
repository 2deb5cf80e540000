package webserver

import (
	"errors"
	"net/http"

	"github.com/nantokaworks/choice-wheel/internal/coordinator"
	"github.com/nantokaworks/choice-wheel/internal/docstore"
	"github.com/nantokaworks/choice-wheel/internal/metrics"
	"github.com/nantokaworks/choice-wheel/internal/shared/logger"
	"github.com/nantokaworks/choice-wheel/internal/spin"
	"github.com/nantokaworks/choice-wheel/internal/types"
	"go.uber.org/zap"
)

// spinWriteRequest is the body of PUT /api/docs/wheels/{id}/spin.
type spinWriteRequest struct {
	ExpectedVersion int64         `json:"expected_version"`
	Spin            types.SpinDoc `json:"spin"`
}

func (s *Server) txOptions() []docstore.TxOption {
	if s.opts.TxAttempts == 0 {
		return nil
	}
	return []docstore.TxOption{docstore.WithAttempts(s.opts.TxAttempts)}
}

func spinStartResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, coordinator.ErrAlreadySpinning):
		return "already_spinning"
	case errors.Is(err, coordinator.ErrPermissionDenied):
		return "denied"
	}
	return "error"
}

// handleGetDocument returns the raw document with its version.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	wheel, err := s.loadViewable(r, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wheel)
}

// handlePutSpin is the compare-and-swap write of the spin sub-document used
// by remote document clients. The transition is checked against the stored
// document before the write.
func (s *Server) handlePutSpin(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	id := r.PathValue("id")

	var req spinWriteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	prev, err := s.opts.Store.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if prev.Version != req.ExpectedVersion {
		metrics.RecordConflict("spin")
		writeError(w, r, docstore.ErrConflict)
		return
	}

	next := prev.Clone()
	next.Spin = req.Spin.Clone()
	if err := coordinator.ValidateTransition(s.auth, user, prev, next); err != nil {
		if _, starting := next.Spin.Phase().(types.Spinning); starting {
			metrics.RecordSpinStarted(spinStartResult(err))
		}
		writeError(w, r, err)
		return
	}

	stored, err := s.opts.Store.CompareAndSwap(r.Context(), id, req.ExpectedVersion, next)
	if err != nil {
		if errors.Is(err, docstore.ErrConflict) {
			metrics.RecordConflict("spin")
		}
		writeError(w, r, err)
		return
	}

	_, wasSpinning := prev.Spin.Phase().(types.Spinning)
	if _, spinning := stored.Spin.Phase().(types.Spinning); spinning && !wasSpinning {
		metrics.RecordSpinStarted("ok")
		logger.Info("Spin started",
			zap.String("wheel_id", id),
			zap.String("user_id", user.ID))
	}

	writeJSON(w, http.StatusOK, stored)
}

// handleSpinStart starts a spin for a client that does not hold the document
// itself. The returned result is the suggested outcome for the caller's own
// animation; the caller reports it back through spin/complete.
func (s *Server) handleSpinStart(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	id := r.PathValue("id")

	var req struct {
		ForcedWinner *string `json:"forced_winner"`
		CurrentAngle float64 `json:"current_angle"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	wheel, err := s.tr.Start(r.Context(), user, id)
	metrics.RecordSpinStarted(spinStartResult(err))
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := s.resolver.Resolve(types.CleanSlices(wheel.Slices), req.ForcedWinner, req.CurrentAngle)
	if err != nil {
		writeError(w, r, err)
		return
	}

	logger.Info("Spin started",
		zap.String("wheel_id", id),
		zap.String("user_id", user.ID),
		zap.Int("winner_index", result.WinnerIndex))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"wheel":   wheel,
		"result":  resultJSON(result),
	})
}

func (s *Server) handleSpinComplete(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	id := r.PathValue("id")

	var req struct {
		Winner string `json:"winner"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Winner == "" {
		writeError(w, r, badRequest("winner is required"))
		return
	}

	wheel, committed, err := s.tr.Resolve(r.Context(), user, id, req.Winner)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"committed": committed,
		"wheel":     wheel,
	})
}

func resultJSON(res spin.Result) map[string]interface{} {
	return map[string]interface{}{
		"winner_index": res.WinnerIndex,
		"winner":       res.Winner,
		"end_angle":    res.EndAngle,
	}
}
