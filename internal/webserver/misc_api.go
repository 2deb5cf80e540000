package webserver

import (
	"net/http"

	"github.com/nantokaworks/choice-wheel/internal/docstore"
	"github.com/nantokaworks/choice-wheel/internal/localdb"
	"github.com/nantokaworks/choice-wheel/internal/settings"
	"github.com/nantokaworks/choice-wheel/internal/sounds"
	"github.com/nantokaworks/choice-wheel/internal/version"
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	total, err := localdb.GetTotalSpins()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"total_spins": total,
	})
}

// handleSettings serves the shared spin timing so every client animates alike.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.opts.Settings == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"timing":  settings.NewSpinTiming(0, 0, s.opts.ExtraTurns, 0),
		})
		return
	}

	timing, err := s.opts.Settings.SpinTiming()
	if err != nil {
		writeError(w, r, err)
		return
	}
	all, err := s.opts.Settings.GetAllSettings()
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"timing":        timing,
		"history_limit": s.opts.Settings.HistoryLimit(),
		"settings":      all,
	})
}

func (s *Server) handleSounds(w http.ResponseWriter, r *http.Request) {
	list := []sounds.Sound{}
	if s.opts.Sounds != nil {
		var err error
		if list, err = s.opts.Sounds.List(); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"sounds":  list,
	})
}

func (s *Server) handleSoundFile(w http.ResponseWriter, r *http.Request) {
	if s.opts.Sounds == nil {
		writeError(w, r, docstore.ErrNotFound)
		return
	}
	p, err := s.opts.Sounds.Path(r.PathValue("name"))
	if err != nil {
		writeError(w, r, docstore.ErrNotFound)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFile(w, r, p)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}
