package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"kickhunt/huntsync/internal/huntsync"
	"kickhunt/huntsync/internal/model"
)

const maxBodyBytes = 1 << 20

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/readyz", a.handleReadyz)
	mux.HandleFunc("/api/locations", a.handleLocations)
	mux.HandleFunc("/api/locations/reload", a.handleReloadLocations)
	mux.HandleFunc("/api/locations/", a.handleSaveLocation)
	mux.HandleFunc("/api/positions", a.handlePositions)
	mux.HandleFunc("/api/activity", a.handleActivity)
	mux.Handle("/ws", a.hub)
	return mux
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !a.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"starting"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

func (a *App) handleLocations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	a.writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"locations": a.sync.Board.Locations(),
	})
}

func (a *App) handleReloadLocations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	n, err := a.sync.Locations.LoadAll(r.Context())
	if err != nil {
		a.writeFailure(w, err)
		return
	}
	a.display.Redisplay(a.sync.Board.Locations())
	a.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": n})
}

func (a *App) handleSaveLocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/api/locations/"))
	if err != nil {
		http.Error(w, "invalid rfid id", http.StatusBadRequest)
		return
	}

	var loc model.Location
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&loc); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if err := a.sync.Locations.Save(r.Context(), id, loc); err != nil {
		a.writeFailure(w, err)
		return
	}

	saved, _ := a.sync.Board.Location(id)
	a.display.Redisplay(a.sync.Board.Locations())
	a.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "location": saved})
}

func (a *App) handlePositions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		contestants, err := a.sync.Positions.LoadAll(r.Context())
		if err != nil {
			a.writeFailure(w, err)
			return
		}
		a.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "contestants": contestants})
	case http.MethodPost:
		var contestants []model.Contestant
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&contestants); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		if err := a.sync.Positions.UpdateMany(r.Context(), contestants); err != nil {
			a.writeFailure(w, err)
			return
		}
		a.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": len(contestants)})
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *App) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			if parsed > 0 && parsed <= 500 {
				limit = parsed
			}
		}
	}

	entries, err := a.sync.Activity.Recent(r.Context(), limit)
	if err != nil {
		a.writeFailure(w, err)
		return
	}
	if entries == nil {
		entries = []model.ActivityEntry{}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "activity": entries})
}

// writeFailure answers {"ok": false}; the cause stays in the log.
func (a *App) writeFailure(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, huntsync.ErrInvalidInput) {
		status = http.StatusBadRequest
	}
	a.logger.Warn("request failed", "status", status, "error", err)
	a.writeJSON(w, status, map[string]any{"ok": false})
}

func (a *App) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response", "error", err)
	}
}
