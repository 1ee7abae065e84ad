package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"mediamirror/models"
	"mediamirror/services/jellyfin"
)

// UserStore is the persistence surface for user management endpoints
type UserStore interface {
	ListUsers(ctx context.Context) ([]models.User, error)
	SetUserEnabled(ctx context.Context, userID string, enabled bool) error
	SetExcludedLibraries(ctx context.Context, userID string, libraryIDs []string) error
}

// UsersHandler manages mirrored media server accounts
type UsersHandler struct {
	store    UserStore
	provider *jellyfin.Client
}

// NewUsersHandler creates a new users handler
func NewUsersHandler(store UserStore, provider *jellyfin.Client) *UsersHandler {
	return &UsersHandler{store: store, provider: provider}
}

// List returns all imported users
// GET /api/users
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": "Failed to list users: " + err.Error(),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"users": users,
	})
}

// SetEnabled toggles whether a user participates in watch history sync
// PUT /api/users/{userID}/enabled
func (h *UsersHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": "Invalid request body: " + err.Error(),
		})
		return
	}

	if err := h.store.SetUserEnabled(r.Context(), userID, req.Enabled); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"enabled": req.Enabled,
	})
}

// SetExcludedLibraries replaces a user's excluded library list.
// Excluded libraries are skipped when syncing that user's history.
// PUT /api/users/{userID}/excluded-libraries
func (h *UsersHandler) SetExcludedLibraries(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	var req struct {
		LibraryIDs []string `json:"libraryIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": "Invalid request body: " + err.Error(),
		})
		return
	}

	if err := h.store.SetExcludedLibraries(r.Context(), userID, req.LibraryIDs); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
	})
}

// ListLibraries returns the media server's libraries so admins can pick
// which ones to sync or exclude
// GET /api/libraries
func (h *UsersHandler) ListLibraries(w http.ResponseWriter, r *http.Request) {
	if !h.provider.Configured() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": "Jellyfin is not configured",
		})
		return
	}

	libraries, err := h.provider.GetLibraries(r.Context())
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": "Failed to fetch libraries: " + err.Error(),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"libraries": libraries,
	})
}
