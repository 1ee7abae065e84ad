package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"mediamirror/config"
	"mediamirror/services/jellyfin"
	"mediamirror/services/mdblist"
)

type SettingsHandler struct {
	Manager        *config.Manager
	JellyfinClient *jellyfin.Client
	MDBListClient  *mdblist.Client
}

func NewSettingsHandler(m *config.Manager) *SettingsHandler {
	return &SettingsHandler{Manager: m}
}

// SetJellyfinClient sets the client for hot reloading server credentials
func (h *SettingsHandler) SetJellyfinClient(c *jellyfin.Client) {
	h.JellyfinClient = c
}

// SetMDBListClient sets the client for hot reloading the API key
func (h *SettingsHandler) SetMDBListClient(c *mdblist.Client) {
	h.MDBListClient = c
}

func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Manager.Load()
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

func (h *SettingsHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var s config.Settings
	dec := json.NewDecoder(r.Body)
	// Allow unknown fields for backward compatibility with old configs
	if err := dec.Decode(&s); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	if err := h.Manager.Save(s); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	// Hot reload services that cache credentials at startup
	h.reloadServices(s)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(s)
}

// reloadServices pushes new credentials into clients constructed with
// the old ones
func (h *SettingsHandler) reloadServices(s config.Settings) {
	if h.JellyfinClient != nil {
		h.JellyfinClient.UpdateCredentials(s.Jellyfin.URL, s.Jellyfin.APIKey)
		log.Printf("[settings] reloaded jellyfin credentials")
	}
	if h.MDBListClient != nil {
		h.MDBListClient.UpdateAPIKey(s.MDBList.APIKey)
		log.Printf("[settings] reloaded mdblist api key")
	}
}
