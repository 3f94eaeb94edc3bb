package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/propdesk/propdesk/internal/api/middleware"
	"github.com/propdesk/propdesk/internal/domain"
	"github.com/propdesk/propdesk/internal/profile"
	"github.com/propdesk/propdesk/internal/repository"
)

type SettingsHandler struct {
	profiles repository.ProfileRepository
}

func NewSettingsHandler(profiles repository.ProfileRepository) *SettingsHandler {
	return &SettingsHandler{profiles: profiles}
}

type ProfileResponse struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}

type SaveProfileRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}

func (h *SettingsHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	mgr, ok := middleware.GetManager(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	user, ok := mgr.User()
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	prov := profile.NewProvisioner(mgr, h.profiles)
	prof, err := prov.LoadOrCreate(r.Context(), user)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ProfileResponse{
		ID:       prof.ID.String(),
		FullName: prof.FullName,
		Email:    prof.Email,
		Phone:    prof.Phone,
	})
}

func (h *SettingsHandler) SaveProfile(w http.ResponseWriter, r *http.Request) {
	mgr, ok := middleware.GetManager(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	user, ok := mgr.User()
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req SaveProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	prov := profile.NewProvisioner(mgr, h.profiles)
	prof := &domain.Profile{
		ID:       user.ID,
		FullName: req.FullName,
		Email:    req.Email,
		Phone:    req.Phone,
	}

	if err := prov.Save(r.Context(), prof); err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			http.Error(w, "Unauthorized", http.StatusForbidden)
			return
		}
		// Inline failure; the page rolls back to its pristine copy.
		http.Error(w, "Could not save your changes. Please try again.", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ProfileResponse{
		ID:       prof.ID.String(),
		FullName: prof.FullName,
		Email:    prof.Email,
		Phone:    prof.Phone,
	})
}
