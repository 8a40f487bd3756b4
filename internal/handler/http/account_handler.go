package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/user"
)

type UpdateProfileRequest struct {
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Phone     string `json:"phone" validate:"omitempty,max=32"`
}

type CreateAddressRequest struct {
	Line1      string `json:"line1" validate:"required,max=255"`
	Line2      string `json:"line2" validate:"max=255"`
	City       string `json:"city" validate:"required,max=100"`
	Region     string `json:"region" validate:"max=100"`
	PostalCode string `json:"postal_code" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,len=2"`
	IsDefault  bool   `json:"is_default"`
}

type MeResponse struct {
	User    *user.User    `json:"user"`
	Profile *user.Profile `json:"profile"`
}

// AccountHandler serves the signed-in user's own data.
type AccountHandler struct {
	users    user.Service
	validate *validator.Validate
}

func NewAccountHandler(users user.Service) *AccountHandler {
	return &AccountHandler{users: users, validate: newValidator()}
}

func (h *AccountHandler) RegisterRoutes(router chi.Router) {
	router.Get("/me", h.handleGetMe)
	router.Put("/me/profile", h.handleUpdateProfile)
	router.Get("/me/addresses", h.handleListAddresses)
	router.Post("/me/addresses", h.handleCreateAddress)
	router.Delete("/me/addresses/{id}", h.handleDeleteAddress)
}

func (h *AccountHandler) handleGetMe(w http.ResponseWriter, r *http.Request) {
	userID := principal(r).UserID

	u, err := h.users.GetUserByID(r.Context(), userID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	profile, err := h.users.GetProfile(r.Context(), userID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithData(w, http.StatusOK, MeResponse{User: u, Profile: profile})
}

func (h *AccountHandler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	profile, err := h.users.UpdateProfile(r.Context(), &user.Profile{
		UserID:    principal(r).UserID,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithData(w, http.StatusOK, profile)
}

func (h *AccountHandler) handleListAddresses(w http.ResponseWriter, r *http.Request) {
	addresses, err := h.users.ListAddresses(r.Context(), principal(r).UserID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithData(w, http.StatusOK, addresses)
}

func (h *AccountHandler) handleCreateAddress(w http.ResponseWriter, r *http.Request) {
	var req CreateAddressRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	address, err := h.users.AddAddress(r.Context(), &user.Address{
		UserID:     principal(r).UserID,
		Line1:      req.Line1,
		Line2:      req.Line2,
		City:       req.City,
		Region:     req.Region,
		PostalCode: req.PostalCode,
		Country:    req.Country,
		IsDefault:  req.IsDefault,
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithData(w, http.StatusCreated, address)
}

func (h *AccountHandler) handleDeleteAddress(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	if err := h.users.DeleteAddress(r.Context(), principal(r).UserID, id); err != nil {
		respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
