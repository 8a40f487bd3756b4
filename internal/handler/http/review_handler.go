package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/review"
)

type CreateReviewRequest struct {
	Rating int    `json:"rating"`
	Title  string `json:"title" validate:"max=200"`
	Body   string `json:"body" validate:"max=5000"`
}

type ReviewHandler struct {
	service  review.Service
	validate *validator.Validate
}

func NewReviewHandler(service review.Service) *ReviewHandler {
	return &ReviewHandler{service: service, validate: newValidator()}
}

func (h *ReviewHandler) RegisterRoutes(router chi.Router) {
	router.Get("/products/{productID}/reviews", h.handleListReviews)
}

func (h *ReviewHandler) RegisterUserRoutes(router chi.Router) {
	router.Post("/products/{productID}/reviews", h.handleCreateReview)
	router.Delete("/reviews/{id}", h.handleDeleteReview)
}

func (h *ReviewHandler) handleListReviews(w http.ResponseWriter, r *http.Request) {
	productID, err := uuidParam(r, "productID")
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	reviews, summary, err := h.service.ListByProduct(r.Context(), productID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithMeta(w, http.StatusOK, reviews, summary)
}

func (h *ReviewHandler) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	productID, err := uuidParam(r, "productID")
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	var req CreateReviewRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	created, err := h.service.Create(r.Context(), review.CreateInput{
		UserID:    principal(r).UserID,
		ProductID: productID,
		Rating:    req.Rating,
		Title:     req.Title,
		Body:      req.Body,
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithData(w, http.StatusCreated, created)
}

func (h *ReviewHandler) handleDeleteReview(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	p := principal(r)
	if err := h.service.Delete(r.Context(), id, p.UserID, p.IsAdmin()); err != nil {
		respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
