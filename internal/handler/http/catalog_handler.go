package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/catalog"
)

type CreateCategoryRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Slug        string `json:"slug" validate:"required,max=100"`
	Description string `json:"description" validate:"max=1000"`
}

type ImageRequest struct {
	URL     string `json:"url" validate:"required,url,max=500"`
	AltText string `json:"alt_text" validate:"max=255"`
}

type CreateProductRequest struct {
	CategoryID    uuid.UUID       `json:"category_id" validate:"required"`
	SubcategoryID uuid.NullUUID   `json:"subcategory_id"`
	Name          string          `json:"name" validate:"required,max=200"`
	Slug          string          `json:"slug" validate:"required,max=200"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	Stock         int             `json:"stock" validate:"min=0"`
	IsActive      *bool           `json:"is_active"`
	Images        []ImageRequest  `json:"images" validate:"max=20,dive"`
}

type UpdateProductRequest struct {
	Name        *string          `json:"name" validate:"omitempty,max=200"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Stock       *int             `json:"stock" validate:"omitempty,min=0"`
	IsActive    *bool            `json:"is_active"`
}

type CatalogHandler struct {
	service  catalog.Service
	validate *validator.Validate
}

func NewCatalogHandler(service catalog.Service) *CatalogHandler {
	return &CatalogHandler{service: service, validate: newValidator()}
}

func (h *CatalogHandler) RegisterRoutes(router chi.Router) {
	router.Get("/categories", h.handleListCategories)
	router.Get("/products", h.handleListProducts)
	router.Get("/products/{slug}", h.handleGetProduct)
}

func (h *CatalogHandler) RegisterAdminRoutes(router chi.Router) {
	router.Post("/categories", h.handleCreateCategory)
	router.Post("/products", h.handleCreateProduct)
	router.Put("/products/{id}", h.handleUpdateProduct)
	router.Delete("/products/{id}", h.handleDeactivateProduct)
}

func (h *CatalogHandler) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.ListCategories(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithData(w, http.StatusOK, categories)
}

func (h *CatalogHandler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := catalog.ProductFilter{
		CategorySlug:    query.Get("category"),
		SubcategorySlug: query.Get("subcategory"),
		Page:            intQuery(r, "page", 1),
		PerPage:         intQuery(r, "per_page", 20),
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PerPage < 1 || filter.PerPage > 100 {
		filter.PerPage = 20
	}

	products, total, err := h.service.ListProducts(r.Context(), filter)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithMeta(w, http.StatusOK, products, newPageMeta(filter.Page, filter.PerPage, total))
}

func (h *CatalogHandler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.service.GetProductBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithData(w, http.StatusOK, product)
}

func (h *CatalogHandler) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	category, err := h.service.CreateCategory(r.Context(), &catalog.Category{
		Name:        strings.TrimSpace(req.Name),
		Slug:        strings.ToLower(strings.TrimSpace(req.Slug)),
		Description: req.Description,
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithData(w, http.StatusCreated, category)
}

func (h *CatalogHandler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	product := &catalog.Product{
		CategoryID:    req.CategoryID,
		SubcategoryID: req.SubcategoryID,
		Name:          strings.TrimSpace(req.Name),
		Slug:          strings.ToLower(strings.TrimSpace(req.Slug)),
		Description:   req.Description,
		Price:         req.Price,
		Stock:         req.Stock,
		IsActive:      req.IsActive == nil || *req.IsActive,
	}
	for i, img := range req.Images {
		product.Images = append(product.Images, catalog.Image{URL: img.URL, AltText: img.AltText, Position: i})
	}

	created, err := h.service.CreateProduct(r.Context(), product)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithData(w, http.StatusCreated, created)
}

func (h *CatalogHandler) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	var req UpdateProductRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	updated, err := h.service.UpdateProduct(r.Context(), id, catalog.ProductUpdate{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
		IsActive:    req.IsActive,
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithData(w, http.StatusOK, updated)
}

func (h *CatalogHandler) handleDeactivateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	if err := h.service.DeactivateProduct(r.Context(), id); err != nil {
		respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
