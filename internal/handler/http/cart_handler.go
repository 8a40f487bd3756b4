package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/cart"
)

type AddCartItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1,max=999"`
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity" validate:"min=0,max=999"`
}

type CartItemResponse struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	Slug      string          `json:"slug"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
	Available bool            `json:"available"`
}

type CartResponse struct {
	ID        uuid.UUID          `json:"id"`
	Items     []CartItemResponse `json:"items"`
	ItemCount int                `json:"item_count"`
	Subtotal  decimal.Decimal    `json:"subtotal"`
}

func newCartResponse(c *cart.Cart) CartResponse {
	resp := CartResponse{
		ID:        c.ID,
		Items:     make([]CartItemResponse, 0, len(c.Items)),
		ItemCount: c.ItemCount(),
		Subtotal:  c.Subtotal(),
	}
	for _, item := range c.Items {
		ir := CartItemResponse{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal(),
		}
		if p := item.Product; p != nil {
			ir.Name = p.Name
			ir.Slug = p.Slug
			ir.UnitPrice = p.Price
			ir.Available = p.Purchasable(item.Quantity)
		}
		resp.Items = append(resp.Items, ir)
	}
	return resp
}

type CartHandler struct {
	service  cart.Service
	validate *validator.Validate
}

func NewCartHandler(service cart.Service) *CartHandler {
	return &CartHandler{service: service, validate: newValidator()}
}

func (h *CartHandler) RegisterRoutes(router chi.Router) {
	router.Get("/cart", h.handleGetCart)
	router.Delete("/cart", h.handleClearCart)
	router.Post("/cart/items", h.handleAddItem)
	router.Patch("/cart/items/{productID}", h.handleUpdateItem)
	router.Delete("/cart/items/{productID}", h.handleRemoveItem)
}

func (h *CartHandler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.GetCart(r.Context(), principal(r).UserID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithData(w, http.StatusOK, newCartResponse(c))
}

func (h *CartHandler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req AddCartItemRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	c, err := h.service.AddItem(r.Context(), principal(r).UserID, req.ProductID, req.Quantity)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithData(w, http.StatusOK, newCartResponse(c))
}

func (h *CartHandler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	productID, err := uuidParam(r, "productID")
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	var req UpdateCartItemRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	c, err := h.service.UpdateItem(r.Context(), principal(r).UserID, productID, req.Quantity)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithData(w, http.StatusOK, newCartResponse(c))
}

func (h *CartHandler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	productID, err := uuidParam(r, "productID")
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	c, err := h.service.RemoveItem(r.Context(), principal(r).UserID, productID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithData(w, http.StatusOK, newCartResponse(c))
}

func (h *CartHandler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Clear(r.Context(), principal(r).UserID); err != nil {
		respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
