package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/payment"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/user"
)

// CheckoutRequest carries the shipping address either inline or as a saved
// address id; inline fields win when both are given.
type CheckoutRequest struct {
	AddressID  uuid.NullUUID `json:"address_id"`
	Recipient  string        `json:"recipient" validate:"required,max=200"`
	Line1      string        `json:"line1" validate:"max=255"`
	Line2      string        `json:"line2" validate:"max=255"`
	City       string        `json:"city" validate:"max=100"`
	Region     string        `json:"region" validate:"max=100"`
	PostalCode string        `json:"postal_code" validate:"max=20"`
	Country    string        `json:"country" validate:"omitempty,len=2"`
}

type OrderHandler struct {
	orders   order.Service
	payments payment.Service
	users    user.Service
	validate *validator.Validate
}

func NewOrderHandler(orders order.Service, payments payment.Service, users user.Service) *OrderHandler {
	return &OrderHandler{
		orders:   orders,
		payments: payments,
		users:    users,
		validate: newValidator(),
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/checkout", h.handleCheckout)
	router.Get("/orders", h.handleListOrders)
	router.Get("/orders/{id}", h.handleGetOrder)
	router.Post("/orders/{id}/cancel", h.handleCancelOrder)
	router.Post("/orders/{id}/pay", h.handleRetryPayment)
}

func (h *OrderHandler) shippingFor(r *http.Request, userID uuid.UUID, req CheckoutRequest) (order.ShippingInfo, error) {
	info := order.ShippingInfo{
		Recipient:  req.Recipient,
		Line1:      req.Line1,
		Line2:      req.Line2,
		City:       req.City,
		Region:     req.Region,
		PostalCode: req.PostalCode,
		Country:    req.Country,
	}
	if !req.AddressID.Valid || req.Line1 != "" {
		return info, nil
	}

	addresses, err := h.users.ListAddresses(r.Context(), userID)
	if err != nil {
		return order.ShippingInfo{}, err
	}
	for _, a := range addresses {
		if a.ID == req.AddressID.UUID {
			info.Line1, info.Line2 = a.Line1, a.Line2
			info.City, info.Region = a.City, a.Region
			info.PostalCode, info.Country = a.PostalCode, a.Country
			return info, nil
		}
	}
	return order.ShippingInfo{}, user.ErrAddressNotFound
}

func (h *OrderHandler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	userID := principal(r).UserID
	u, err := h.users.GetUserByID(r.Context(), userID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	shipping, err := h.shippingFor(r, userID, req)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	result, err := h.payments.StartCheckout(r.Context(), order.CheckoutInput{
		UserID:   userID,
		Email:    u.Email,
		Shipping: shipping,
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithData(w, http.StatusCreated, result)
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListUserOrders(r.Context(), principal(r).UserID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithData(w, http.StatusOK, orders)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	p := principal(r)
	o, err := h.orders.GetOrder(r.Context(), id, order.Viewer{UserID: p.UserID, IsAdmin: p.IsAdmin()})
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithMeta(w, http.StatusOK, o, map[string]interface{}{
		"next_statuses": order.NextStatuses(o.Status),
	})
}

func (h *OrderHandler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	o, err := h.orders.Cancel(r.Context(), id, principal(r).UserID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithData(w, http.StatusOK, o)
}

func (h *OrderHandler) handleRetryPayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	result, err := h.payments.RetryCheckout(r.Context(), id, principal(r).UserID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithData(w, http.StatusOK, result)
}
