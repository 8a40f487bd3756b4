package http

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/export"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/payment"
)

const (
	exportPageSize = 100
	exportMaxRows  = 10000
)

// Paid and refunded follow money movements, so they are never set by hand.
var errStatusNotSettable = errors.New("status is set by the payment flow; refund through POST /api/admin/orders/{id}/refund")

type UpdateStatusRequest struct {
	Status         string `json:"status" validate:"required"`
	Carrier        string `json:"carrier" validate:"max=100"`
	TrackingNumber string `json:"tracking_number" validate:"max=100"`
}

type StatusChangeResponse struct {
	Order   *order.Order      `json:"order"`
	From    order.OrderStatus `json:"from"`
	Changed bool              `json:"changed"`
}

// AdminHandler serves order management for admins. feed may be nil.
type AdminHandler struct {
	orders   order.Service
	payments payment.Service
	feed     http.Handler
	validate *validator.Validate
}

func NewAdminHandler(orders order.Service, payments payment.Service, feed http.Handler) *AdminHandler {
	return &AdminHandler{
		orders:   orders,
		payments: payments,
		feed:     feed,
		validate: newValidator(),
	}
}

func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Get("/orders", h.handleListOrders)
	router.Get("/orders/export", h.handleExportOrders)
	if h.feed != nil {
		router.Get("/orders/feed", h.feed.ServeHTTP)
	}
	router.Patch("/orders/{id}/status", h.handleUpdateStatus)
	router.Post("/orders/{id}/refund", h.handleRefund)
}

func listFilter(r *http.Request) (order.ListFilter, error) {
	filter := order.ListFilter{
		Page:    intQuery(r, "page", 1),
		PerPage: intQuery(r, "per_page", 20),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := order.ParseStatus(raw)
		if err != nil {
			return order.ListFilter{}, err
		}
		filter.Status = status
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PerPage < 1 || filter.PerPage > 100 {
		filter.PerPage = 20
	}
	return filter, nil
}

func (h *AdminHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	filter, err := listFilter(r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	orders, total, err := h.orders.ListOrders(r.Context(), filter)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithMeta(w, http.StatusOK, orders, newPageMeta(filter.Page, filter.PerPage, total))
}

func (h *AdminHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	var req UpdateStatusRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	status, err := order.ParseStatus(req.Status)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if status == order.StatusPaid || status == order.StatusRefunded {
		respondWithError(w, r, fmt.Errorf("%w: cannot set %s", errStatusNotSettable, status))
		return
	}

	tr, err := h.orders.UpdateStatus(r.Context(), order.StatusChange{
		OrderID:        id,
		To:             status,
		Carrier:        req.Carrier,
		TrackingNumber: req.TrackingNumber,
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithData(w, http.StatusOK, StatusChangeResponse{Order: tr.Order, From: tr.From, Changed: tr.Changed})
}

func (h *AdminHandler) handleRefund(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	o, err := h.payments.Refund(r.Context(), id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithData(w, http.StatusOK, o)
}

// handleExportOrders streams every order matching the status filter as xlsx.
func (h *AdminHandler) handleExportOrders(w http.ResponseWriter, r *http.Request) {
	filter, err := listFilter(r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	filter.Page = 1
	filter.PerPage = exportPageSize

	var all []order.Order
	for {
		page, total, err := h.orders.ListOrders(r.Context(), filter)
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		all = append(all, page...)
		if len(page) == 0 || len(all) >= total || len(all) >= exportMaxRows {
			break
		}
		filter.Page++
	}

	// Render into memory first so a failure still produces a JSON error.
	var buf bytes.Buffer
	if err := export.WriteOrders(&buf, all); err != nil {
		respondWithError(w, r, err)
		return
	}

	filename := fmt.Sprintf("orders-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", fmt.Sprint(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
