package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/auth"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/payment"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/review"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/user"
)

const maxBodyBytes = 1 << 20

var (
	errInvalidPayload = errors.New("invalid request payload")
	errInvalidID      = errors.New("invalid id parameter")
)

// SuccessResponse wraps every successful API payload.
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Meta    interface{} `json:"meta,omitempty"`
}

type ErrorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// PageMeta describes a paginated list.
type PageMeta struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func newPageMeta(page, perPage, total int) PageMeta {
	pages := 0
	if perPage > 0 {
		pages = (total + perPage - 1) / perPage
	}
	return PageMeta{Page: page, PerPage: perPage, Total: total, TotalPages: pages}
}

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":"internal_error","message":"failed to encode response"}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondWithData(w http.ResponseWriter, code int, data interface{}) {
	respondWithJSON(w, code, SuccessResponse{Success: true, Data: data})
}

func respondWithMeta(w http.ResponseWriter, code int, data, meta interface{}) {
	respondWithJSON(w, code, SuccessResponse{Success: true, Data: data, Meta: meta})
}

// respondWithError maps err to a status code and writes the error envelope.
// Internal errors are logged and replaced by a generic message.
func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToStatusCode(err)
	message := err.Error()

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
		message = "internal server error"
		if errors.Is(err, payment.ErrProviderUnavailable) {
			message = payment.ErrProviderUnavailable.Error()
		}
	}

	respondWithJSON(w, status, ErrorResponse{
		Error: ErrorBody{Code: errorCode(status), Message: message},
	})
}

func respondWithValidationError(w http.ResponseWriter, details map[string]string) {
	respondWithJSON(w, http.StatusBadRequest, ErrorResponse{
		Error: ErrorBody{Code: "validation_failed", Message: "Validation failed", Details: details},
	})
}

func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, errInvalidPayload),
		errors.Is(err, errInvalidID),
		errors.Is(err, errInvalidState),
		errors.Is(err, order.ErrUnknownStatus),
		errors.Is(err, order.ErrInvalidShipping),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, catalog.ErrInvalidProduct),
		errors.Is(err, user.ErrWeakPassword),
		errors.Is(err, payment.ErrInvalidSignature):
		return http.StatusBadRequest

	case errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrIdentityRejected),
		errors.Is(err, user.ErrInvalidCredentials):
		return http.StatusUnauthorized

	case errors.Is(err, auth.ErrForbidden),
		errors.Is(err, review.ErrNotPurchased),
		errors.Is(err, review.ErrNotAuthor):
		return http.StatusForbidden

	case errors.Is(err, errOIDCDisabled),
		errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, catalog.ErrCategoryNotFound),
		errors.Is(err, cart.ErrItemNotFound),
		errors.Is(err, payment.ErrPaymentNotFound),
		errors.Is(err, review.ErrReviewNotFound),
		errors.Is(err, user.ErrNotFound),
		errors.Is(err, user.ErrAddressNotFound):
		return http.StatusNotFound

	case errors.Is(err, order.ErrStatusConflict),
		errors.Is(err, order.ErrInsufficientStock),
		errors.Is(err, cart.ErrInsufficientStock),
		errors.Is(err, catalog.ErrSlugExists),
		errors.Is(err, user.ErrEmailExists),
		errors.Is(err, review.ErrAlreadyReviewed):
		return http.StatusConflict

	case errors.Is(err, order.ErrInvalidStatusTransition),
		errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, order.ErrProductUnavailable),
		errors.Is(err, order.ErrNotCancellable),
		errors.Is(err, errStatusNotSettable),
		errors.Is(err, review.ErrInvalidRating),
		errors.Is(err, payment.ErrNothingToRefund),
		errors.Is(err, payment.ErrNotRetryable):
		return http.StatusUnprocessableEntity

	default:
		return http.StatusInternalServerError
	}
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "unprocessable_entity"
	default:
		return "internal_error"
	}
}

// newValidator reports field errors under their JSON names.
func newValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return validate
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		var msg string
		switch fe.Tag() {
		case "required":
			msg = "is required"
		case "email":
			msg = "must be a valid email address"
		case "min":
			msg = fmt.Sprintf("must be at least %s", fe.Param())
		case "max":
			msg = fmt.Sprintf("must be at most %s", fe.Param())
		case "len":
			msg = fmt.Sprintf("must be exactly %s characters", fe.Param())
		case "oneof":
			msg = fmt.Sprintf("must be one of: %s", fe.Param())
		default:
			msg = fmt.Sprintf("failed on the '%s' rule", fe.Tag())
		}
		details[fe.Field()] = msg
	}
	return details
}

// decodeAndValidate reads a JSON body into dst and validates it, writing the
// error response itself. It reports whether the handler may continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dst interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("Failed to decode request body")
		msg := errInvalidPayload.Error()
		if errors.Is(err, io.EOF) {
			msg = "request body is empty"
		}
		respondWithJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrorBody{Code: "bad_request", Message: msg}})
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			respondWithValidationError(w, formatValidationErrors(validationErrors))
		} else {
			log.Error().Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
			respondWithError(w, r, err)
		}
		return false
	}
	return true
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.FromString(raw)
	if err != nil {
		log.Warn().Err(err).Str(name, raw).Msg("Failed to parse id parameter from URL")
		return uuid.Nil, errInvalidID
	}
	return id, nil
}

func intQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// principal returns the caller set by auth.RequireAuth.
func principal(r *http.Request) *auth.Principal {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		return &auth.Principal{}
	}
	return p
}
