package http

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/auth"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/user"
)

const (
	stateCookieName = "storefront_oidc_state"
	stateCookieTTL  = 10 * time.Minute
)

var (
	errOIDCDisabled = errors.New("identity provider login is not configured")
	errInvalidState = errors.New("login state mismatch")
)

type CredentialsRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=72"`
}

type TokenResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      *user.User `json:"user"`
}

type AuthHandler struct {
	users        user.Service
	tokens       *auth.TokenManager
	identity     auth.IdentityProvider
	secureCookie bool
	validate     *validator.Validate
}

// NewAuthHandler builds the login endpoints. identity may be nil when no
// external provider is configured.
func NewAuthHandler(users user.Service, tokens *auth.TokenManager, identity auth.IdentityProvider, secureCookie bool) *AuthHandler {
	return &AuthHandler{
		users:        users,
		tokens:       tokens,
		identity:     identity,
		secureCookie: secureCookie,
		validate:     newValidator(),
	}
}

func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Post("/auth/register", h.handleRegister)
	router.Post("/auth/login", h.handleLogin)
	router.Get("/auth/oidc/login", h.handleOIDCLogin)
	router.Get("/auth/oidc/callback", h.handleOIDCCallback)
}

func (h *AuthHandler) respondWithToken(w http.ResponseWriter, r *http.Request, code int, u *user.User) {
	token, expiresAt, err := h.tokens.Issue(u.ID, u.Role)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithData(w, code, TokenResponse{Token: token, ExpiresAt: expiresAt, User: u})
}

func (h *AuthHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	created, err := h.users.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	h.respondWithToken(w, r, http.StatusCreated, created)
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	u, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	h.respondWithToken(w, r, http.StatusOK, u)
}

func (h *AuthHandler) handleOIDCLogin(w http.ResponseWriter, r *http.Request) {
	if h.identity == nil {
		respondWithError(w, r, errOIDCDisabled)
		return
	}

	state, err := auth.NewState()
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/api/auth/oidc",
		MaxAge:   int(stateCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.identity.AuthCodeURL(state), http.StatusFound)
}

func (h *AuthHandler) handleOIDCCallback(w http.ResponseWriter, r *http.Request) {
	if h.identity == nil {
		respondWithError(w, r, errOIDCDisabled)
		return
	}

	cookie, err := r.Cookie(stateCookieName)
	state := r.URL.Query().Get("state")
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		log.Warn().Msg("OIDC callback with missing or mismatched state")
		respondWithError(w, r, errInvalidState)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/api/auth/oidc",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	code := r.URL.Query().Get("code")
	if code == "" {
		respondWithError(w, r, errInvalidPayload)
		return
	}

	identity, err := h.identity.Exchange(r.Context(), code)
	if err != nil {
		log.Warn().Err(err).Msg("OIDC code exchange failed")
		respondWithError(w, r, auth.ErrIdentityRejected)
		return
	}

	u, err := h.users.LoginWithIdentity(r.Context(), identity.Subject, identity.Email)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	h.respondWithToken(w, r, http.StatusOK, u)
}
