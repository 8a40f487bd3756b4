package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/config"
	"golang.org/x/oauth2"
)

var ErrIdentityRejected = errors.New("identity provider login failed")

// Identity is what the storefront keeps from a verified ID token.
type Identity struct {
	Subject string
	Email   string
	Name    string
}

type IdentityProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Identity, error)
}

type oidcProvider struct {
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

// NewOIDCProvider discovers the issuer and prepares the authorization code flow.
func NewOIDCProvider(ctx context.Context, cfg config.OIDCConfig) (IdentityProvider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("auth: OIDC provider discovery for %q: %w", cfg.Issuer, err)
	}

	return &oidcProvider{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
	}, nil
}

func (p *oidcProvider) AuthCodeURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state)
}

func (p *oidcProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	oauth2Token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: token exchange: %v", ErrIdentityRejected, err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("%w: no id_token in token response", ErrIdentityRejected)
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: id token verification: %v", ErrIdentityRejected, err)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified *bool  `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: claims: %v", ErrIdentityRejected, err)
	}

	identity := &Identity{Subject: idToken.Subject, Name: claims.Name}
	// An unverified address must not be used to link an existing account.
	if claims.EmailVerified == nil || *claims.EmailVerified {
		identity.Email = claims.Email
	}
	return identity, nil
}

// NewState returns a random value for the OAuth2 state parameter.
func NewState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
