package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

type Service interface {
	Register(ctx context.Context, email, password string) (*User, error)
	Authenticate(ctx context.Context, email, password string) (*User, error)
	LoginWithIdentity(ctx context.Context, subject, email string) (*User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)

	GetProfile(ctx context.Context, userID uuid.UUID) (*Profile, error)
	UpdateProfile(ctx context.Context, profile *Profile) (*Profile, error)

	ListAddresses(ctx context.Context, userID uuid.UUID) ([]Address, error)
	AddAddress(ctx context.Context, address *Address) (*Address, error)
	DeleteAddress(ctx context.Context, userID, id uuid.UUID) error
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *service) Register(ctx context.Context, email, password string) (*User, error) {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to generate password hash")
		return nil, fmt.Errorf("internal error hashing password: %w", err)
	}

	user := &User{
		Email:        normalizeEmail(email),
		PasswordHash: string(hash),
		Role:         RoleCustomer,
	}

	id, err := s.repo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, ErrEmailExists) {
			return nil, ErrEmailExists
		}
		log.Error().Err(err).Msg("service: failed to create user in repository")
		return nil, fmt.Errorf("failed to save user: %w", err)
	}
	user.ID = id

	log.Info().Stringer("user_id", id).Msg("service: user registered")
	return user, nil
}

func (s *service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		log.Error().Err(err).Msg("service: failed to get user by email in repository")
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	// Accounts created through the identity provider have no password.
	if user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		log.Warn().Stringer("user_id", user.ID).Msg("service: password mismatch")
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// LoginWithIdentity finds the user behind an identity-provider subject,
// linking or creating an account on first sign-in.
func (s *service) LoginWithIdentity(ctx context.Context, subject, email string) (*User, error) {
	if subject == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.repo.GetByOIDCSubject(ctx, subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get user by subject: %w", err)
	}

	email = normalizeEmail(email)
	if email != "" {
		existing, err := s.repo.GetByEmail(ctx, email)
		switch {
		case err == nil:
			if err := s.repo.LinkOIDCSubject(ctx, existing.ID, subject); err != nil {
				return nil, fmt.Errorf("failed to link identity: %w", err)
			}
			existing.OIDCSubject = subject
			log.Info().Stringer("user_id", existing.ID).Msg("service: identity linked to existing user")
			return existing, nil
		case !errors.Is(err, ErrNotFound):
			return nil, fmt.Errorf("failed to get user by email: %w", err)
		}
	}

	user = &User{Email: email, OIDCSubject: subject, Role: RoleCustomer}
	id, err := s.repo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, ErrEmailExists) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("failed to save user: %w", err)
	}
	user.ID = id

	log.Info().Stringer("user_id", id).Msg("service: user created from identity provider")
	return user, nil
}

func (s *service) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		log.Error().Err(err).Stringer("user_id", id).Msg("service: failed to get user by id in repository")
		return nil, fmt.Errorf("failed to get user by id '%s': %w", id, err)
	}
	return user, nil
}

func (s *service) GetProfile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	profile, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &Profile{UserID: userID}, nil
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return profile, nil
}

func (s *service) UpdateProfile(ctx context.Context, profile *Profile) (*Profile, error) {
	profile.FirstName = strings.TrimSpace(profile.FirstName)
	profile.LastName = strings.TrimSpace(profile.LastName)
	profile.Phone = strings.TrimSpace(profile.Phone)

	if err := s.repo.UpdateProfile(ctx, profile); err != nil {
		log.Error().Err(err).Stringer("user_id", profile.UserID).Msg("service: failed to update profile")
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return profile, nil
}

func (s *service) ListAddresses(ctx context.Context, userID uuid.UUID) ([]Address, error) {
	addresses, err := s.repo.ListAddresses(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}
	return addresses, nil
}

func (s *service) AddAddress(ctx context.Context, address *Address) (*Address, error) {
	address.Country = strings.ToUpper(strings.TrimSpace(address.Country))

	existing, err := s.repo.ListAddresses(ctx, address.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}
	// The first address becomes the default.
	if len(existing) == 0 {
		address.IsDefault = true
	}

	if err := s.repo.CreateAddress(ctx, address); err != nil {
		log.Error().Err(err).Stringer("user_id", address.UserID).Msg("service: failed to create address")
		return nil, fmt.Errorf("failed to create address: %w", err)
	}
	return address, nil
}

func (s *service) DeleteAddress(ctx context.Context, userID, id uuid.UUID) error {
	if err := s.repo.DeleteAddress(ctx, userID, id); err != nil {
		if errors.Is(err, ErrAddressNotFound) {
			return ErrAddressNotFound
		}
		return fmt.Errorf("failed to delete address: %w", err)
	}
	return nil
}
