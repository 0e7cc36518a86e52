// Package auth implements the single-administrator credential subsystem:
// a memory-hard password hash at rest and signed short-lived tokens in
// flight.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clawpen/clawpen/internal/clawpen/store"
)

// signingSecretLen is the byte length of the generated signing secret.
const signingSecretLen = 32

// Errors surfaced by the auth service.
var (
	// ErrInvalidCredentials is returned for every login failure. It does
	// not distinguish "no admin registered" from "wrong password" so the
	// endpoint cannot be used as an existence oracle.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrAlreadyExists is returned by Register when an admin record exists.
	ErrAlreadyExists = errors.New("auth: administrator already registered")

	// ErrRegistrationDisabled is returned by Register when the registration
	// opt-in is not set.
	ErrRegistrationDisabled = errors.New("auth: registration is disabled")
)

// TokenPair is the result of a successful login.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Status describes the auth configuration to unauthenticated clients.
type Status struct {
	AuthEnabled         bool `json:"auth_enabled"`
	HasAdmin            bool `json:"has_admin"`
	RegistrationEnabled bool `json:"registration_enabled"`
}

// Service issues and validates credentials. The signing secret is loaded
// once at construction and never changes during the process lifetime;
// regenerating it would silently invalidate every outstanding token.
type Service struct {
	store               *store.Store
	secret              []byte
	registrationEnabled bool
	logger              *slog.Logger

	// now is swappable for expiry tests.
	now func() time.Time
}

// NewService loads or generates the signing secret and returns the service.
// A present but undecodable secret is corruption and returns an error the
// caller must treat as fatal: serving with a guessed secret would break
// every outstanding token.
func NewService(ctx context.Context, s *store.Store, registrationEnabled bool, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	secret, err := loadOrGenerateSecret(ctx, s)
	if err != nil {
		return nil, err
	}

	// A present but unparsable password hash is equally fatal: login could
	// never succeed and the operator must intervene.
	if cred, err := s.GetAdminCredential(ctx); err == nil {
		if _, _, _, _, _, perr := parseHash(cred.PasswordHash); perr != nil {
			return nil, fmt.Errorf("auth: stored password hash is corrupt: %w", perr)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	return &Service{
		store:               s,
		secret:              secret,
		registrationEnabled: registrationEnabled,
		logger:              logger,
		now:                 time.Now,
	}, nil
}

func loadOrGenerateSecret(ctx context.Context, s *store.Store) ([]byte, error) {
	encoded, err := s.GetSigningSecret(ctx)
	if errors.Is(err, store.ErrNotFound) {
		raw := make([]byte, signingSecretLen)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("auth: generate signing secret: %w", err)
		}
		if err := s.SetSigningSecret(ctx, hex.EncodeToString(raw)); err != nil {
			// Lost a race with a concurrent first start; re-read the winner.
			if errors.Is(err, store.ErrDuplicate) {
				encoded, err = s.GetSigningSecret(ctx)
				if err != nil {
					return nil, err
				}
				return decodeSecret(encoded)
			}
			return nil, err
		}
		return raw, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeSecret(encoded)
}

func decodeSecret(encoded string) ([]byte, error) {
	raw, err := hex.DecodeString(encoded)
	if err != nil || len(raw) != signingSecretLen {
		return nil, fmt.Errorf("auth: stored signing secret is corrupt")
	}
	return raw, nil
}

// SetPassword hashes and stores the admin password, overwriting any existing
// record. This is the administrative CLI path; the HTTP path is Register.
func (s *Service) SetPassword(ctx context.Context, password string) error {
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	if err := s.store.SetAdminCredential(ctx, hash); err != nil {
		return err
	}
	s.logger.Info("admin password set")
	return nil
}

// Register creates the admin record via the opt-in registration endpoint.
// Unlike SetPassword it refuses to overwrite an existing record.
func (s *Service) Register(ctx context.Context, password string) error {
	if !s.registrationEnabled {
		return ErrRegistrationDisabled
	}
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	if err := s.store.CreateAdminCredential(ctx, hash); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return ErrAlreadyExists
		}
		return err
	}
	s.logger.Info("admin registered")
	return nil
}

// Login verifies the password and issues an access/refresh token pair. All
// failures collapse into ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, password string) (*TokenPair, error) {
	cred, err := s.store.GetAdminCredential(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := verifyPassword(cred.PasswordHash, password)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	access, err := issueToken(s.secret, TokenKindAccess, AccessTokenTTL, now)
	if err != nil {
		return nil, err
	}
	refresh, err := issueToken(s.secret, TokenKindRefresh, RefreshTokenTTL, now)
	if err != nil {
		return nil, err
	}
	s.logger.Info("admin logged in")
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(AccessTokenTTL.Seconds()),
	}, nil
}

// Refresh validates a refresh token and issues a new access token. The
// refresh token itself is neither extended nor rotated.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if _, err := parseToken(s.secret, refreshToken, TokenKindRefresh); err != nil {
		return nil, err
	}
	access, err := issueToken(s.secret, TokenKindAccess, AccessTokenTTL, s.now())
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(AccessTokenTTL.Seconds()),
	}, nil
}

// Validate checks an access token. Stateless: signature plus expiry only, no
// revocation list.
func (s *Service) Validate(accessToken string) error {
	_, err := parseToken(s.secret, accessToken, TokenKindAccess)
	return err
}

// Status reports the auth configuration for unauthenticated clients.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	hasAdmin := true
	if _, err := s.store.GetAdminCredential(ctx); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		hasAdmin = false
	}
	return &Status{
		AuthEnabled:         true,
		HasAdmin:            hasAdmin,
		RegistrationEnabled: s.registrationEnabled,
	}, nil
}
