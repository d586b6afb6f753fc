package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/skaldera/vigil/internal/config"
	"github.com/skaldera/vigil/internal/domain"
	"github.com/skaldera/vigil/internal/repository"
	"github.com/skaldera/vigil/pkg/crypto"
	jwtpkg "github.com/skaldera/vigil/pkg/jwt"
)

// ErrInvalidCredentials hides whether the email or the password was wrong.
var ErrInvalidCredentials = errors.New("invalid email or password")

// Service handles proctor authentication workflows.
type Service struct {
	proctors repository.ProctorRepository
	logger   *slog.Logger
	cfg      config.API
	now      func() time.Time
}

// New constructs a Service.
func New(proctors repository.ProctorRepository, logger *slog.Logger, cfg config.API) Service {
	return Service{proctors: proctors, logger: logger, cfg: cfg, now: time.Now}
}

// Token carries an issued access token.
type Token struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// Signup registers a new proctor.
func (s Service) Signup(ctx context.Context, email, password string) (*domain.Proctor, Token, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, Token{}, errors.New("valid email required")
	}
	if len(password) < 8 {
		return nil, Token{}, errors.New("password must be at least 8 characters")
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, Token{}, err
	}
	proctor := &domain.Proctor{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.proctors.CreateProctor(ctx, proctor); err != nil {
		return nil, Token{}, err
	}
	token, err := s.issueToken(proctor.ID)
	if err != nil {
		return nil, Token{}, err
	}
	s.logger.Info("proctor registered", "proctor_id", proctor.ID)
	return proctor, token, nil
}

// Login authenticates a proctor and returns an access token.
func (s Service) Login(ctx context.Context, email, password string) (*domain.Proctor, Token, error) {
	proctor, err := s.proctors.GetProctorByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, Token{}, ErrInvalidCredentials
		}
		return nil, Token{}, err
	}
	if err := crypto.ComparePassword(proctor.PasswordHash, password); err != nil {
		return nil, Token{}, ErrInvalidCredentials
	}
	token, err := s.issueToken(proctor.ID)
	if err != nil {
		return nil, Token{}, err
	}
	s.logger.Info("proctor logged in", "proctor_id", proctor.ID)
	return proctor, token, nil
}

// Authorize validates a bearer token and returns the associated proctor.
func (s Service) Authorize(ctx context.Context, token string) (*domain.Proctor, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, errors.New("token required")
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	return s.proctors.GetProctorByID(ctx, claims.ProctorID)
}

func (s Service) issueToken(proctorID string) (Token, error) {
	access, err := jwtpkg.GenerateToken(proctorID, s.cfg.JWTSecret, s.cfg.AccessTokenTTL())
	if err != nil {
		return Token{}, err
	}
	return Token{AccessToken: access, ExpiresIn: s.cfg.AccessTokenTTL()}, nil
}
