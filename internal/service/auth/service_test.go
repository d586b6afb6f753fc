package auth

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"log/slog"

	"github.com/skaldera/vigil/internal/config"
	"github.com/skaldera/vigil/internal/domain"
	"github.com/skaldera/vigil/internal/repository"
	"github.com/skaldera/vigil/pkg/crypto"
)

type proctorRepoMock struct {
	createFunc     func(ctx context.Context, proctor *domain.Proctor) error
	getByEmailFunc func(ctx context.Context, email string) (*domain.Proctor, error)
	getByIDFunc    func(ctx context.Context, id string) (*domain.Proctor, error)
}

func (m *proctorRepoMock) CreateProctor(ctx context.Context, proctor *domain.Proctor) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, proctor)
	}
	return nil
}

func (m *proctorRepoMock) GetProctorByEmail(ctx context.Context, email string) (*domain.Proctor, error) {
	if m.getByEmailFunc != nil {
		return m.getByEmailFunc(ctx, email)
	}
	return nil, repository.ErrNotFound
}

func (m *proctorRepoMock) GetProctorByID(ctx context.Context, id string) (*domain.Proctor, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.API {
	return config.API{JWTSecret: "test-secret", AccessTokenTTLMin: 60}
}

func TestSignupCreatesProctorAndToken(t *testing.T) {
	var created *domain.Proctor
	repo := &proctorRepoMock{
		createFunc: func(_ context.Context, proctor *domain.Proctor) error {
			created = proctor
			return nil
		},
	}
	svc := New(repo, newLogger(), testConfig())

	proctor, token, err := svc.Signup(context.Background(), "  Proctor@Example.COM ", "longenoughpw")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created == nil {
		t.Fatal("expected proctor persisted")
	}
	if proctor.Email != "proctor@example.com" {
		t.Fatalf("expected normalized email, got %q", proctor.Email)
	}
	if token.AccessToken == "" {
		t.Fatal("expected access token")
	}
	if token.ExpiresIn != time.Hour {
		t.Fatalf("unexpected ttl: %v", token.ExpiresIn)
	}
	if err := crypto.ComparePassword(created.PasswordHash, "longenoughpw"); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}
}

func TestSignupRejectsBadInput(t *testing.T) {
	svc := New(&proctorRepoMock{}, newLogger(), testConfig())

	if _, _, err := svc.Signup(context.Background(), "not-an-email", "longenoughpw"); err == nil {
		t.Fatal("expected error for invalid email")
	}
	if _, _, err := svc.Signup(context.Background(), "ok@example.com", "short"); err == nil {
		t.Fatal("expected error for short password")
	}
}

func TestLoginVerifiesPassword(t *testing.T) {
	hash, err := crypto.HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	repo := &proctorRepoMock{
		getByEmailFunc: func(_ context.Context, email string) (*domain.Proctor, error) {
			if email != "proctor@example.com" {
				t.Fatalf("unexpected email lookup: %q", email)
			}
			return &domain.Proctor{ID: "p-1", Email: email, PasswordHash: hash}, nil
		},
	}
	svc := New(repo, newLogger(), testConfig())

	proctor, token, err := svc.Login(context.Background(), "Proctor@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if proctor.ID != "p-1" || token.AccessToken == "" {
		t.Fatalf("unexpected login result: %+v %+v", proctor, token)
	}

	if _, _, err := svc.Login(context.Background(), "proctor@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginUnknownEmailHidesExistence(t *testing.T) {
	svc := New(&proctorRepoMock{}, newLogger(), testConfig())
	if _, _, err := svc.Login(context.Background(), "ghost@example.com", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthorizeRoundTrip(t *testing.T) {
	repo := &proctorRepoMock{
		getByIDFunc: func(_ context.Context, id string) (*domain.Proctor, error) {
			return &domain.Proctor{ID: id, Email: "proctor@example.com"}, nil
		},
	}
	svc := New(repo, newLogger(), testConfig())
	createRepo := &proctorRepoMock{}
	signupSvc := New(createRepo, newLogger(), testConfig())

	_, token, err := signupSvc.Signup(context.Background(), "proctor@example.com", "longenoughpw")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	proctor, err := svc.Authorize(context.Background(), token.AccessToken)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if proctor.Email != "proctor@example.com" {
		t.Fatalf("unexpected proctor: %+v", proctor)
	}
}

func TestAuthorizeRejectsTamperedToken(t *testing.T) {
	svc := New(&proctorRepoMock{}, newLogger(), testConfig())
	_, token, err := svc.Signup(context.Background(), "proctor@example.com", "longenoughpw")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	tampered := token.AccessToken[:len(token.AccessToken)-2] + "xx"
	if _, err := svc.Authorize(context.Background(), tampered); err == nil {
		t.Fatal("expected error for tampered token")
	}
	if _, err := svc.Authorize(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty token")
	}

	otherSecret := svc
	otherSecret.cfg.JWTSecret = "different-secret"
	if _, err := otherSecret.Authorize(context.Background(), token.AccessToken); err == nil {
		t.Fatal("expected error for wrong signing secret")
	}
}
