package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	domainauth "swapyard/internal/domain/auth"
	domainuser "swapyard/internal/domain/user"
	"swapyard/internal/infra/security"
	"swapyard/internal/infra/storage/memory"
)

func newService(t *testing.T) (*Service, *memory.UserRepository, *memory.SessionStore) {
	t.Helper()
	users := memory.NewUserRepository()
	sessions := memory.NewSessionStore()
	svc := &Service{
		Users:     users,
		Sessions:  sessions,
		Passwords: security.BcryptHasher{Cost: 4},
		Tokens:    security.RandomTokenGenerator{},
	}
	return svc, users, sessions
}

func register(t *testing.T, svc *Service, email, username string) *AuthResult {
	t.Helper()
	res, err := svc.Register(context.Background(), RegisterParams{
		Email:    email,
		Username: username,
		Password: "correct horse",
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return res
}

func TestRegisterIssuesWorkingSession(t *testing.T) {
	svc, _, _ := newService(t)
	res := register(t, svc, " Alice@Example.COM ", "alice")

	if res.User.Email != "alice@example.com" {
		t.Fatalf("email must be normalized, got %q", res.User.Email)
	}
	if res.User.PasswordHash == "correct horse" {
		t.Fatal("password stored in the clear")
	}
	if res.Token == "" {
		t.Fatal("registration must return a session token")
	}

	resolved, err := svc.ResolveToken(context.Background(), res.Token)
	if err != nil {
		t.Fatalf("ResolveToken: %v", err)
	}
	if resolved.User.ID != res.User.ID {
		t.Fatalf("resolved wrong user: %s", resolved.User.ID)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		params RegisterParams
		want   error
	}{
		{"missing email", RegisterParams{Username: "alice", Password: "correct horse"}, domainuser.ErrEmailRequired},
		{"missing username", RegisterParams{Email: "a@example.com", Password: "correct horse"}, domainuser.ErrUsernameRequired},
		{"short password", RegisterParams{Email: "a@example.com", Username: "alice", Password: "hunter2"}, ErrPasswordTooShort},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Register(ctx, tc.params); !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc, _, _ := newService(t)
	register(t, svc, "alice@example.com", "alice")

	_, err := svc.Register(context.Background(), RegisterParams{
		Email:    "ALICE@example.com",
		Username: "alice2",
		Password: "correct horse",
	})
	if !errors.Is(err, domainuser.ErrEmailAlreadyUsed) {
		t.Fatalf("want ErrEmailAlreadyUsed, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc, _, _ := newService(t)
	register(t, svc, "alice@example.com", "alice")
	ctx := context.Background()

	res, err := svc.Login(ctx, LoginParams{Email: "alice@example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Token == "" {
		t.Fatal("login must return a session token")
	}

	if _, err := svc.Login(ctx, LoginParams{Email: "alice@example.com", Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: want ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, LoginParams{Email: "nobody@example.com", Password: "correct horse"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown account: want ErrInvalidCredentials, got %v", err)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	svc, _, _ := newService(t)
	res := register(t, svc, "alice@example.com", "alice")
	ctx := context.Background()

	if err := svc.Logout(ctx, res.Token); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.ResolveToken(ctx, res.Token); !errors.Is(err, domainauth.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound after logout, got %v", err)
	}

	// Logging out an already-dead token is not an error.
	if err := svc.Logout(ctx, res.Token); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
}

func TestResolveTokenExpiry(t *testing.T) {
	svc, _, _ := newService(t)
	svc.SessionTTL = time.Millisecond
	res := register(t, svc, "alice@example.com", "alice")

	time.Sleep(5 * time.Millisecond)
	if _, err := svc.ResolveToken(context.Background(), res.Token); !errors.Is(err, domainauth.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound for expired session, got %v", err)
	}
}

func TestResolveTokenDropsSessionsOfDeletedUsers(t *testing.T) {
	svc, users, sessions := newService(t)
	res := register(t, svc, "alice@example.com", "alice")
	ctx := context.Background()

	if err := users.Delete(ctx, res.User.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.ResolveToken(ctx, res.Token); !errors.Is(err, domainauth.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}
	// The orphaned session is gone too.
	if _, err := sessions.Get(ctx, domainauth.Token(res.Token)); !errors.Is(err, domainauth.ErrSessionNotFound) {
		t.Fatalf("orphaned session must be removed, got %v", err)
	}
}

func TestResolveTokenRequiresToken(t *testing.T) {
	svc, _, _ := newService(t)
	if _, err := svc.ResolveToken(context.Background(), "  "); !errors.Is(err, domainauth.ErrTokenRequired) {
		t.Fatalf("want ErrTokenRequired, got %v", err)
	}
}
