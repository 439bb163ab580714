package staff

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinic/internal/platform/apperr"
	"github.com/ehr/clinic/internal/platform/auth"
)

// ErrAlreadyBootstrapped is returned by Bootstrap once a management account exists.
var ErrAlreadyBootstrapped = fmt.Errorf("%w: a management account already exists", apperr.ErrConflict)

// bcrypt ignores input past 72 bytes.
const maxPasswordBytes = 72

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(id auth.Identity, now time.Time) (string, time.Time, error)
}

type Service struct {
	users  Repository
	hasher auth.PasswordHasher
	tokens TokenIssuer
	now    func() time.Time

	decoyOnce sync.Once
	decoy     string
}

func NewService(users Repository, hasher auth.PasswordHasher, tokens TokenIssuer) *Service {
	return &Service{users: users, hasher: hasher, tokens: tokens, now: time.Now}
}

// Login verifies email and password and issues a bearer token. An unknown
// email, a wrong password and a deactivated account all produce the same
// ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, ErrInvalidCredentials
	}

	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		// Spend the same hashing work as a known email would.
		s.hasher.Verify(req.Password, s.decoyHash())
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !s.hasher.Verify(req.Password, u.PasswordHash) || !u.IsActive {
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.tokens.Issue(u.Identity(), s.now())
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &LoginResponse{User: u, AccessToken: token, TokenType: "bearer", ExpiresAt: expiresAt}, nil
}

// decoyHash is a hash of a throwaway password at the hasher's own cost.
func (s *Service) decoyHash() string {
	s.decoyOnce.Do(func() {
		s.decoy, _ = s.hasher.Hash(uuid.NewString())
	})
	return s.decoy
}

// Register creates a management account.
func (s *Service) Register(ctx context.Context, in UserCreate) (*User, error) {
	return s.create(ctx, in, auth.RoleManagement)
}

func (s *Service) CreateDoctor(ctx context.Context, in UserCreate) (*User, error) {
	return s.create(ctx, in, auth.RoleDoctor)
}

func (s *Service) CreateNurse(ctx context.Context, in UserCreate) (*User, error) {
	return s.create(ctx, in, auth.RoleNurse)
}

// Bootstrap creates the first management account. It is only reachable from
// the command line and refuses to run twice.
func (s *Service) Bootstrap(ctx context.Context, in UserCreate) (*User, error) {
	n, err := s.users.CountByRole(ctx, auth.RoleManagement)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, ErrAlreadyBootstrapped
	}
	return s.create(ctx, in, auth.RoleManagement)
}

func (s *Service) create(ctx context.Context, in UserCreate, role auth.Role) (*User, error) {
	u, err := s.validateCreate(in)
	if err != nil {
		return nil, err
	}

	if _, err := s.users.GetByEmail(ctx, u.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	u.PasswordHash = hash
	u.Role = role
	u.IsActive = true
	u.CreatedAt = s.now().UTC()

	// The store's unique index still decides concurrent registrations.
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) validateCreate(in UserCreate) (*User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, apperr.Validation("username is required")
	}
	email := normalizeEmail(in.Email)
	if email == "" {
		return nil, apperr.Validation("email is required")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, apperr.Validation("email %q is not a valid address", in.Email)
	}
	if strings.TrimSpace(in.Password) == "" {
		return nil, apperr.Validation("password is required")
	}
	if len(in.Password) > maxPasswordBytes {
		return nil, apperr.Validation("password must be at most %d bytes", maxPasswordBytes)
	}
	return &User{Username: username, Email: email}, nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) ListDoctors(ctx context.Context, limit, offset int) ([]*User, int, error) {
	return s.users.ListByRole(ctx, auth.RoleDoctor, limit, offset)
}

func (s *Service) ListNurses(ctx context.Context, limit, offset int) ([]*User, int, error) {
	return s.users.ListByRole(ctx, auth.RoleNurse, limit, offset)
}

// ChangePassword replaces the password of userID. The old password is
// checked first; an empty new password is rejected after that.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, in PasswordChange) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(in.OldPassword, u.PasswordHash) {
		return ErrWrongPassword
	}
	if strings.TrimSpace(in.NewPassword) == "" {
		return apperr.Validation("new password must not be empty")
	}
	if len(in.NewPassword) > maxPasswordBytes {
		return apperr.Validation("password must be at most %d bytes", maxPasswordBytes)
	}

	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return err
	}
	return s.users.UpdatePassword(ctx, userID, hash)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
