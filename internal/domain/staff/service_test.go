package staff

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinic/internal/platform/apperr"
	"github.com/ehr/clinic/internal/platform/auth"
)

// -- Mock Repository --

type mockUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*User
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[uuid.UUID]*User)}
}

func (m *mockUserRepo) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrEmailTaken
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *mockUserRepo) ListByRole(_ context.Context, role auth.Role, limit, offset int) ([]*User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*User
	for _, u := range m.users {
		if u.Role == role {
			result = append(result, u)
		}
	}
	total := len(result)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return result[offset:end], total, nil
}

func (m *mockUserRepo) CountByRole(ctx context.Context, role auth.Role) (int, error) {
	_, n, err := m.ListByRole(ctx, role, 0, 0)
	return n, err
}

func (m *mockUserRepo) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	return nil
}

// plainHasher keeps tests fast; the bcrypt hasher has its own tests.
type plainHasher struct{}

func (plainHasher) Hash(p string) (string, error) { return "hashed:" + p, nil }
func (plainHasher) Verify(p, h string) bool { return h == "hashed:"+p }

func newTestService(t *testing.T) (*Service, *mockUserRepo) {
	t.Helper()
	tokens, err := auth.NewTokenService([]byte("staff-test-secret"), 0)
	if err != nil {
		t.Fatal(err)
	}
	repo := newMockUserRepo()
	return NewService(repo, plainHasher{}, tokens), repo
}

func TestService_RegisterCreatesManagement(t *testing.T) {
	svc, _ := newTestService(t)
	u, err := svc.Register(context.Background(), UserCreate{Username: "boss", Email: " Boss@Clinic.test ", Password: "pw"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Role != auth.RoleManagement || !u.IsActive {
		t.Errorf("expected active management account, got %+v", u)
	}
	if u.Email != "boss@clinic.test" {
		t.Errorf("expected normalized email, got %q", u.Email)
	}
	if u.PasswordHash == "pw" {
		t.Error("password must be hashed")
	}
}

func TestService_ProvisionFixesRole(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	d, err := svc.CreateDoctor(ctx, UserCreate{Username: "doc", Email: "doc@clinic.test", Password: "pw"})
	if err != nil || d.Role != auth.RoleDoctor || !d.IsActive {
		t.Fatalf("CreateDoctor: %+v, %v", d, err)
	}
	n, err := svc.CreateNurse(ctx, UserCreate{Username: "nurse", Email: "nurse@clinic.test", Password: "pw"})
	if err != nil || n.Role != auth.RoleNurse || !n.IsActive {
		t.Fatalf("CreateNurse: %+v, %v", n, err)
	}

	doctors, total, err := svc.ListDoctors(ctx, 10, 0)
	if err != nil || total != 1 || len(doctors) != 1 || doctors[0].ID != d.ID {
		t.Errorf("ListDoctors: %v total=%d err=%v", doctors, total, err)
	}
	nurses, total, _ := svc.ListNurses(ctx, 10, 0)
	if total != 1 || nurses[0].ID != n.ID {
		t.Errorf("ListNurses: %v total=%d", nurses, total)
	}
}

func TestService_DuplicateEmailConflicts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.CreateDoctor(ctx, UserCreate{Username: "a", Email: "same@clinic.test", Password: "pw"}); err != nil {
		t.Fatal(err)
	}
	_, err := svc.CreateNurse(ctx, UserCreate{Username: "b", Email: "SAME@clinic.test", Password: "pw"})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestService_CreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	long := make([]byte, 73)
	for i := range long {
		long[i] = 'a'
	}
	cases := map[string]UserCreate{
		"no username":   {Email: "a@b.test", Password: "pw"},
		"no email":      {Username: "a", Password: "pw"},
		"bad email":     {Username: "a", Email: "not-an-email", Password: "pw"},
		"display name":  {Username: "a", Email: "Al <a@b.test>", Password: "pw"},
		"blank pass":    {Username: "a", Email: "a@b.test", Password: "   "},
		"long password": {Username: "a", Email: "a@b.test", Password: string(long)},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.CreateDoctor(context.Background(), in); !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestService_LoginIssuesToken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	d, _ := svc.CreateDoctor(ctx, UserCreate{Username: "doc", Email: "doc@clinic.test", Password: "pw"})
	resp, err := svc.Login(ctx, LoginRequest{Email: "Doc@Clinic.test", Password: "pw"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.TokenType != "bearer" || resp.AccessToken == "" {
		t.Errorf("unexpected token response %+v", resp)
	}
	if resp.User.ID != d.ID {
		t.Errorf("expected user %s, got %s", d.ID, resp.User.ID)
	}
	if !resp.ExpiresAt.Equal(now.Add(auth.DefaultTokenTTL)) {
		t.Errorf("expected expiry %s, got %s", now.Add(auth.DefaultTokenTTL), resp.ExpiresAt)
	}
}

func TestService_LoginDoesNotRevealWhichFieldWasWrong(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	svc.CreateDoctor(ctx, UserCreate{Username: "doc", Email: "doc@clinic.test", Password: "pw"})
	inactive, _ := svc.CreateNurse(ctx, UserCreate{Username: "n", Email: "off@clinic.test", Password: "pw"})
	repo.users[inactive.ID].IsActive = false

	_, wrongPassword := svc.Login(ctx, LoginRequest{Email: "doc@clinic.test", Password: "nope"})
	_, unknownEmail := svc.Login(ctx, LoginRequest{Email: "ghost@clinic.test", Password: "pw"})
	_, deactivated := svc.Login(ctx, LoginRequest{Email: "off@clinic.test", Password: "pw"})

	for name, err := range map[string]error{"wrong password": wrongPassword, "unknown email": unknownEmail, "inactive": deactivated} {
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("%s: expected ErrInvalidCredentials, got %v", name, err)
		}
	}
	if wrongPassword.Error() != unknownEmail.Error() {
		t.Errorf("messages differ: %q vs %q", wrongPassword, unknownEmail)
	}
}

// countingHasher records which hashes Verify was asked to compare against.
type countingHasher struct {
	plainHasher
	verified []string
}

func (h *countingHasher) Verify(p, hash string) bool {
	h.verified = append(h.verified, hash)
	return h.plainHasher.Verify(p, hash)
}

func TestService_LoginHashesForUnknownEmail(t *testing.T) {
	tokens, err := auth.NewTokenService([]byte("staff-test-secret"), 0)
	if err != nil {
		t.Fatal(err)
	}
	hasher := &countingHasher{}
	svc := NewService(newMockUserRepo(), hasher, tokens)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.Login(ctx, LoginRequest{Email: "ghost@clinic.test", Password: "pw"}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	}
	if len(hasher.verified) != 2 {
		t.Fatalf("expected a password comparison per unknown-email login, got %d", len(hasher.verified))
	}
	if hasher.verified[0] == "" || hasher.verified[0] != hasher.verified[1] {
		t.Errorf("expected one reusable decoy hash, got %q", hasher.verified)
	}
}

func TestService_ChangePassword(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	n, _ := svc.CreateNurse(ctx, UserCreate{Username: "n", Email: "n@clinic.test", Password: "old"})

	if err := svc.ChangePassword(ctx, n.ID, PasswordChange{OldPassword: "wrong", NewPassword: "new"}); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected Unauthorized for wrong old password, got %v", err)
	}
	if err := svc.ChangePassword(ctx, n.ID, PasswordChange{OldPassword: "old", NewPassword: "  "}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected Validation for empty new password, got %v", err)
	}
	if err := svc.ChangePassword(ctx, n.ID, PasswordChange{OldPassword: "old", NewPassword: "new"}); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := svc.Login(ctx, LoginRequest{Email: "n@clinic.test", Password: "new"}); err != nil {
		t.Errorf("expected login with new password, got %v", err)
	}
	if _, err := svc.Login(ctx, LoginRequest{Email: "n@clinic.test", Password: "old"}); err == nil {
		t.Error("old password must stop working")
	}
}

func TestService_Bootstrap(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	in := UserCreate{Username: "root", Email: "root@clinic.test", Password: "pw"}

	u, err := svc.Bootstrap(ctx, in)
	if err != nil || u.Role != auth.RoleManagement {
		t.Fatalf("Bootstrap: %+v, %v", u, err)
	}
	in.Email = "second@clinic.test"
	if _, err := svc.Bootstrap(ctx, in); !errors.Is(err, ErrAlreadyBootstrapped) {
		t.Errorf("expected ErrAlreadyBootstrapped, got %v", err)
	}
}
