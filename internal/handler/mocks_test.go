package handler

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/holaholidays/internal/auth"
	"github.com/hitoshi/holaholidays/internal/model"
)

// --- モック定義 ---

type mockAccountService struct {
	registerFn      func(ctx context.Context, kind model.PrincipalKind, in auth.RegisterInput) (*model.Principal, error)
	loginFn         func(ctx context.Context, kind model.PrincipalKind, email, password string) (*auth.LoginResult, error)
	logoutFn        func(ctx context.Context, sessionID string) error
	getProfileFn    func(ctx context.Context, pc *model.PrincipalContext) (*model.Principal, error)
	updateProfileFn func(ctx context.Context, pc *model.PrincipalContext, upd auth.ProfileUpdate) (*model.Principal, error)
}

func (m *mockAccountService) Register(ctx context.Context, kind model.PrincipalKind, in auth.RegisterInput) (*model.Principal, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, kind, in)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAccountService) Login(ctx context.Context, kind model.PrincipalKind, email, password string) (*auth.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, kind, email, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAccountService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAccountService) GetProfile(ctx context.Context, pc *model.PrincipalContext) (*model.Principal, error) {
	if m.getProfileFn != nil {
		return m.getProfileFn(ctx, pc)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAccountService) UpdateProfile(ctx context.Context, pc *model.PrincipalContext, upd auth.ProfileUpdate) (*model.Principal, error) {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, pc, upd)
	}
	return nil, errors.New("not implemented")
}

type mockFederatedService struct {
	providers       map[string]bool
	loginURLFn      func(provider, state string) (string, error)
	completeLoginFn func(ctx context.Context, provider, code string) (*auth.LoginResult, error)
}

func (m *mockFederatedService) HasProvider(name string) bool {
	return m.providers[name]
}

func (m *mockFederatedService) FederatedLoginURL(provider, state string) (string, error) {
	if m.loginURLFn != nil {
		return m.loginURLFn(provider, state)
	}
	return "https://idp.example/authorize?state=" + state, nil
}

func (m *mockFederatedService) CompleteFederatedLogin(ctx context.Context, provider, code string) (*auth.LoginResult, error) {
	if m.completeLoginFn != nil {
		return m.completeLoginFn(ctx, provider, code)
	}
	return nil, errors.New("not implemented")
}

type mockUserService struct {
	withdrawFn       func(ctx context.Context, customerID string) error
	listCustomersFn  func(ctx context.Context) ([]*model.Principal, error)
	getCustomerFn    func(ctx context.Context, customerID string) (*model.Principal, error)
	deleteCustomerFn func(ctx context.Context, actor *model.PrincipalContext, customerID string) error
	updateCustomerFn func(ctx context.Context, actor *model.PrincipalContext, customerID string, upd auth.ProfileUpdate) (*model.Principal, error)
}

func (m *mockUserService) Withdraw(ctx context.Context, customerID string) error {
	if m.withdrawFn != nil {
		return m.withdrawFn(ctx, customerID)
	}
	return nil
}

func (m *mockUserService) ListCustomers(ctx context.Context) ([]*model.Principal, error) {
	if m.listCustomersFn != nil {
		return m.listCustomersFn(ctx)
	}
	return nil, nil
}

func (m *mockUserService) GetCustomer(ctx context.Context, customerID string) (*model.Principal, error) {
	if m.getCustomerFn != nil {
		return m.getCustomerFn(ctx, customerID)
	}
	return nil, model.NewNotFoundError("Customer")
}

func (m *mockUserService) DeleteCustomer(ctx context.Context, actor *model.PrincipalContext, customerID string) error {
	if m.deleteCustomerFn != nil {
		return m.deleteCustomerFn(ctx, actor, customerID)
	}
	return nil
}

func (m *mockUserService) UpdateCustomer(ctx context.Context, actor *model.PrincipalContext, customerID string, upd auth.ProfileUpdate) (*model.Principal, error) {
	if m.updateCustomerFn != nil {
		return m.updateCustomerFn(ctx, actor, customerID, upd)
	}
	return nil, model.NewNotFoundError("Customer")
}

type mockTokenVerifier struct {
	claims map[string]*auth.TokenClaims
}

func (m *mockTokenVerifier) Verify(token string) (*auth.TokenClaims, error) {
	if c, ok := m.claims[token]; ok {
		return c, nil
	}
	return nil, auth.ErrInvalidToken
}

// tokenAuthenticator はトークン文字列から主体を引く認証のスタブ。
type tokenAuthenticator map[string]*model.PrincipalContext

func (a tokenAuthenticator) Authenticate(ctx context.Context, creds auth.Credentials) (*model.PrincipalContext, error) {
	if creds.Token == "" {
		return nil, &auth.AuthError{Cause: auth.CauseNoCredential}
	}
	pc, ok := a[creds.Token]
	if !ok {
		return nil, &auth.AuthError{Cause: auth.CauseTokenInvalid}
	}
	return pc, nil
}

// --- テストデータ ---

func testCustomer() *model.Principal {
	return &model.Principal{
		ID:           "7c9e6679-7425-40de-944b-e07fc1f90ae7",
		Kind:         model.KindCustomer,
		Email:        "alice@example.com",
		Credential:   model.LocalCredential{Hash: "$2a$10$secret-hash-value"},
		FirstName:    "Alice",
		LastName:     "Smith",
		Telephone:    "0123456789",
		Address:      "1 Main Street",
		Gender:       "Female",
		Country:      "Japan",
		Pic:          model.DefaultPic,
		RegisteredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func testAdmin(approved bool) *model.Principal {
	return &model.Principal{
		ID:         "a1a1a1a1-0000-4000-8000-000000000001",
		Kind:       model.KindAdmin,
		Email:      "root@example.com",
		Credential: model.LocalCredential{Hash: "$2a$10$admin-hash-value"},
		Name:       "Root Admin",
		Pic:        model.DefaultPic,
		IsAdmin:    approved,
	}
}

func testLoginResult(p *model.Principal) *auth.LoginResult {
	expires := time.Now().Add(7 * 24 * time.Hour)
	return &auth.LoginResult{
		Principal: p,
		Session: &model.Session{
			ID:          "session-0123456789abcdef",
			PrincipalID: p.ID,
			Kind:        p.Kind,
			ExpiresAt:   expires,
			CreatedAt:   time.Now(),
		},
		Token:          "signed.jwt.token",
		TokenExpiresAt: expires,
	}
}
