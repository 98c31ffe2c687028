package auth

import (
	"context"
	"sort"
	"sync"

	"github.com/hitoshi/holaholidays/internal/model"
	"github.com/hitoshi/holaholidays/internal/repository"
)

// --- モック定義 ---

// memPrincipalRepo はメモリ上の主体ストア。fn フィールドが設定されていればそちらを優先する。
type memPrincipalRepo struct {
	mu         sync.Mutex
	principals map[string]*model.Principal
	identities *memIdentityRepo

	findByEmailFn        func(ctx context.Context, email string) (*model.Principal, error)
	createFn             func(ctx context.Context, p *model.Principal) error
	updateFn             func(ctx context.Context, p *model.Principal) error
	createWithIdentityFn func(ctx context.Context, p *model.Principal, identity *model.Identity) error
}

func newMemPrincipalRepo() *memPrincipalRepo {
	return &memPrincipalRepo{principals: make(map[string]*model.Principal)}
}

func (m *memPrincipalRepo) put(p *model.Principal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.principals[p.ID] = &cp
}

func (m *memPrincipalRepo) FindByID(_ context.Context, id string) (*model.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memPrincipalRepo) FindByEmail(ctx context.Context, email string) (*model.Principal, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.principals {
		if p.Email == email {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memPrincipalRepo) emailTaken(email, exceptID string) bool {
	for _, p := range m.principals {
		if p.Email == email && p.ID != exceptID {
			return true
		}
	}
	return false
}

func (m *memPrincipalRepo) Create(ctx context.Context, p *model.Principal) error {
	if m.createFn != nil {
		return m.createFn(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emailTaken(p.Email, "") {
		return repository.ErrDuplicateEmail
	}
	cp := *p
	m.principals[p.ID] = &cp
	return nil
}

func (m *memPrincipalRepo) Update(ctx context.Context, p *model.Principal) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emailTaken(p.Email, p.ID) {
		return repository.ErrDuplicateEmail
	}
	cp := *p
	m.principals[p.ID] = &cp
	return nil
}

func (m *memPrincipalRepo) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.principals, id)
	return nil
}

func (m *memPrincipalRepo) List(_ context.Context) ([]*model.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Principal, 0, len(m.principals))
	for _, p := range m.principals {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.Before(out[j].RegisteredAt) })
	return out, nil
}

func (m *memPrincipalRepo) CreateWithIdentity(ctx context.Context, p *model.Principal, identity *model.Identity) error {
	if m.createWithIdentityFn != nil {
		return m.createWithIdentityFn(ctx, p, identity)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emailTaken(p.Email, "") {
		return repository.ErrDuplicateEmail
	}
	if m.identities != nil {
		if err := m.identities.Create(ctx, identity); err != nil {
			return err
		}
	}
	cp := *p
	m.principals[p.ID] = &cp
	return nil
}

type memIdentityRepo struct {
	mu         sync.Mutex
	identities map[string]*model.Identity

	findFn   func(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
	createFn func(ctx context.Context, identity *model.Identity) error
}

func newMemIdentityRepo() *memIdentityRepo {
	return &memIdentityRepo{identities: make(map[string]*model.Identity)}
}

func identityKey(provider, providerUserID string) string {
	return provider + "\x00" + providerUserID
}

func (m *memIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	if m.findFn != nil {
		return m.findFn(ctx, provider, providerUserID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.identities[identityKey(provider, providerUserID)]
	if !ok {
		return nil, nil
	}
	cp := *identity
	return &cp, nil
}

func (m *memIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	if m.createFn != nil {
		return m.createFn(ctx, identity)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := identityKey(identity.Provider, identity.ProviderUserID)
	if _, ok := m.identities[key]; ok {
		return repository.ErrIdentityExists
	}
	cp := *identity
	m.identities[key] = &cp
	return nil
}

func (m *memIdentityRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.identities)
}

type mockSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session

	createFn     func(ctx context.Context, session *model.Session) error
	findByIDFn   func(ctx context.Context, id string) (*model.Session, error)
	deleteByIDFn func(ctx context.Context, id string) error
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: make(map[string]*model.Session)}
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *mockSessionRepo) DeleteByPrincipal(_ context.Context, kind model.PrincipalKind, principalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.Kind == kind && s.PrincipalID == principalID {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *mockSessionRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

type mockOAuthProvider struct {
	name           string
	getLoginURLFn  func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (*FederatedProfile, error)
}

func (m *mockOAuthProvider) Name() string {
	return m.name
}

func (m *mockOAuthProvider) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*FederatedProfile, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, nil
}

// plainHasher はbcryptを使わないテスト用ハッシャー。
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if looksLikeBcrypt(password) {
		return "", ErrPreHashedPassword
	}
	return "$2a$plain$" + password, nil
}

func (plainHasher) Verify(digest, password string) bool {
	return digest == "$2a$plain$"+password
}

type recordedCall struct {
	name    string
	label   string
	outcome string
}

type mockRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (r *mockRecorder) add(name, label, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{name: name, label: label, outcome: outcome})
}

func (r *mockRecorder) RecordLogin(kind, outcome string)              { r.add("login", kind, outcome) }
func (r *mockRecorder) RecordRegistration(kind, outcome string)       { r.add("registration", kind, outcome) }
func (r *mockRecorder) RecordSessionCreated(kind string)              { r.add("session", kind, "") }
func (r *mockRecorder) RecordFederatedLogin(provider, outcome string) { r.add("federated", provider, outcome) }

func (r *mockRecorder) has(name, label, outcome string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.name == name && c.label == label && c.outcome == outcome {
			return true
		}
	}
	return false
}

// --- compile-time interface checks ---
var _ repository.CustomerRepository = (*memPrincipalRepo)(nil)
var _ repository.IdentityRepository = (*memIdentityRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ OAuthProvider = (*mockOAuthProvider)(nil)
var _ PasswordHasher = plainHasher{}
var _ MetricsRecorder = (*mockRecorder)(nil)
