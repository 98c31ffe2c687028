package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/holaholidays/internal/metrics"
	"github.com/hitoshi/holaholidays/internal/model"
	"github.com/hitoshi/holaholidays/internal/repository"
)

// Sanitizer はプロフィール入力のプレーンテキスト化を行う。
type Sanitizer interface {
	Sanitize(input string) string
}

// MetricsRecorder は認証サービスが記録するメトリクス。
type MetricsRecorder interface {
	RecordLogin(kind, outcome string)
	RecordRegistration(kind, outcome string)
	RecordSessionCreated(kind string)
	RecordFederatedLogin(provider, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordLogin(string, string)          {}
func (nopRecorder) RecordRegistration(string, string)   {}
func (nopRecorder) RecordSessionCreated(string)         {}
func (nopRecorder) RecordFederatedLogin(string, string) {}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	CustomerSessionTTL time.Duration
	AdminSessionTTL    time.Duration
	// TokenTTL はトークンの有効期間。0の場合はセッションと同じ期限とする。
	// トークンの期限がセッションの期限を超えることはない。
	TokenTTL time.Duration
}

// ServiceDeps は認証サービスの依存関係。
type ServiceDeps struct {
	Customers repository.CustomerRepository
	Admins    repository.PrincipalRepository
	Sessions  repository.SessionRepository
	Hasher    PasswordHasher
	Tokens    *TokenManager
	Linker    *Linker
	Providers []OAuthProvider
	Sanitizer Sanitizer
	Pictures  PictureValidator
	Recorder  MetricsRecorder
}

// LoginResult はログイン成功時に発行したセッションとトークン。
type LoginResult struct {
	Principal      *model.Principal
	Session        *model.Session
	Token          string
	TokenExpiresAt time.Time
}

// Service はアカウントのライフサイクル（登録、ログイン、ログアウト、プロフィール管理）を提供する。
type Service struct {
	customers repository.CustomerRepository
	admins    repository.PrincipalRepository
	sessions  repository.SessionRepository
	hasher    PasswordHasher
	tokens    *TokenManager
	linker    *Linker
	providers map[string]OAuthProvider
	sanitizer Sanitizer
	pictures  PictureValidator
	recorder  MetricsRecorder
	config    ServiceConfig
	now       func() time.Time

	dummyOnce   sync.Once
	dummyDigest string
}

// NewService はServiceを生成する。
func NewService(deps ServiceDeps, config ServiceConfig) *Service {
	providers := make(map[string]OAuthProvider, len(deps.Providers))
	for _, p := range deps.Providers {
		providers[p.Name()] = p
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		customers: deps.Customers,
		admins:    deps.Admins,
		sessions:  deps.Sessions,
		hasher:    deps.Hasher,
		tokens:    deps.Tokens,
		linker:    deps.Linker,
		providers: providers,
		sanitizer: deps.Sanitizer,
		pictures:  deps.Pictures,
		recorder:  recorder,
		config:    config,
		now:       time.Now,
	}
}

// store は種別に対応するリポジトリを返す。
func (s *Service) store(kind model.PrincipalKind) (repository.PrincipalRepository, error) {
	switch kind {
	case model.KindCustomer:
		return s.customers, nil
	case model.KindAdmin:
		return s.admins, nil
	default:
		return nil, fmt.Errorf("unknown principal kind: %q", kind)
	}
}

func (s *Service) sanitize(v string) string {
	if s.sanitizer == nil {
		return v
	}
	return s.sanitizer.Sanitize(v)
}

func (s *Service) normalizePicture(pic string) (string, *model.APIError) {
	if pic == "" {
		return model.DefaultPic, nil
	}
	if pic == model.DefaultPic || s.pictures == nil {
		return pic, nil
	}
	if err := s.pictures.ValidateURL(pic); err != nil {
		return "", model.NewValidationError("pic must be a public https URL")
	}
	return pic, nil
}

// Register は新しい主体を登録する。
// メールアドレスが既に使われている場合は、どの項目が衝突したかを明かさないAccountExistsエラーを返す。
func (s *Service) Register(ctx context.Context, kind model.PrincipalKind, in RegisterInput) (*model.Principal, error) {
	repo, err := s.store(kind)
	if err != nil {
		return nil, err
	}

	in.Email = normalizeEmail(in.Email)
	in.FirstName = s.sanitize(in.FirstName)
	in.LastName = s.sanitize(in.LastName)
	in.Name = s.sanitize(in.Name)
	in.Telephone = s.sanitize(in.Telephone)
	in.Address = s.sanitize(in.Address)
	in.Gender = s.sanitize(in.Gender)
	in.Country = s.sanitize(in.Country)
	in.Pic = s.sanitize(in.Pic)

	if apiErr := validateRegisterInput(kind, in); apiErr != nil {
		s.recorder.RecordRegistration(string(kind), metrics.OutcomeInvalid)
		return nil, apiErr
	}
	pic, apiErr := s.normalizePicture(in.Pic)
	if apiErr != nil {
		s.recorder.RecordRegistration(string(kind), metrics.OutcomeInvalid)
		return nil, apiErr
	}

	existing, err := repo.FindByEmail(ctx, in.Email)
	if err != nil {
		s.recorder.RecordRegistration(string(kind), metrics.OutcomeError)
		return nil, fmt.Errorf("failed to check email uniqueness: %w", err)
	}
	if existing != nil {
		s.recorder.RecordRegistration(string(kind), metrics.OutcomeConflict)
		return nil, model.NewAccountExistsError(kind)
	}

	digest, err := s.hasher.Hash(in.Password)
	if errors.Is(err, ErrPreHashedPassword) || errors.Is(err, ErrEmptyPassword) {
		s.recorder.RecordRegistration(string(kind), metrics.OutcomeInvalid)
		return nil, model.NewValidationError("password is invalid")
	}
	if err != nil {
		s.recorder.RecordRegistration(string(kind), metrics.OutcomeError)
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	principal := &model.Principal{
		ID:           uuid.New().String(),
		Kind:         kind,
		Email:        in.Email,
		Credential:   model.LocalCredential{Hash: digest},
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Name:         in.Name,
		Telephone:    in.Telephone,
		Address:      in.Address,
		Gender:       in.Gender,
		Country:      in.Country,
		Pic:          pic,
		RegisteredAt: now,
		UpdatedAt:    now,
	}

	if err := repo.Create(ctx, principal); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			s.recorder.RecordRegistration(string(kind), metrics.OutcomeConflict)
			return nil, model.NewAccountExistsError(kind)
		}
		s.recorder.RecordRegistration(string(kind), metrics.OutcomeError)
		return nil, fmt.Errorf("failed to create %s: %w", kind, err)
	}

	s.recorder.RecordRegistration(string(kind), metrics.OutcomeSuccess)
	slog.Info("principal registered",
		slog.String("kind", string(kind)),
		slog.String("principal_id", principal.ID),
	)
	return principal, nil
}

// Login はメールアドレスとパスワードで認証し、セッションとトークンを発行する。
// 未登録のメールアドレスとパスワード不一致は同一のエラーを返す。
func (s *Service) Login(ctx context.Context, kind model.PrincipalKind, email, password string) (*LoginResult, error) {
	repo, err := s.store(kind)
	if err != nil {
		return nil, err
	}

	principal, err := repo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		s.recorder.RecordLogin(string(kind), metrics.OutcomeError)
		return nil, fmt.Errorf("failed to find %s: %w", kind, err)
	}
	if !s.verifyCredential(principal, password) {
		s.recorder.RecordLogin(string(kind), metrics.OutcomeFailure)
		return nil, model.NewInvalidCredentialsError()
	}

	result, err := s.issueSession(ctx, principal)
	if err != nil {
		s.recorder.RecordLogin(string(kind), metrics.OutcomeError)
		return nil, err
	}

	s.recorder.RecordLogin(string(kind), metrics.OutcomeSuccess)
	slog.Info("principal logged in",
		slog.String("kind", string(kind)),
		slog.String("principal_id", principal.ID),
	)
	return result, nil
}

// dummyCredentialPlaintext はダミーダイジェストの生成元。照合が成功することはない。
const dummyCredentialPlaintext = "holaholidays-dummy-credential"

// verifyCredential はローカル資格情報を照合する。外部IdP専用アカウントは常に失敗する。
// 主体が存在しない場合もダミーダイジェストで照合し、応答時間を揃える。
func (s *Service) verifyCredential(principal *model.Principal, password string) bool {
	if principal == nil {
		s.hasher.Verify(s.dummyCredentialDigest(), password)
		return false
	}
	local, ok := principal.Credential.(model.LocalCredential)
	if !ok {
		s.hasher.Verify(s.dummyCredentialDigest(), password)
		return false
	}
	return s.hasher.Verify(local.Hash, password)
}

// dummyCredentialDigest は初回呼び出し時に一度だけダミーダイジェストを生成する。
func (s *Service) dummyCredentialDigest() string {
	s.dummyOnce.Do(func() {
		digest, err := s.hasher.Hash(dummyCredentialPlaintext)
		if err != nil {
			slog.Error("failed to hash dummy credential", slog.String("error", err.Error()))
			return
		}
		s.dummyDigest = digest
	})
	return s.dummyDigest
}

// issueSession はセッションを作成し、同じ期限内で有効なトークンを発行する。
func (s *Service) issueSession(ctx context.Context, principal *model.Principal) (*LoginResult, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:          sessionID,
		PrincipalID: principal.ID,
		Kind:        principal.Kind,
		ExpiresAt:   now.Add(s.sessionTTL(principal.Kind)),
		CreatedAt:   now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	tokenExpiresAt := session.ExpiresAt
	if s.config.TokenTTL > 0 && now.Add(s.config.TokenTTL).Before(tokenExpiresAt) {
		tokenExpiresAt = now.Add(s.config.TokenTTL)
	}
	token, err := s.tokens.Issue(TokenClaims{
		Subject:   principal.ID,
		Kind:      principal.Kind,
		SessionID: session.ID,
		IssuedAt:  now,
		ExpiresAt: tokenExpiresAt,
	}, s.tokens.ActiveKeyID())
	if err != nil {
		if delErr := s.sessions.DeleteByID(ctx, session.ID); delErr != nil {
			slog.Error("failed to roll back session", slog.String("error", delErr.Error()))
		}
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	s.recorder.RecordSessionCreated(string(principal.Kind))
	return &LoginResult{
		Principal:      principal,
		Session:        session,
		Token:          token,
		TokenExpiresAt: tokenExpiresAt,
	}, nil
}

func (s *Service) sessionTTL(kind model.PrincipalKind) time.Duration {
	if kind == model.KindAdmin {
		return s.config.AdminSessionTTL
	}
	return s.config.CustomerSessionTTL
}

// Logout はセッションを破棄する。セッションIDが空の場合は何もしない。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessions.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	slog.Info("session closed", slog.String("session", SessionFingerprint(sessionID)))
	return nil
}

// GetProfile は認証済み主体の現在のプロフィールを返す。
func (s *Service) GetProfile(ctx context.Context, pc *model.PrincipalContext) (*model.Principal, error) {
	repo, err := s.store(pc.Kind)
	if err != nil {
		return nil, err
	}
	principal, err := repo.FindByID(ctx, pc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s: %w", pc.Kind, err)
	}
	if principal == nil {
		return nil, model.NewNotFoundError(profileResource(pc.Kind))
	}
	return principal, nil
}

// UpdateProfile は認証済み主体自身のプロフィールを更新する。
// 外部IdP専用アカウントのメールアドレス・パスワード変更は拒否する。
func (s *Service) UpdateProfile(ctx context.Context, pc *model.PrincipalContext, upd ProfileUpdate) (*model.Principal, error) {
	repo, err := s.store(pc.Kind)
	if err != nil {
		return nil, err
	}
	principal, err := s.GetProfile(ctx, pc)
	if err != nil {
		return nil, err
	}

	if _, federated := principal.FederatedProvider(); federated && upd.changesCredentials() {
		return nil, model.NewFederatedAccountError()
	}

	if apiErr := s.applyProfileFields(pc.Kind, principal, upd); apiErr != nil {
		return nil, apiErr
	}

	if upd.Email != nil {
		email := normalizeEmail(*upd.Email)
		if apiErr := validateEmail(email); apiErr != nil {
			return nil, apiErr
		}
		if email != principal.Email {
			other, err := repo.FindByEmail(ctx, email)
			if err != nil {
				return nil, fmt.Errorf("failed to check email uniqueness: %w", err)
			}
			if other != nil && other.ID != principal.ID {
				return nil, model.NewAccountExistsError(pc.Kind)
			}
			principal.Email = email
		}
	}

	if upd.Password != nil {
		if apiErr := validatePassword(*upd.Password); apiErr != nil {
			return nil, apiErr
		}
		digest, err := s.hasher.Hash(*upd.Password)
		if errors.Is(err, ErrPreHashedPassword) || errors.Is(err, ErrEmptyPassword) {
			return nil, model.NewValidationError("password is invalid")
		}
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		principal.Credential = model.LocalCredential{Hash: digest}
	}

	principal.UpdatedAt = s.now()
	if err := repo.Update(ctx, principal); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewAccountExistsError(pc.Kind)
		}
		return nil, fmt.Errorf("failed to update %s: %w", pc.Kind, err)
	}

	slog.Info("profile updated",
		slog.String("kind", string(pc.Kind)),
		slog.String("principal_id", principal.ID),
	)
	return principal, nil
}

// applyProfileFields はメールアドレス・パスワード以外の項目を検証して反映する。
func (s *Service) applyProfileFields(kind model.PrincipalKind, p *model.Principal, upd ProfileUpdate) *model.APIError {
	if kind == model.KindCustomer {
		if upd.FirstName != nil {
			v := s.sanitize(*upd.FirstName)
			if err := validateName("firstName", v, minCustomerNameLen); err != nil {
				return err
			}
			p.FirstName = v
		}
		if upd.LastName != nil {
			v := s.sanitize(*upd.LastName)
			if err := validateName("lastName", v, minCustomerNameLen); err != nil {
				return err
			}
			p.LastName = v
		}
		if upd.Gender != nil {
			v := s.sanitize(*upd.Gender)
			if err := validateGender(v); err != nil {
				return err
			}
			p.Gender = v
		}
		if upd.Country != nil {
			v := s.sanitize(*upd.Country)
			if err := validateCountry(v); err != nil {
				return err
			}
			p.Country = v
		}
	} else if upd.Name != nil {
		v := s.sanitize(*upd.Name)
		if err := validateName("name", v, minAdminNameLen); err != nil {
			return err
		}
		p.Name = v
	}

	if upd.Telephone != nil {
		v := s.sanitize(*upd.Telephone)
		if err := validateTelephone(v, kind == model.KindCustomer); err != nil {
			return err
		}
		p.Telephone = v
	}
	if upd.Address != nil {
		v := s.sanitize(*upd.Address)
		if err := validateAddress(v); err != nil {
			return err
		}
		p.Address = v
	}
	if upd.Pic != nil {
		v, err := s.normalizePicture(s.sanitize(*upd.Pic))
		if err != nil {
			return err
		}
		p.Pic = v
	}
	return nil
}

func profileResource(kind model.PrincipalKind) string {
	if kind == model.KindAdmin {
		return "Admin"
	}
	return "Customer"
}

// generateSessionID は暗号論的に安全な乱数から256ビットのセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
