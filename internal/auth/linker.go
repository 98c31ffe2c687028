package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/holaholidays/internal/model"
	"github.com/hitoshi/holaholidays/internal/repository"
)

// ErrIncompleteProfile は外部IdPのプロフィールに必須項目が欠けている場合に返す。
var ErrIncompleteProfile = errors.New("federated profile is missing required fields")

// FederatedProfile は外部IdPから取得したプロフィール。永続化はしない。
type FederatedProfile struct {
	Provider       string
	ProviderUserID string
	Email          string
	GivenName      string
	FamilyName     string
	DisplayName    string
	PhotoURL       string
}

// PictureValidator はプロフィール画像URLを検証する。
type PictureValidator interface {
	ValidateURL(rawURL string) error
}

// Linker は外部IdPのプロフィールを顧客レコードに解決する。
// 解決順序は (1) provider + provider_user_id、(2) メールアドレス、(3) 新規作成。
type Linker struct {
	customers  repository.CustomerRepository
	identities repository.IdentityRepository
	pictures   PictureValidator
	now        func() time.Time
}

// NewLinker はLinkerを生成する。picturesがnilの場合、画像URLは検証せず既定画像を使用する。
func NewLinker(customers repository.CustomerRepository, identities repository.IdentityRepository, pictures PictureValidator) *Linker {
	return &Linker{
		customers:  customers,
		identities: identities,
		pictures:   pictures,
		now:        time.Now,
	}
}

// Link はプロフィールに対応する顧客を1件返す。必要に応じてidentityの紐付けや顧客の作成を行う。
// ストアのエラーはそのまま返し、重複アカウントは作成しない。
func (l *Linker) Link(ctx context.Context, profile FederatedProfile) (*model.Principal, error) {
	if profile.Provider == "" || profile.ProviderUserID == "" {
		return nil, ErrIncompleteProfile
	}

	customer, err := l.resolve(ctx, profile)
	if err != nil {
		return nil, err
	}
	if customer != nil {
		return customer, nil
	}

	customer, err = l.create(ctx, profile)
	if errors.Is(err, repository.ErrDuplicateEmail) || errors.Is(err, repository.ErrIdentityExists) {
		// 同時ログインで先に作成された場合は作成済みのレコードに解決する
		customer, err = l.resolve(ctx, profile)
		if err == nil && customer == nil {
			err = fmt.Errorf("federated principal vanished after conflict")
		}
	}
	if err != nil {
		return nil, err
	}
	return customer, nil
}

// resolve は既存の紐付けまたはメールアドレスから顧客を探す。該当しない場合はnilを返す。
func (l *Linker) resolve(ctx context.Context, profile FederatedProfile) (*model.Principal, error) {
	identity, err := l.identities.FindByProviderAndProviderUserID(ctx, profile.Provider, profile.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if identity != nil {
		customer, err := l.customers.FindByID(ctx, identity.PrincipalID)
		if err != nil {
			return nil, fmt.Errorf("failed to find linked customer: %w", err)
		}
		if customer == nil {
			return nil, fmt.Errorf("identity %s points to a missing customer", identity.ID)
		}
		return customer, nil
	}

	email := normalizeEmail(profile.Email)
	if email == "" {
		return nil, nil
	}
	customer, err := l.customers.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find customer by email: %w", err)
	}
	if customer == nil {
		return nil, nil
	}

	err = l.identities.Create(ctx, &model.Identity{
		ID:             uuid.New().String(),
		PrincipalID:    customer.ID,
		Provider:       profile.Provider,
		ProviderUserID: profile.ProviderUserID,
		CreatedAt:      l.now(),
	})
	if errors.Is(err, repository.ErrIdentityExists) {
		return l.resolveByIdentity(ctx, profile)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to link identity: %w", err)
	}

	slog.Info("federated identity linked to existing customer",
		slog.String("customer_id", customer.ID),
		slog.String("provider", profile.Provider),
	)
	return customer, nil
}

func (l *Linker) resolveByIdentity(ctx context.Context, profile FederatedProfile) (*model.Principal, error) {
	identity, err := l.identities.FindByProviderAndProviderUserID(ctx, profile.Provider, profile.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if identity == nil {
		return nil, fmt.Errorf("identity conflict for provider %s could not be resolved", profile.Provider)
	}
	customer, err := l.customers.FindByID(ctx, identity.PrincipalID)
	if err != nil {
		return nil, fmt.Errorf("failed to find linked customer: %w", err)
	}
	if customer == nil {
		return nil, fmt.Errorf("identity %s points to a missing customer", identity.ID)
	}
	return customer, nil
}

// create は外部IdP専用の顧客とidentityを同一トランザクションで作成する。
func (l *Linker) create(ctx context.Context, profile FederatedProfile) (*model.Principal, error) {
	email := normalizeEmail(profile.Email)
	if email == "" {
		return nil, ErrIncompleteProfile
	}

	firstName, lastName := splitProfileName(profile)
	now := l.now()
	customer := &model.Principal{
		ID:           uuid.New().String(),
		Kind:         model.KindCustomer,
		Email:        email,
		Credential:   model.FederatedOnly{Provider: profile.Provider},
		FirstName:    firstName,
		LastName:     lastName,
		Pic:          l.picture(profile.PhotoURL),
		RegisteredAt: now,
		UpdatedAt:    now,
	}
	identity := &model.Identity{
		ID:             uuid.New().String(),
		PrincipalID:    customer.ID,
		Provider:       profile.Provider,
		ProviderUserID: profile.ProviderUserID,
		CreatedAt:      now,
	}

	if err := l.customers.CreateWithIdentity(ctx, customer, identity); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) || errors.Is(err, repository.ErrIdentityExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create federated customer: %w", err)
	}

	slog.Info("federated customer created",
		slog.String("customer_id", customer.ID),
		slog.String("provider", profile.Provider),
	)
	return customer, nil
}

func (l *Linker) picture(photoURL string) string {
	if photoURL == "" || l.pictures == nil {
		return model.DefaultPic
	}
	if err := l.pictures.ValidateURL(photoURL); err != nil {
		return model.DefaultPic
	}
	return photoURL
}

// splitProfileName は名と姓を決定する。IdPが分割済みの値を返さない場合は表示名から推定する。
func splitProfileName(profile FederatedProfile) (string, string) {
	first := strings.TrimSpace(profile.GivenName)
	last := strings.TrimSpace(profile.FamilyName)
	if first != "" || last != "" {
		return first, last
	}
	parts := strings.Fields(profile.DisplayName)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
