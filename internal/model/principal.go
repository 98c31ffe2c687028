// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// PrincipalKind は認証主体の種別を表す。
// customer と admin はそれぞれ独立した資格情報ストアを持つ。
type PrincipalKind string

const (
	KindCustomer PrincipalKind = "customer"
	KindAdmin    PrincipalKind = "admin"
)

// Valid は定義済みの種別かどうかを返す。
func (k PrincipalKind) Valid() bool {
	return k == KindCustomer || k == KindAdmin
}

// DefaultPic はプロフィール画像未指定時に使用する匿名アバターのURL。
const DefaultPic = "https://icon-library.com/images/anonymous-avatar-icon/anonymous-avatar-icon-25.jpg"

// Credential はローカルパスワードか外部IdP専用かを表すタグ付きユニオン。
// 実装は LocalCredential と FederatedOnly のみ。
type Credential interface {
	credential()
}

// LocalCredential はハッシュ化済みパスワードによる資格情報。
type LocalCredential struct {
	Hash string
}

// FederatedOnly は外部IdPでのみ認証可能なアカウントを表す。
// ローカルのパスワード検証は常に失敗する。
type FederatedOnly struct {
	Provider string
}

func (LocalCredential) credential() {}
func (FederatedOnly) credential()   {}

// SentinelPassword は外部IdP専用アカウントの password_hash 列に格納する値。
// bcryptのダイジェスト形式ではないため照合に成功することはない。
func SentinelPassword(provider string) string {
	return provider + "-oauth"
}

// CredentialFromStored は永続化された password_hash と auth_provider から Credential を復元する。
func CredentialFromStored(passwordHash, authProvider string) Credential {
	if authProvider != "" {
		return FederatedOnly{Provider: authProvider}
	}
	if strings.HasSuffix(passwordHash, "-oauth") && !strings.HasPrefix(passwordHash, "$") {
		return FederatedOnly{Provider: strings.TrimSuffix(passwordHash, "-oauth")}
	}
	return LocalCredential{Hash: passwordHash}
}

// StoredCredential は Credential を password_hash と auth_provider 列の値に変換する。
func StoredCredential(c Credential) (passwordHash, authProvider string) {
	switch v := c.(type) {
	case LocalCredential:
		return v.Hash, ""
	case FederatedOnly:
		return SentinelPassword(v.Provider), v.Provider
	default:
		return "", ""
	}
}

// Principal は認証主体（顧客または管理者）を表す。
// Customer は FirstName/LastName/Gender/Country を、Admin は Name を使用する。
type Principal struct {
	ID           string
	Kind         PrincipalKind
	Email        string
	Credential   Credential
	FirstName    string
	LastName     string
	Name         string
	Telephone    string
	Address      string
	Gender       string
	Country      string
	Pic          string
	IsAdmin      bool
	RegisteredAt time.Time
	UpdatedAt    time.Time
}

// DisplayName は表示用の名前を返す。
func (p *Principal) DisplayName() string {
	if p.Kind == KindAdmin {
		return p.Name
	}
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Role はコンテキストに載せるロール名を返す。
// 管理者でも承認フラグが立っていない場合は "pending_admin" とする。
func (p *Principal) Role() string {
	switch {
	case p.Kind == KindAdmin && p.IsAdmin:
		return "admin"
	case p.Kind == KindAdmin:
		return "pending_admin"
	default:
		return "customer"
	}
}

// FederatedProvider は外部IdP専用アカウントであればプロバイダー名を返す。
func (p *Principal) FederatedProvider() (string, bool) {
	f, ok := p.Credential.(FederatedOnly)
	if !ok {
		return "", false
	}
	return f.Provider, true
}

// Identity は外部IdPとの紐付け情報を表す。
type Identity struct {
	ID             string
	PrincipalID    string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はログインセッションを表す。作成後に変更されることはない。
type Session struct {
	ID          string
	PrincipalID string
	Kind        PrincipalKind
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// IsExpiredAt は指定時刻の時点で期限切れかどうかを返す。
func (s *Session) IsExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// PrincipalContext は認証済みリクエストのコンテキストに格納する主体情報。
// パスワードハッシュなどの機微情報は含めない。
type PrincipalContext struct {
	ID          string
	Kind        PrincipalKind
	Role        string
	DisplayName string
	IsAdmin     bool
	SessionID   string
}

// NewPrincipalContext は Principal から PrincipalContext を生成する。
func NewPrincipalContext(p *Principal, sessionID string) *PrincipalContext {
	return &PrincipalContext{
		ID:          p.ID,
		Kind:        p.Kind,
		Role:        p.Role(),
		DisplayName: p.DisplayName(),
		IsAdmin:     p.Kind == KindAdmin && p.IsAdmin,
		SessionID:   sessionID,
	}
}
