// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/holaholidays/internal/model"
)

// ErrDuplicateEmail はメールアドレスの一意制約違反を表す。
// 登録時の事前チェックを通過しても、同時登録ではこちらが最終的な衝突判定となる。
var ErrDuplicateEmail = errors.New("email already registered")

// ErrIdentityExists は (provider, provider_user_id) の一意制約違反を表す。
var ErrIdentityExists = errors.New("identity already linked")

// PrincipalRepository は認証主体の永続化インターフェース。
// customer と admin はそれぞれ別テーブルの実装を持つ。
type PrincipalRepository interface {
	// FindByID は指定IDの主体を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Principal, error)

	// FindByEmail は小文字化したメールアドレスで主体を取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Principal, error)

	// Create は主体を作成する。メールアドレスが重複する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, principal *model.Principal) error

	// Update はプロフィールと資格情報を更新する。メールアドレスが重複する場合はErrDuplicateEmailを返す。
	Update(ctx context.Context, principal *model.Principal) error

	// DeleteByID は指定IDの主体を削除する。関連するidentitiesはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error

	// List は登録日時の昇順で全件を返す。
	List(ctx context.Context) ([]*model.Principal, error)
}

// CustomerRepository は顧客テーブル固有の操作を追加したインターフェース。
type CustomerRepository interface {
	PrincipalRepository

	// CreateWithIdentity は顧客とidentityを同一トランザクションで作成する。
	// 一意制約違反時はErrDuplicateEmailまたはErrIdentityExistsを返す。
	CreateWithIdentity(ctx context.Context, customer *model.Principal, identity *model.Identity) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// Create はidentityを作成する。既に紐付け済みの場合はErrIdentityExistsを返す。
	Create(ctx context.Context, identity *model.Identity) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合は未登録と同様にnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。存在しない場合もエラーにしない。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByPrincipal は指定主体の全セッションを削除する。
	DeleteByPrincipal(ctx context.Context, kind model.PrincipalKind, principalID string) error
}
