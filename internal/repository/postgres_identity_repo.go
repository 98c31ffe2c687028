package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/holaholidays/internal/model"
)

// PostgresIdentityRepo はPostgreSQLを使用したidentityリポジトリ。
// identityは顧客にのみ紐付く。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	identity := &model.Identity{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, customer_id, provider, provider_user_id, created_at
		 FROM customer_identities
		 WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	).Scan(&identity.ID, &identity.PrincipalID, &identity.Provider, &identity.ProviderUserID, &identity.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	return identity, nil
}

// Create は既存の顧客にidentityを紐付ける。
func (r *PostgresIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	return insertIdentity(ctx, r.db, identity)
}

func insertIdentity(ctx context.Context, exec execer, identity *model.Identity) error {
	_, err := exec.ExecContext(ctx,
		`INSERT INTO customer_identities (id, customer_id, provider, provider_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		identity.ID, identity.PrincipalID, identity.Provider, identity.ProviderUserID, identity.CreatedAt,
	)
	if constraint, ok := uniqueViolationConstraint(err); ok {
		if constraint == "customers_email_key" {
			return ErrDuplicateEmail
		}
		return ErrIdentityExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert identity: %w", err)
	}
	return nil
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
