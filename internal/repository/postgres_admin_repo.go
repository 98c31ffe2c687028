package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hitoshi/holaholidays/internal/model"
)

const adminColumns = `id, name, email, password_hash, telephone, address, pic, is_admin, registered_at, updated_at`

// PostgresAdminRepo はPostgreSQLを使用した管理者リポジトリ。
// 管理者はローカル資格情報のみを持つ。
type PostgresAdminRepo struct {
	db *sql.DB
}

// NewPostgresAdminRepo はPostgresAdminRepoを生成する。
func NewPostgresAdminRepo(db *sql.DB) *PostgresAdminRepo {
	return &PostgresAdminRepo{db: db}
}

func scanAdmin(row rowScanner) (*model.Principal, error) {
	a := &model.Principal{Kind: model.KindAdmin}
	var passwordHash string
	err := row.Scan(
		&a.ID, &a.Name, &a.Email, &passwordHash, &a.Telephone, &a.Address, &a.Pic,
		&a.IsAdmin, &a.RegisteredAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Credential = model.LocalCredential{Hash: passwordHash}
	return a, nil
}

// FindByID は指定IDの管理者を取得する。見つからない場合はnilを返す。
func (r *PostgresAdminRepo) FindByID(ctx context.Context, id string) (*model.Principal, error) {
	a, err := scanAdmin(r.db.QueryRowContext(ctx,
		`SELECT `+adminColumns+` FROM admins WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find admin by ID: %w", err)
	}
	return a, nil
}

// FindByEmail はメールアドレスで管理者を取得する。見つからない場合はnilを返す。
func (r *PostgresAdminRepo) FindByEmail(ctx context.Context, email string) (*model.Principal, error) {
	a, err := scanAdmin(r.db.QueryRowContext(ctx,
		`SELECT `+adminColumns+` FROM admins WHERE email = $1`, strings.ToLower(email),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find admin by email: %w", err)
	}
	return a, nil
}

// Create は管理者を作成する。
func (r *PostgresAdminRepo) Create(ctx context.Context, a *model.Principal) error {
	passwordHash, _ := model.StoredCredential(a.Credential)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO admins (`+adminColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.Name, strings.ToLower(a.Email), passwordHash, a.Telephone, a.Address, a.Pic,
		a.IsAdmin, a.RegisteredAt, a.UpdatedAt,
	)
	if _, ok := uniqueViolationConstraint(err); ok {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to insert admin: %w", err)
	}
	return nil
}

// Update は管理者のプロフィールと資格情報を更新する。
// is_admin は運用者が直接更新するため、ここでは変更しない。
func (r *PostgresAdminRepo) Update(ctx context.Context, a *model.Principal) error {
	passwordHash, _ := model.StoredCredential(a.Credential)
	result, err := r.db.ExecContext(ctx,
		`UPDATE admins
		 SET name = $2, email = $3, password_hash = $4, telephone = $5, address = $6, pic = $7, updated_at = $8
		 WHERE id = $1`,
		a.ID, a.Name, strings.ToLower(a.Email), passwordHash, a.Telephone, a.Address, a.Pic, a.UpdatedAt,
	)
	if _, ok := uniqueViolationConstraint(err); ok {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to update admin: %w", err)
	}
	return requireAffected(result, "admin", a.ID)
}

// DeleteByID は指定IDの管理者を削除する。
func (r *PostgresAdminRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM admins WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete admin: %w", err)
	}
	return requireAffected(result, "admin", id)
}

// List は登録日時の昇順で全管理者を返す。
func (r *PostgresAdminRepo) List(ctx context.Context) ([]*model.Principal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+adminColumns+` FROM admins ORDER BY registered_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	defer rows.Close()

	var admins []*model.Principal
	for rows.Next() {
		a, err := scanAdmin(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan admin: %w", err)
		}
		admins = append(admins, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate admins: %w", err)
	}
	return admins, nil
}

// compile-time interface check
var _ PrincipalRepository = (*PostgresAdminRepo)(nil)
