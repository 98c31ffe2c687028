package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hitoshi/holaholidays/internal/model"
)

const customerColumns = `id, first_name, last_name, email, password_hash, auth_provider,
	telephone, address, gender, country, pic, registered_at, updated_at`

// PostgresCustomerRepo はPostgreSQLを使用した顧客リポジトリ。
type PostgresCustomerRepo struct {
	db *sql.DB
}

// NewPostgresCustomerRepo はPostgresCustomerRepoを生成する。
func NewPostgresCustomerRepo(db *sql.DB) *PostgresCustomerRepo {
	return &PostgresCustomerRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row rowScanner) (*model.Principal, error) {
	c := &model.Principal{Kind: model.KindCustomer}
	var passwordHash, authProvider string
	err := row.Scan(
		&c.ID, &c.FirstName, &c.LastName, &c.Email, &passwordHash, &authProvider,
		&c.Telephone, &c.Address, &c.Gender, &c.Country, &c.Pic, &c.RegisteredAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Credential = model.CredentialFromStored(passwordHash, authProvider)
	return c, nil
}

// FindByID は指定IDの顧客を取得する。見つからない場合はnilを返す。
func (r *PostgresCustomerRepo) FindByID(ctx context.Context, id string) (*model.Principal, error) {
	c, err := scanCustomer(r.db.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find customer by ID: %w", err)
	}
	return c, nil
}

// FindByEmail はメールアドレスで顧客を取得する。見つからない場合はnilを返す。
func (r *PostgresCustomerRepo) FindByEmail(ctx context.Context, email string) (*model.Principal, error) {
	c, err := scanCustomer(r.db.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE email = $1`, strings.ToLower(email),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find customer by email: %w", err)
	}
	return c, nil
}

func insertCustomer(ctx context.Context, exec execer, c *model.Principal) error {
	passwordHash, authProvider := model.StoredCredential(c.Credential)
	_, err := exec.ExecContext(ctx,
		`INSERT INTO customers (`+customerColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ID, c.FirstName, c.LastName, strings.ToLower(c.Email), passwordHash, authProvider,
		c.Telephone, c.Address, c.Gender, c.Country, c.Pic, c.RegisteredAt, c.UpdatedAt,
	)
	if _, ok := uniqueViolationConstraint(err); ok {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to insert customer: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Create は顧客を作成する。
func (r *PostgresCustomerRepo) Create(ctx context.Context, c *model.Principal) error {
	return insertCustomer(ctx, r.db, c)
}

// CreateWithIdentity は顧客とidentityを同一トランザクションで作成する。
func (r *PostgresCustomerRepo) CreateWithIdentity(ctx context.Context, c *model.Principal, identity *model.Identity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertCustomer(ctx, tx, c); err != nil {
		return err
	}
	if err := insertIdentity(ctx, tx, identity); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Update は顧客のプロフィールと資格情報を更新する。
func (r *PostgresCustomerRepo) Update(ctx context.Context, c *model.Principal) error {
	passwordHash, authProvider := model.StoredCredential(c.Credential)
	result, err := r.db.ExecContext(ctx,
		`UPDATE customers
		 SET first_name = $2, last_name = $3, email = $4, password_hash = $5, auth_provider = $6,
		     telephone = $7, address = $8, gender = $9, country = $10, pic = $11, updated_at = $12
		 WHERE id = $1`,
		c.ID, c.FirstName, c.LastName, strings.ToLower(c.Email), passwordHash, authProvider,
		c.Telephone, c.Address, c.Gender, c.Country, c.Pic, c.UpdatedAt,
	)
	if _, ok := uniqueViolationConstraint(err); ok {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to update customer: %w", err)
	}
	return requireAffected(result, "customer", c.ID)
}

// DeleteByID は指定IDの顧客を削除する。
// 関連するcustomer_identitiesはCASCADE削除される。
func (r *PostgresCustomerRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete customer: %w", err)
	}
	return requireAffected(result, "customer", id)
}

// List は登録日時の昇順で全顧客を返す。
func (r *PostgresCustomerRepo) List(ctx context.Context) ([]*model.Principal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+customerColumns+` FROM customers ORDER BY registered_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	var customers []*model.Principal
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate customers: %w", err)
	}
	return customers, nil
}

func requireAffected(result sql.Result, resource, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s not found: %s", resource, id)
	}
	return nil
}

// compile-time interface check
var _ CustomerRepository = (*PostgresCustomerRepo)(nil)
