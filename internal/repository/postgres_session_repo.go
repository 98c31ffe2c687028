package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/holaholidays/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
// Redisを利用しない構成で使用する。期限切れ行はcleanupワーカーが削除する。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, principal_id, principal_kind, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		session.ID, session.PrincipalID, string(session.Kind), session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	session := &model.Session{}
	var kind string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, principal_id, principal_kind, expires_at, created_at
		 FROM sessions
		 WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&session.ID, &session.PrincipalID, &kind, &session.ExpiresAt, &session.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	session.Kind = model.PrincipalKind(kind)

	return session, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByPrincipal は指定主体の全セッションを削除する。
func (r *PostgresSessionRepo) DeleteByPrincipal(ctx context.Context, kind model.PrincipalKind, principalID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE principal_kind = $1 AND principal_id = $2`,
		string(kind), principalID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete principal sessions: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
