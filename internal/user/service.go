// Package user は顧客アカウントの退会と管理者による顧客管理を提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hitoshi/holaholidays/internal/auth"
	"github.com/hitoshi/holaholidays/internal/model"
	"github.com/hitoshi/holaholidays/internal/repository"
)

// SessionDeleter は主体のセッション一括削除インターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionDeleter interface {
	DeleteByPrincipal(ctx context.Context, kind model.PrincipalKind, principalID string) error
}

// ProfileUpdater はプロフィール更新の検証と永続化を行う。auth.Serviceが実装する。
type ProfileUpdater interface {
	UpdateProfile(ctx context.Context, pc *model.PrincipalContext, upd auth.ProfileUpdate) (*model.Principal, error)
}

// Service は顧客アカウント管理のサービス層。
type Service struct {
	customers repository.PrincipalRepository
	sessions  SessionDeleter
	profiles  ProfileUpdater
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(customers repository.PrincipalRepository, sessions SessionDeleter, profiles ProfileUpdater) *Service {
	return &Service{
		customers: customers,
		sessions:  sessions,
		profiles:  profiles,
	}
}

// Withdraw は顧客本人による退会処理を実行する。
// 削除順序: sessions → customer（+ CASCADE: customer_identities）
func (s *Service) Withdraw(ctx context.Context, customerID string) error {
	if err := s.deleteCustomer(ctx, customerID); err != nil {
		return err
	}
	slog.Info("customer withdrew",
		slog.String("customer_id", customerID),
	)
	return nil
}

// ListCustomers は登録日時順に全顧客を返す。
func (s *Service) ListCustomers(ctx context.Context) ([]*model.Principal, error) {
	customers, err := s.customers.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("顧客一覧の取得に失敗しました: %w", err)
	}
	return customers, nil
}

// GetCustomer は指定IDの顧客を返す。存在しない場合はNotFoundエラーを返す。
func (s *Service) GetCustomer(ctx context.Context, customerID string) (*model.Principal, error) {
	if _, err := uuid.Parse(customerID); err != nil {
		return nil, model.NewNotFoundError("Customer")
	}
	customer, err := s.customers.FindByID(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("顧客の取得に失敗しました: %w", err)
	}
	if customer == nil {
		return nil, model.NewNotFoundError("Customer")
	}
	return customer, nil
}

// DeleteCustomer は管理者が顧客を削除する。削除内容はWithdrawと同じ。
func (s *Service) DeleteCustomer(ctx context.Context, actor *model.PrincipalContext, customerID string) error {
	if err := s.deleteCustomer(ctx, customerID); err != nil {
		return err
	}
	slog.Info("customer deleted by admin",
		slog.String("customer_id", customerID),
		slog.String("admin_id", actor.ID),
	)
	return nil
}

// UpdateCustomer は管理者が顧客のプロフィールを更新する。
// 検証規則は本人による更新と同じで、外部IdP専用アカウントのメールアドレス・パスワードは変更できない。
// パスワードを変更した場合は顧客の既存セッションをすべて失効させる。
func (s *Service) UpdateCustomer(ctx context.Context, actor *model.PrincipalContext, customerID string, upd auth.ProfileUpdate) (*model.Principal, error) {
	if _, err := uuid.Parse(customerID); err != nil {
		return nil, model.NewNotFoundError("Customer")
	}

	target := &model.PrincipalContext{
		ID:   customerID,
		Kind: model.KindCustomer,
		Role: "customer",
	}
	customer, err := s.profiles.UpdateProfile(ctx, target, upd)
	if err != nil {
		return nil, err
	}

	if upd.Password != nil {
		if err := s.sessions.DeleteByPrincipal(ctx, model.KindCustomer, customerID); err != nil {
			return nil, fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	slog.Info("customer updated by admin",
		slog.String("customer_id", customerID),
		slog.String("admin_id", actor.ID),
		slog.Bool("password_changed", upd.Password != nil),
	)
	return customer, nil
}

func (s *Service) deleteCustomer(ctx context.Context, customerID string) error {
	if _, err := s.GetCustomer(ctx, customerID); err != nil {
		return err
	}

	// 1. セッションを削除（発行済みトークンも以後は拒否される）
	if err := s.sessions.DeleteByPrincipal(ctx, model.KindCustomer, customerID); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}

	// 2. 顧客を削除（customer_identitiesはCASCADE削除）
	if err := s.customers.DeleteByID(ctx, customerID); err != nil {
		return fmt.Errorf("顧客の削除に失敗しました: %w", err)
	}
	return nil
}
