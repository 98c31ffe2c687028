package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/holaholidays/internal/metrics"
	"github.com/hitoshi/holaholidays/internal/model"
)

// HasProvider は指定した外部IdPが設定済みかを返す。
func (s *Service) HasProvider(name string) bool {
	_, ok := s.providers[name]
	return ok
}

// FederatedLoginURL は外部IdPの認可URLを返す。
func (s *Service) FederatedLoginURL(provider, state string) (string, error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", model.NewUnknownProviderError(provider)
	}
	return p.GetLoginURL(state), nil
}

// CompleteFederatedLogin は認可コードからプロフィールを取得して顧客に解決し、セッションを発行する。
// 未登録の場合は外部IdP専用の顧客を作成する。
func (s *Service) CompleteFederatedLogin(ctx context.Context, provider, code string) (*LoginResult, error) {
	p, ok := s.providers[provider]
	if !ok {
		return nil, model.NewUnknownProviderError(provider)
	}

	profile, err := p.ExchangeCode(ctx, code)
	if err != nil {
		s.recorder.RecordFederatedLogin(provider, metrics.OutcomeFailure)
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	customer, err := s.linker.Link(ctx, *profile)
	if err != nil {
		s.recorder.RecordFederatedLogin(provider, metrics.OutcomeError)
		return nil, fmt.Errorf("failed to link federated identity: %w", err)
	}

	result, err := s.issueSession(ctx, customer)
	if err != nil {
		s.recorder.RecordFederatedLogin(provider, metrics.OutcomeError)
		return nil, err
	}

	s.recorder.RecordFederatedLogin(provider, metrics.OutcomeSuccess)
	slog.Info("federated login succeeded",
		slog.String("provider", provider),
		slog.String("principal_id", customer.ID),
	)
	return result, nil
}
