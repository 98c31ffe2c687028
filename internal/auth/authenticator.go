package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/hitoshi/holaholidays/internal/model"
	"github.com/hitoshi/holaholidays/internal/repository"
)

// RejectionCause は認証拒否の原因。ログとメトリクスにのみ使用し、レスポンスには含めない。
type RejectionCause string

const (
	CauseNoCredential     RejectionCause = "no_credential"
	CauseTokenInvalid     RejectionCause = "token_invalid"
	CauseSessionMissing   RejectionCause = "session_missing"
	CauseSessionMismatch  RejectionCause = "session_mismatch"
	CausePrincipalMissing RejectionCause = "principal_missing"
	CauseKindNotAllowed   RejectionCause = "kind_not_allowed"
	CauseStoreError       RejectionCause = "store_error"
)

// AuthError は認証拒否を表す。
type AuthError struct {
	Cause RejectionCause
	Err   error
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication rejected (%s): %v", e.Cause, e.Err)
	}
	return fmt.Sprintf("authentication rejected (%s)", e.Cause)
}

// Unwrap は原因となったエラーを返す。
func (e *AuthError) Unwrap() error {
	return e.Err
}

func reject(cause RejectionCause, err error) *AuthError {
	return &AuthError{Cause: cause, Err: err}
}

// Credentials はリクエストから取り出した資格情報。
type Credentials struct {
	Token     string // Authorizationヘッダーまたはaccess_token Cookie
	SessionID string // sessionId Cookie
}

// TokenVerifier はベアラートークンを検証する。
type TokenVerifier interface {
	Verify(token string) (*TokenClaims, error)
}

// Authenticator はトークンとセッションの両方を検証し、主体を解決する。
// セッションが失効していれば、トークンの期限内であっても拒否する。
type Authenticator struct {
	tokens    TokenVerifier
	sessions  repository.SessionRepository
	customers repository.PrincipalRepository
	admins    repository.PrincipalRepository
}

// NewAuthenticator はAuthenticatorを生成する。
func NewAuthenticator(tokens TokenVerifier, sessions repository.SessionRepository, customers, admins repository.PrincipalRepository) *Authenticator {
	return &Authenticator{
		tokens:    tokens,
		sessions:  sessions,
		customers: customers,
		admins:    admins,
	}
}

// Authenticate は資格情報を主体コンテキストに解決する。
// 拒否時は*AuthErrorを返す。
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) (*model.PrincipalContext, error) {
	if creds.Token == "" {
		return nil, reject(CauseNoCredential, nil)
	}

	claims, err := a.tokens.Verify(creds.Token)
	if err != nil {
		return nil, reject(CauseTokenInvalid, err)
	}

	sessionID := claims.SessionID
	if sessionID == "" {
		sessionID = creds.SessionID
	}
	if sessionID == "" {
		return nil, reject(CauseSessionMissing, nil)
	}

	session, err := a.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, reject(CauseStoreError, err)
	}
	if session == nil {
		return nil, reject(CauseSessionMissing, nil)
	}
	if session.PrincipalID != claims.Subject || session.Kind != claims.Kind {
		return nil, reject(CauseSessionMismatch, nil)
	}

	repo := a.customers
	if session.Kind == model.KindAdmin {
		repo = a.admins
	}
	principal, err := repo.FindByID(ctx, session.PrincipalID)
	if err != nil {
		return nil, reject(CauseStoreError, err)
	}
	if principal == nil {
		return nil, reject(CausePrincipalMissing, nil)
	}

	return model.NewPrincipalContext(principal, session.ID), nil
}

// SessionFingerprint はログ出力用にセッションIDを短いハッシュに変換する。
func SessionFingerprint(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(sessionID))
	return hex.EncodeToString(sum[:6])
}
