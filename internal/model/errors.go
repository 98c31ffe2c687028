// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, account, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeAccountExists      = "ACCOUNT_EXISTS"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeNotAuthenticated   = "NOT_AUTHENTICATED"
	ErrCodeFederatedAccount   = "FEDERATED_ACCOUNT"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeUnknownProvider    = "UNKNOWN_PROVIDER"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeCSRFFailed         = "CSRF_FAILED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewValidationError は入力検証エラーを生成する。メッセージは問題のある項目を示す。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewAccountExistsError はアカウント重複エラーを生成する。
// どの項目が衝突したかは明かさない。
func NewAccountExistsError(kind PrincipalKind) *APIError {
	msg := "Customer Profile Exists!"
	if kind == KindAdmin {
		msg = "Admin Profile Exists!"
	}
	return &APIError{
		Code:     ErrCodeAccountExists,
		Message:  msg,
		Category: "account",
		Action:   "ログインするか、別のメールアドレスで登録してください。",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// メールアドレス未登録とパスワード不一致を区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid Email or Password",
		Category: "auth",
		Action:   "メールアドレスとパスワードを確認してください。",
	}
}

// NewNotAuthenticatedError は未認証エラーを生成する。
// 原因（トークン不正、セッション期限切れ、ユーザー不在）に関わらず同一の内容を返す。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthenticated,
		Message:  "Not authenticated",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewFederatedAccountError は外部IdP専用アカウントでメールアドレスやパスワードを変更しようとした場合のエラーを生成する。
func NewFederatedAccountError() *APIError {
	return &APIError{
		Code:     ErrCodeFederatedAccount,
		Message:  "Email and password are managed by your sign-in provider",
		Category: "account",
		Action:   "連携しているサービス側で変更してください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "Access denied",
		Category: "auth",
		Action:   "管理者による承認が必要です。",
	}
}

// NewNotFoundError はリソース未検出エラーを生成する。
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%s not found!", resource),
		Category: "account",
		Action:   "IDを確認してください。",
	}
}

// NewUnknownProviderError は未設定の外部IdPが指定された場合のエラーを生成する。
func NewUnknownProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownProvider,
		Message:  fmt.Sprintf("unsupported sign-in provider: %s", provider),
		Category: "validation",
		Action:   "利用可能なログイン方法を選択してください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Retry-Afterの秒数だけ待ってから再度お試しください。",
	}
}

// NewCSRFError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFFailed,
		Message:  "CSRF token validation failed",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Internal server error",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
