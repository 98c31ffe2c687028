// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/holaholidays/internal/middleware"
	"github.com/hitoshi/holaholidays/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディの上限。
const maxRequestBodyBytes = 1 << 20

// customerResponse は顧客プロフィールのレスポンス。パスワードは含めない。
type customerResponse struct {
	ID        string    `json:"_id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Telephone string    `json:"telephone"`
	Address   string    `json:"address"`
	Gender    string    `json:"gender"`
	Country   string    `json:"country"`
	Email     string    `json:"email"`
	Pic       string    `json:"pic"`
	Provider  string    `json:"provider,omitempty"`
	RegDate   time.Time `json:"regDate"`
	Token     string    `json:"token,omitempty"`
}

// adminResponse は管理者プロフィールのレスポンス。パスワードは含めない。
type adminResponse struct {
	ID        string `json:"_id"`
	Name      string `json:"name"`
	Telephone string `json:"telephone"`
	Address   string `json:"address"`
	Email     string `json:"email"`
	Pic       string `json:"pic"`
	IsAdmin   bool   `json:"isAdmin"`
	Token     string `json:"token,omitempty"`
}

// messageResponse は処理結果のメッセージのみを返すレスポンス。
type messageResponse struct {
	Message string `json:"message"`
}

// toPrincipalResponse は種別に応じたプロフィールの射影を返す。
func toPrincipalResponse(p *model.Principal, token string) interface{} {
	if p.Kind == model.KindAdmin {
		return adminResponse{
			ID:        p.ID,
			Name:      p.Name,
			Telephone: p.Telephone,
			Address:   p.Address,
			Email:     p.Email,
			Pic:       p.Pic,
			IsAdmin:   p.IsAdmin,
			Token:     token,
		}
	}
	provider, _ := p.FederatedProvider()
	return customerResponse{
		ID:        p.ID,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Telephone: p.Telephone,
		Address:   p.Address,
		Gender:    p.Gender,
		Country:   p.Country,
		Email:     p.Email,
		Pic:       p.Pic,
		Provider:  provider,
		RegDate:   p.RegisteredAt,
		Token:     token,
	}
}

// writeJSON はJSONレスポンスを書き込む。認証情報を含むためキャッシュさせない。
func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをデコードする。失敗時は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("request body must be valid JSON"))
		return false
	}
	return true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// APIError以外のエラーは詳細をログにのみ記録し、内部エラーとして返す。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	slog.Error("internal server error",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidationFailed,
		model.ErrCodeAccountExists,
		model.ErrCodeInvalidCredentials,
		model.ErrCodeFederatedAccount,
		model.ErrCodeUnknownProvider:
		return http.StatusBadRequest
	case model.ErrCodeNotAuthenticated:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden, model.ErrCodeCSRFFailed:
		return http.StatusForbidden
	case model.ErrCodeNotFound:
		return http.StatusNotFound
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// requirePrincipal はコンテキストから主体情報を取り出す。無ければ401を書き込む。
func requirePrincipal(w http.ResponseWriter, r *http.Request) (*model.PrincipalContext, bool) {
	pc, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return nil, false
	}
	return pc, true
}
