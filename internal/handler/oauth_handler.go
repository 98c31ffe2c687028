package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/holaholidays/internal/auth"
	"github.com/hitoshi/holaholidays/internal/middleware"
	"github.com/hitoshi/holaholidays/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600 // 10分
)

// FederatedServiceInterface は外部IdPログインハンドラーが必要とするサービスインターフェース。
type FederatedServiceInterface interface {
	HasProvider(name string) bool
	FederatedLoginURL(provider, state string) (string, error)
	CompleteFederatedLogin(ctx context.Context, provider, code string) (*auth.LoginResult, error)
}

// OAuthHandlerConfig は外部IdPログインハンドラーの設定。
type OAuthHandlerConfig struct {
	FrontendURL string
	SuccessPath string
	FailurePath string
	Cookies     CookieConfig
}

// OAuthHandler は外部IdPによる顧客ログインのHTTPハンドラー。
type OAuthHandler struct {
	service FederatedServiceInterface
	config  OAuthHandlerConfig
}

// NewOAuthHandler はOAuthHandlerを生成する。
func NewOAuthHandler(service FederatedServiceInterface, config OAuthHandlerConfig) *OAuthHandler {
	return &OAuthHandler{
		service: service,
		config:  config,
	}
}

// Login は外部IdPの認可フローを開始する。
// GET /auth/{provider}
func (h *OAuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if !h.service.HasProvider(provider) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewUnknownProviderError(provider))
		return
	}

	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	url, err := h.service.FederatedLoginURL(provider, state)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth",
		MaxAge:   oauthStateMaxAge,
		HttpOnly: true,
		Secure:   h.config.Cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// Callback は外部IdPからのコールバックを処理する。
// 成功時は認証Cookieを設定してフロントエンドの成功パスへ、失敗時は失敗パスへリダイレクトする。
// GET /auth/{provider}/callback?code=xxx&state=yyy
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	h.clearStateCookie(w)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		slog.Warn("oauth state mismatch", slog.String("provider", provider))
		h.redirectFailure(w, r)
		return
	}

	// 2. 認可コードの取得（ユーザーが同意を拒否した場合はerrorパラメータのみが返る）
	code := r.URL.Query().Get("code")
	if code == "" {
		slog.Warn("oauth callback without code",
			slog.String("provider", provider),
			slog.String("idp_error", r.URL.Query().Get("error")),
		)
		h.redirectFailure(w, r)
		return
	}

	// 3. 顧客の解決とセッション発行
	result, err := h.service.CompleteFederatedLogin(r.Context(), provider, code)
	if err != nil {
		slog.Error("oauth callback failed",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		h.redirectFailure(w, r)
		return
	}

	// 4. 認証Cookieを設定してフロントエンドにリダイレクト
	setSessionCookies(w, h.config.Cookies, result)
	http.Redirect(w, r, h.config.FrontendURL+h.config.SuccessPath, http.StatusFound)
}

func (h *OAuthHandler) redirectFailure(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.config.FrontendURL+h.config.FailurePath, http.StatusFound)
}

func (h *OAuthHandler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.Cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
