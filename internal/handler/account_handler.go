package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/holaholidays/internal/auth"
	"github.com/hitoshi/holaholidays/internal/middleware"
	"github.com/hitoshi/holaholidays/internal/model"
)

// AccountServiceInterface はアカウントハンドラーが必要とするサービスインターフェース。
type AccountServiceInterface interface {
	Register(ctx context.Context, kind model.PrincipalKind, in auth.RegisterInput) (*model.Principal, error)
	Login(ctx context.Context, kind model.PrincipalKind, email, password string) (*auth.LoginResult, error)
	Logout(ctx context.Context, sessionID string) error
	GetProfile(ctx context.Context, pc *model.PrincipalContext) (*model.Principal, error)
	UpdateProfile(ctx context.Context, pc *model.PrincipalContext, upd auth.ProfileUpdate) (*model.Principal, error)
}

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Name      string `json:"name"`
	Telephone string `json:"telephone"`
	Address   string `json:"address"`
	Gender    string `json:"gender"`
	Country   string `json:"country"`
	Pic       string `json:"pic"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// profileUpdateRequest は省略された項目を変更しない。
type profileUpdateRequest struct {
	Email     *string `json:"email"`
	Password  *string `json:"password"`
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Name      *string `json:"name"`
	Telephone *string `json:"telephone"`
	Address   *string `json:"address"`
	Gender    *string `json:"gender"`
	Country   *string `json:"country"`
	Pic       *string `json:"pic"`
}

func (req profileUpdateRequest) toProfileUpdate() auth.ProfileUpdate {
	return auth.ProfileUpdate{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Name:      req.Name,
		Telephone: req.Telephone,
		Address:   req.Address,
		Gender:    req.Gender,
		Country:   req.Country,
		Pic:       req.Pic,
	}
}

// AccountHandler は1種別分の登録・ログイン・ログアウト・プロフィールのHTTPハンドラー。
type AccountHandler struct {
	service AccountServiceInterface
	kind    model.PrincipalKind
	tokens  auth.TokenVerifier
	cookies CookieConfig
}

// NewAccountHandler はAccountHandlerを生成する。
// tokensはCookieを持たないクライアントのログアウト時にトークンからセッションIDを得るために使う。nilでもよい。
func NewAccountHandler(service AccountServiceInterface, kind model.PrincipalKind, tokens auth.TokenVerifier, cookies CookieConfig) *AccountHandler {
	return &AccountHandler{
		service: service,
		kind:    kind,
		tokens:  tokens,
		cookies: cookies,
	}
}

// Register は新規登録を処理する。
// POST /user/{kind}/register
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	principal, err := h.service.Register(r.Context(), h.kind, auth.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Name:      req.Name,
		Telephone: req.Telephone,
		Address:   req.Address,
		Gender:    req.Gender,
		Country:   req.Country,
		Pic:       req.Pic,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPrincipalResponse(principal, ""))
}

// Login はメールアドレスとパスワードで認証し、セッションCookieとトークンを返す。
// POST /user/{kind}/login
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), h.kind, req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	setSessionCookies(w, h.cookies, result)
	writeJSON(w, http.StatusCreated, toPrincipalResponse(result.Principal, result.Token))
}

// Logout はセッションを破棄し、認証Cookieを削除する。
// セッションが既に無い場合も成功として扱う。
// POST /user/{kind}/logout
func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := h.logoutSessionID(r)
	if sessionID != "" {
		if err := h.service.Logout(r.Context(), sessionID); err != nil {
			// ログアウト失敗してもCookieはクリアする
			slog.Error("failed to logout",
				slog.String("kind", string(h.kind)),
				slog.String("error", err.Error()),
			)
		}
	}

	clearSessionCookies(w, h.cookies)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out"})
}

// logoutSessionID はCookieのセッションIDを優先し、無ければ検証済みトークンのsidを使う。
func (h *AccountHandler) logoutSessionID(r *http.Request) string {
	creds := middleware.ExtractCredentials(r)
	if creds.SessionID != "" {
		return creds.SessionID
	}
	if creds.Token == "" || h.tokens == nil {
		return ""
	}
	claims, err := h.tokens.Verify(creds.Token)
	if err != nil {
		return ""
	}
	return claims.SessionID
}

// GetProfile は認証済み主体自身のプロフィールを返す。
// GET /user/{kind}/profile, GET /auth/me
func (h *AccountHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	pc, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	principal, err := h.service.GetProfile(r.Context(), pc)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPrincipalResponse(principal, ""))
}

// UpdateProfile は認証済み主体自身のプロフィールを更新する。
// PUT /user/{kind}/profile
func (h *AccountHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	pc, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req profileUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	principal, err := h.service.UpdateProfile(r.Context(), pc, req.toProfileUpdate())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPrincipalResponse(principal, ""))
}
