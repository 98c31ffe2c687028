// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/hitoshi/holaholidays/internal/auth"
	"github.com/hitoshi/holaholidays/internal/model"
)

const (
	// SessionCookieName はセッションIDを保持するCookieの名前。
	SessionCookieName = "sessionId"
	// AccessTokenCookieName はベアラートークンを保持するCookieの名前。
	AccessTokenCookieName = "access_token"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストに主体情報を格納するためのキー。
var principalContextKey = contextKey("principal")

// Authenticator は資格情報を主体コンテキストに解決する。
type Authenticator interface {
	Authenticate(ctx context.Context, creds auth.Credentials) (*model.PrincipalContext, error)
}

// RejectionRecorder は認証拒否をメトリクスに記録する。
type RejectionRecorder interface {
	RecordAuthRejection(cause string)
}

// ExtractCredentials はリクエストから資格情報を取り出す。
// Authorizationヘッダーのベアラートークンをaccess_token Cookieより優先する。
func ExtractCredentials(r *http.Request) auth.Credentials {
	var creds auth.Credentials
	if token, ok := bearerToken(r); ok {
		creds.Token = token
	} else if c, err := r.Cookie(AccessTokenCookieName); err == nil {
		creds.Token = c.Value
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		creds.SessionID = c.Value
	}
	return creds
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// NewAuthMiddleware はトークンとセッションを検証し、主体情報をコンテキストに注入するミドルウェアを返す。
// kindsを指定した場合、それ以外の種別の主体は拒否する。
// 拒否理由に関わらず同一の401レスポンスを返し、理由はログとメトリクスにのみ残す。
func NewAuthMiddleware(authenticator Authenticator, recorder RejectionRecorder, kinds ...model.PrincipalKind) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pc, err := authenticator.Authenticate(r.Context(), ExtractCredentials(r))
			if err == nil && len(kinds) > 0 && !slices.Contains(kinds, pc.Kind) {
				err = &auth.AuthError{Cause: auth.CauseKindNotAllowed}
			}
			if err != nil {
				cause := auth.CauseStoreError
				var authErr *auth.AuthError
				if errors.As(err, &authErr) {
					cause = authErr.Cause
				}
				if cause == auth.CauseStoreError {
					slog.Error("authentication failed",
						slog.String("path", r.URL.Path),
						slog.String("cause", string(cause)),
						slog.String("error", err.Error()),
					)
				} else {
					slog.Warn("authentication rejected",
						slog.String("path", r.URL.Path),
						slog.String("cause", string(cause)),
					)
				}
				if recorder != nil {
					recorder.RecordAuthRejection(string(cause))
				}
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
				return
			}

			annotatePrincipal(r.Context(), pc.ID)
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), pc)))
		})
	}
}

// RequireApprovedAdmin は承認済み管理者以外を403で拒否するミドルウェア。
// NewAuthMiddlewareの後に配置する。
func RequireApprovedAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pc, ok := PrincipalFromContext(r.Context())
		if !ok {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
			return
		}
		if pc.Kind != model.KindAdmin || !pc.IsAdmin {
			slog.Warn("admin approval required",
				slog.String("path", r.URL.Path),
				slog.String("principal_id", pc.ID),
			)
			WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PrincipalFromContext はリクエストコンテキストから主体情報を取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func PrincipalFromContext(ctx context.Context) (*model.PrincipalContext, bool) {
	pc, ok := ctx.Value(principalContextKey).(*model.PrincipalContext)
	return pc, ok && pc != nil
}

// ContextWithPrincipal はコンテキストに主体情報を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, pc *model.PrincipalContext) context.Context {
	return context.WithValue(ctx, principalContextKey, pc)
}
