package handler

import (
	"net/http"
	"time"

	"github.com/hitoshi/holaholidays/internal/auth"
	"github.com/hitoshi/holaholidays/internal/middleware"
)

// CookieConfig は認証Cookieの属性。
type CookieConfig struct {
	Secure bool
	Domain string
}

// setSessionCookies はセッションIDとトークンのCookieを設定する。
// いずれもHttpOnlyで、期限はセッションとトークンの期限に合わせる。
func setSessionCookies(w http.ResponseWriter, cfg CookieConfig, result *auth.LoginResult) {
	http.SetCookie(w, newAuthCookie(cfg, middleware.SessionCookieName, result.Session.ID, result.Session.ExpiresAt))
	http.SetCookie(w, newAuthCookie(cfg, middleware.AccessTokenCookieName, result.Token, result.TokenExpiresAt))
}

// clearSessionCookies は認証Cookieを削除する。
func clearSessionCookies(w http.ResponseWriter, cfg CookieConfig) {
	for _, name := range []string{middleware.SessionCookieName, middleware.AccessTokenCookieName} {
		c := newAuthCookie(cfg, name, "", time.Unix(0, 0))
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

func newAuthCookie(cfg CookieConfig, name, value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   cfg.Domain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
