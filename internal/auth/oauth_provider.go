package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/google"
)

const (
	ProviderGoogle   = "google"
	ProviderFacebook = "facebook"

	defaultGoogleUserInfoURL   = "https://www.googleapis.com/oauth2/v3/userinfo"
	defaultFacebookUserInfoURL = "https://graph.facebook.com/v19.0/me?fields=id,name,email,first_name,last_name,picture.type(large)"

	maxUserInfoBytes = 1 << 20
)

// OAuthProvider は外部IdPによるログインを抽象化する。
type OAuthProvider interface {
	// Name はルーティングに使うプロバイダー名を返す。
	Name() string
	// GetLoginURL は認可エンドポイントへのリダイレクトURLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、プロフィールを取得する。
	ExchangeCode(ctx context.Context, code string) (*FederatedProfile, error)
}

// OAuth2Config は外部IdPの設定。
type OAuth2Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// HTTPClient はトークン交換とユーザー情報取得に使う。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// OAuth2Provider はgolang.org/x/oauth2による認可コードフローの実装。
type OAuth2Provider struct {
	name        string
	config      *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
	parse       func(body []byte) (*FederatedProfile, error)
}

func newOAuth2Provider(name string, cfg OAuth2Config, endpoint oauth2.Endpoint, scopes []string, userInfoURL string, parse func([]byte) (*FederatedProfile, error)) *OAuth2Provider {
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	if cfg.UserInfoURL != "" {
		userInfoURL = cfg.UserInfoURL
	}
	return &OAuth2Provider{
		name: name,
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		userInfoURL: userInfoURL,
		httpClient:  cfg.HTTPClient,
		parse:       parse,
	}
}

// NewGoogleProvider はGoogleのOAuth2Providerを生成する。
func NewGoogleProvider(cfg OAuth2Config) *OAuth2Provider {
	return newOAuth2Provider(ProviderGoogle, cfg, google.Endpoint,
		[]string{"openid", "email", "profile"}, defaultGoogleUserInfoURL, parseGoogleUserInfo)
}

// NewFacebookProvider はFacebookのOAuth2Providerを生成する。
func NewFacebookProvider(cfg OAuth2Config) *OAuth2Provider {
	return newOAuth2Provider(ProviderFacebook, cfg, facebook.Endpoint,
		[]string{"email", "public_profile"}, defaultFacebookUserInfoURL, parseFacebookUserInfo)
}

// Name はプロバイダー名を返す。
func (p *OAuth2Provider) Name() string {
	return p.name
}

// GetLoginURL は認可URLを生成する。
func (p *OAuth2Provider) GetLoginURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// ExchangeCode は認可コードをアクセストークンに交換し、ユーザー情報を取得する。
func (p *OAuth2Provider) ExchangeCode(ctx context.Context, code string) (*FederatedProfile, error) {
	if code == "" {
		return nil, errors.New("empty authorization code")
	}
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	resp, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read user info response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info fetch failed with status %d", resp.StatusCode)
	}

	profile, err := p.parse(body)
	if err != nil {
		return nil, err
	}
	profile.Provider = p.name
	return profile, nil
}

// googleUserInfo はGoogleのユーザー情報エンドポイントのレスポンス。
type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
}

func parseGoogleUserInfo(body []byte) (*FederatedProfile, error) {
	var info googleUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}
	if info.Sub == "" {
		return nil, errors.New("empty sub in user info response")
	}
	profile := &FederatedProfile{
		ProviderUserID: info.Sub,
		GivenName:      info.GivenName,
		FamilyName:     info.FamilyName,
		DisplayName:    info.Name,
		PhotoURL:       info.Picture,
	}
	// 未確認のメールアドレスは既存アカウントとの紐付けに使わない
	if info.EmailVerified {
		profile.Email = info.Email
	}
	return profile, nil
}

// facebookUserInfo はGraph APIの/meのレスポンス。
type facebookUserInfo struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Picture   struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

func parseFacebookUserInfo(body []byte) (*FederatedProfile, error) {
	var info facebookUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}
	if info.ID == "" {
		return nil, errors.New("empty id in user info response")
	}
	return &FederatedProfile{
		ProviderUserID: info.ID,
		Email:          info.Email,
		GivenName:      info.FirstName,
		FamilyName:     info.LastName,
		DisplayName:    info.Name,
		PhotoURL:       info.Picture.Data.URL,
	}, nil
}

// compile-time interface check
var _ OAuthProvider = (*OAuth2Provider)(nil)
