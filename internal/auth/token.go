package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/holaholidays/internal/model"
)

// ErrInvalidToken はトークン検証失敗を表す。
// 期限切れ、形式不正、署名不一致、未知のkid、想定外のアルゴリズムを区別しない。
var ErrInvalidToken = errors.New("invalid token")

// TokenClaims はベアラートークンに含める主張。
type TokenClaims struct {
	Subject   string              // 主体ID
	Kind      model.PrincipalKind // 主体の種別
	SessionID string              // 同時に発行したセッションのID
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// jwtClaims はJWTペイロードの表現。
type jwtClaims struct {
	Kind      string `json:"kind"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// TokenConfig はTokenManagerの設定。
type TokenConfig struct {
	Keys        map[string][]byte // kid -> HMAC共有鍵
	ActiveKeyID string            // 署名に使用するkid
	Issuer      string
}

// TokenManager はHS256署名のベアラートークンを発行・検証する。
type TokenManager struct {
	keys        map[string][]byte
	activeKeyID string
	issuer      string
	now         func() time.Time
}

// TokenOption はTokenManagerのオプション。
type TokenOption func(*TokenManager)

// WithTimeFunc は現在時刻の取得関数を差し替える。テスト用。
func WithTimeFunc(now func() time.Time) TokenOption {
	return func(m *TokenManager) {
		m.now = now
	}
}

// NewTokenManager はTokenManagerを生成する。
// 鍵が空の場合やActiveKeyIDが鍵束に含まれない場合はエラーを返す。
func NewTokenManager(cfg TokenConfig, opts ...TokenOption) (*TokenManager, error) {
	if len(cfg.Keys) == 0 {
		return nil, errors.New("token manager requires at least one key")
	}
	keys := make(map[string][]byte, len(cfg.Keys))
	for kid, secret := range cfg.Keys {
		if kid == "" {
			return nil, errors.New("token key id must not be empty")
		}
		if len(secret) == 0 {
			return nil, fmt.Errorf("token key %q has an empty secret", kid)
		}
		keys[kid] = secret
	}
	if _, ok := keys[cfg.ActiveKeyID]; !ok {
		return nil, fmt.Errorf("active key id %q is not in the keyring", cfg.ActiveKeyID)
	}

	m := &TokenManager{
		keys:        keys,
		activeKeyID: cfg.ActiveKeyID,
		issuer:      cfg.Issuer,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// ActiveKeyID は署名に使用するkidを返す。
func (m *TokenManager) ActiveKeyID() string {
	return m.activeKeyID
}

// Issue は指定したkidの鍵で署名したトークンを発行する。
// IssuedAtが未設定の場合は現在時刻を使用する。
func (m *TokenManager) Issue(claims TokenClaims, keyID string) (string, error) {
	secret, ok := m.keys[keyID]
	if !ok {
		return "", fmt.Errorf("unknown signing key %q", keyID)
	}
	if claims.Subject == "" {
		return "", errors.New("token subject must not be empty")
	}

	issuedAt := claims.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = m.now()
	}
	if !claims.ExpiresAt.After(issuedAt) {
		return "", errors.New("token expiry must be after issued-at")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		Kind:      string(claims.Kind),
		SessionID: claims.SessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	})
	token.Header["kid"] = keyID

	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify はトークンを検証し、主張を返す。
// 失敗理由に関わらずErrInvalidTokenを返す。
func (m *TokenManager) Verify(tokenString string) (*TokenClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		options = append(options, jwt.WithIssuer(m.issuer))
	}

	parsed := &jwtClaims{}
	token, err := jwt.NewParser(options...).ParseWithClaims(tokenString, parsed, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		secret, ok := m.keys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if parsed.Subject == "" || parsed.IssuedAt == nil || parsed.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}
	kind := model.PrincipalKind(parsed.Kind)
	if !kind.Valid() {
		return nil, ErrInvalidToken
	}

	return &TokenClaims{
		Subject:   parsed.Subject,
		Kind:      kind,
		SessionID: parsed.SessionID,
		IssuedAt:  parsed.IssuedAt.Time,
		ExpiresAt: parsed.ExpiresAt.Time,
	}, nil
}
