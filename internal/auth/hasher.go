// Package auth は資格情報の検証、セッションとトークンの発行、外部IdP連携を提供する。
package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrEmptyPassword は空のパスワードをハッシュ化しようとした場合に返す。
var ErrEmptyPassword = errors.New("password cannot be empty")

// ErrPreHashedPassword はbcryptダイジェスト形式の文字列を平文として受け取った場合に返す。
var ErrPreHashedPassword = errors.New("password looks like a bcrypt digest")

// PasswordHasher はパスワードの一方向ハッシュ化と照合を行う。
type PasswordHasher interface {
	// Hash は平文パスワードからダイジェストを生成する。
	Hash(plaintext string) (string, error)
	// Verify はダイジェストと平文が一致するかを返す。
	// 不正なダイジェストや外部IdP用のセンチネル値に対してはfalseを返す。
	Verify(digest, plaintext string) bool
}

// BcryptHasher はbcryptによるPasswordHasherの実装。
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher はBcryptHasherを生成する。
// costがbcryptの許容範囲外の場合はbcrypt.DefaultCostを使用する。
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash はbcryptでパスワードをハッシュ化する。
func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPassword
	}
	if looksLikeBcrypt(plaintext) {
		return "", ErrPreHashedPassword
	}

	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(digest), nil
}

// Verify はbcryptでダイジェストと平文を照合する。比較は定数時間で行われる。
func (h *BcryptHasher) Verify(digest, plaintext string) bool {
	if digest == "" || plaintext == "" || !looksLikeBcrypt(digest) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

func looksLikeBcrypt(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// compile-time interface check
var _ PasswordHasher = (*BcryptHasher)(nil)
