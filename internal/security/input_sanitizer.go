// Package security はアプリケーションのセキュリティ機能を提供する。
//
// InputSanitizer はプロフィール入力からマークアップと制御文字を除去する。
// OutboundGuard は外部IdPとの通信とプロフィール画像URLを検証する。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// InputSanitizer はユーザー入力のプレーンテキスト化を行う。
// bluemondayのStrictPolicyですべてのタグを除去する。スレッドセーフ。
type InputSanitizer struct {
	policy *bluemonday.Policy
}

// NewInputSanitizer はInputSanitizerを生成する。
func NewInputSanitizer() *InputSanitizer {
	return &InputSanitizer{policy: bluemonday.StrictPolicy()}
}

// maxSanitizePasses はSanitizeが不動点に達するまでの最大反復回数。
// 多重にエンティティ化された入力でもこの回数内に収束しなければ空文字列を返す。
const maxSanitizePasses = 8

// Sanitize はタグと制御文字を除去し、前後の空白を取り除いた文字列を返す。
// 出力が変化しなくなるまで繰り返すため、Sanitize(Sanitize(x)) == Sanitize(x) が成り立つ。
// パスワードとメールアドレスには使用しないこと。
func (s *InputSanitizer) Sanitize(input string) string {
	current := input
	for range maxSanitizePasses {
		next := s.sanitizeOnce(current)
		if next == current {
			return next
		}
		current = next
	}
	return ""
}

// sanitizeOnce は1回分の除去を行う。エンティティを戻した結果にタグが現れることがある。
func (s *InputSanitizer) sanitizeOnce(input string) string {
	if input == "" {
		return ""
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\t' && r != '\n' {
			return -1
		}
		return r
	}, input)
	cleaned = html.UnescapeString(s.policy.Sanitize(cleaned))
	return strings.TrimSpace(cleaned)
}
