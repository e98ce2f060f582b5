// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は書籍のタイトルや著者名など、プレーンテキストとして扱う入力から
// マークアップを取り除く。外部カタログから取り込んだ文字列にも同じ処理を適用する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプレーンテキスト化のインターフェース。
type TextSanitizer interface {
	// Clean は全てのタグを除去し、エンティティを復元して前後の空白を詰めた文字列を返す。
	// 同一入力に対して常に同一出力を返す。
	Clean(raw string) string
}

type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
// StrictPolicyは全タグを除去する。script/styleの中身も出力に残らない。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Clean はrawからマークアップを除去する。
func (s *textSanitizer) Clean(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.policy.Sanitize(raw)
	// StrictPolicyは & や < をエスケープして返すため、保存前に元の文字へ戻す
	text := html.UnescapeString(stripped)
	return strings.Join(strings.Fields(text), " ")
}

// compile-time interface check
var _ TextSanitizer = (*textSanitizer)(nil)
