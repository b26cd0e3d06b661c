package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// NameSanitizer はCRMレコードの表示名からHTMLタグを取り除く。
// 表示名をHTMLとして埋め込むホスト向けのオプションで、既定では使われない。
//
// 出力はエスケープ済みHTMLのまま返す。エンティティは復元しないため、
// "&lt;script&gt;" のような入力がタグに戻ることはない。空白は変更しない。
type NameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はタグを一切許可しないNameSanitizerを生成する。
func NewNameSanitizer() *NameSanitizer {
	return &NameSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeName はタグを除去し、テキストをHTMLエスケープして返す。
func (s *NameSanitizer) SanitizeName(name string) string {
	if name == "" {
		return ""
	}
	return s.policy.Sanitize(name)
}
