package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// AuthState はOAuthリダイレクトの往復でユーザーと組織を対応付ける相関情報。
// 暗号化はされない。改ざん検知は署名を有効にした場合のみ行われる。
type AuthState struct {
	UserID string `json:"user_id"`
	OrgID  string `json:"org_id"`
}

// CredentialBundle はプロバイダーが発行したトークン情報。
// コールバック時に作成され、ハンドオフストアで一度だけ読み出される。
//
// 既知のフィールド以外（hub_id, scopes等）はExtraに保持し、
// JSONではトップレベルのフィールドとしてそのまま往復させる。
type CredentialBundle struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
	Extra        map[string]json.RawMessage
}

// bundleFields はCredentialBundleの既知フィールドのJSON表現。
type bundleFields struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

var knownBundleKeys = []string{"access_token", "refresh_token", "token_type", "expires_in"}

// MarshalJSON はExtraを既知フィールドと同じ階層に展開して出力する。
// 既知フィールドと同名のExtraは無視する。
func (b CredentialBundle) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(bundleFields{
		AccessToken:  b.AccessToken,
		RefreshToken: b.RefreshToken,
		TokenType:    b.TokenType,
		ExpiresIn:    b.ExpiresIn,
	})
	if err != nil || len(b.Extra) == 0 {
		return known, err
	}

	merged := make(map[string]json.RawMessage, len(b.Extra)+len(knownBundleKeys))
	for k, v := range b.Extra {
		merged[k] = v
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	for _, k := range knownBundleKeys {
		delete(merged, k)
	}
	for k, v := range knownMap {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON は既知フィールドを取り出し、残りをExtraに格納する。
func (b *CredentialBundle) UnmarshalJSON(data []byte) error {
	var known bundleFields
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range knownBundleKeys {
		delete(all, k)
	}
	if len(all) == 0 {
		all = nil
	}

	*b = CredentialBundle{
		AccessToken:  known.AccessToken,
		RefreshToken: known.RefreshToken,
		TokenType:    known.TokenType,
		ExpiresIn:    known.ExpiresIn,
		Extra:        all,
	}
	return nil
}

// ErrEmptyAccessToken はアクセストークンを含まない資格情報を表す。
var ErrEmptyAccessToken = errors.New("access_token is empty")

// ParseCredentialBundle はJSON文字列からCredentialBundleを復元する。
// ホストアプリケーションは資格情報をシリアライズ済みの文字列で渡してくる。
func ParseCredentialBundle(raw string) (*CredentialBundle, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("credentials are empty")
	}

	var bundle CredentialBundle
	if err := json.Unmarshal([]byte(raw), &bundle); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	if bundle.AccessToken == "" {
		return nil, ErrEmptyAccessToken
	}

	return &bundle, nil
}
