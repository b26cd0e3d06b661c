// Package oauthstate はOAuthリダイレクトで往復させるstateパラメータの
// エンコードとデコードを提供する。
package oauthstate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hitoshi/crmlink/internal/model"
)

// ErrInvalidState はstateがAuthStateとして解釈できないことを表す。
var ErrInvalidState = errors.New("invalid oauth state")

const signatureSeparator = "."

// Codec はAuthStateと不透明な文字列を相互変換する。
// secretが空の場合は署名なしのbase64url(JSON)を出力する。
// secretが設定されている場合は "payload.signature" 形式でHMAC-SHA256署名を付与し、
// デコード時に署名を検証する。
type Codec struct {
	secret []byte
}

// NewCodec はCodecを生成する。
func NewCodec(secret string) *Codec {
	c := &Codec{}
	if secret != "" {
		c.secret = []byte(secret)
	}
	return c
}

// Signed は署名付きモードかどうかを返す。
func (c *Codec) Signed() bool {
	return len(c.secret) > 0
}

// Encode はAuthStateをstate文字列にエンコードする。
func (c *Codec) Encode(state model.AuthState) string {
	// 文字列2つの構造体のMarshalは失敗しない
	raw, _ := json.Marshal(state)
	payload := base64.RawURLEncoding.EncodeToString(raw)
	if !c.Signed() {
		return payload
	}
	return payload + signatureSeparator + c.sign(payload)
}

// Decode はstate文字列をAuthStateにデコードする。
// 形式不正、JSON不正、署名不一致の場合はErrInvalidStateを返す。
func (c *Codec) Decode(encoded string) (model.AuthState, error) {
	payload := encoded
	if c.Signed() {
		var sig string
		var ok bool
		payload, sig, ok = strings.Cut(encoded, signatureSeparator)
		if !ok {
			return model.AuthState{}, fmt.Errorf("%w: missing signature", ErrInvalidState)
		}
		if !hmac.Equal([]byte(sig), []byte(c.sign(payload))) {
			return model.AuthState{}, fmt.Errorf("%w: signature mismatch", ErrInvalidState)
		}
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return model.AuthState{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return model.AuthState{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if _, ok := fields["user_id"]; !ok {
		return model.AuthState{}, fmt.Errorf("%w: user_id is missing", ErrInvalidState)
	}
	if _, ok := fields["org_id"]; !ok {
		return model.AuthState{}, fmt.Errorf("%w: org_id is missing", ErrInvalidState)
	}

	var state model.AuthState
	if err := json.Unmarshal(raw, &state); err != nil {
		return model.AuthState{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return state, nil
}

func (c *Codec) sign(payload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
