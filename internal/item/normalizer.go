package item

import (
	"fmt"
	"strings"

	"github.com/hitoshi/crmlink/internal/model"
)

// DefaultAppBaseURL はレコード画面URLの既定ベース。
const DefaultAppBaseURL = "https://app.hubspot.com"

// hubspotObject はCRM v3 objects APIの1レコード。
// createdAt/updatedAtは解釈せずにそのまま受け渡す。
type hubspotObject struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
	CreatedAt  string         `json:"createdAt"`
	UpdatedAt  string         `json:"updatedAt"`
}

// entityRule はエンティティ種別ごとの正規化ルール。
type entityRule struct {
	itemType    model.ItemType
	path        string // APIパスとレコード画面パスの両方に使う
	idPrefix    string
	defaultName string
	name        func(props map[string]any) string
}

var (
	contactRule = entityRule{
		itemType:    model.ItemTypeContact,
		path:        "contacts",
		idPrefix:    "contact_",
		defaultName: "Unnamed Contact",
		name: func(props map[string]any) string {
			return strings.TrimSpace(stringProp(props, "firstname") + " " + stringProp(props, "lastname"))
		},
	}
	companyRule = entityRule{
		itemType:    model.ItemTypeCompany,
		path:        "companies",
		idPrefix:    "company_",
		defaultName: "Unnamed Company",
		name: func(props map[string]any) string {
			return stringProp(props, "name")
		},
	}
	dealRule = entityRule{
		itemType:    model.ItemTypeDeal,
		path:        "deals",
		idPrefix:    "deal_",
		defaultName: "Unnamed Deal",
		name: func(props map[string]any) string {
			return stringProp(props, "dealname")
		},
	}

	// entityRules は取得順。結果もこの順に並ぶ。
	entityRules = []entityRule{contactRule, companyRule, dealRule}
)

// NameSanitizer は表示名からマークアップ等を除去する。
// 設定しない場合、表示名はプロバイダーの値をそのまま使う。
type NameSanitizer interface {
	SanitizeName(name string) string
}

// Normalizer はCRMレコードをIntegrationItemに変換する。
type Normalizer struct {
	appBaseURL string
	sanitizer  NameSanitizer
	metadata   MetadataBuilder
}

// NewNormalizer はNormalizerを生成する。
// sanitizer/metadataはnilでもよい。sanitizerがnilの場合、表示名は書き換えない。
func NewNormalizer(appBaseURL string, sanitizer NameSanitizer, metadata MetadataBuilder) *Normalizer {
	if appBaseURL == "" {
		appBaseURL = DefaultAppBaseURL
	}
	if metadata == nil {
		metadata = NoopMetadataBuilder{}
	}
	return &Normalizer{
		appBaseURL: strings.TrimRight(appBaseURL, "/"),
		sanitizer:  sanitizer,
		metadata:   metadata,
	}
}

// normalize は1レコードを変換する。
func (n *Normalizer) normalize(rule entityRule, obj hubspotObject) model.IntegrationItem {
	name := rule.name(obj.Properties)
	if n.sanitizer != nil {
		name = strings.TrimSpace(n.sanitizer.SanitizeName(name))
	}
	if name == "" {
		name = rule.defaultName
	}

	item := model.IntegrationItem{
		ID:               rule.idPrefix + obj.ID,
		Name:             name,
		Type:             rule.itemType,
		CreationTime:     obj.CreatedAt,
		LastModifiedTime: obj.UpdatedAt,
		URL:              n.recordURL(rule, obj),
		Visibility:       true,
	}
	item.Metadata = n.metadata.BuildMetadata(rule.itemType, obj.Properties)
	return item
}

func (n *Normalizer) recordURL(rule entityRule, obj hubspotObject) string {
	objectID := stringProp(obj.Properties, "hs_object_id")
	if objectID == "" {
		objectID = obj.ID
	}
	return fmt.Sprintf("%s/%s/%s", n.appBaseURL, rule.path, objectID)
}

// stringProp はプロパティを文字列として取り出す。欠落・nullは空文字。
func stringProp(props map[string]any, key string) string {
	v, ok := props[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
