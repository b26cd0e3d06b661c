// Package model はドメインモデルを定義する。
package model

// ItemType はIntegrationItemの種別を表す。
type ItemType string

const (
	// ItemTypeContact はCRMのコンタクトを表す。
	ItemTypeContact ItemType = "contact"
	// ItemTypeCompany はCRMの会社を表す。
	ItemTypeCompany ItemType = "company"
	// ItemTypeDeal はCRMの取引を表す。
	ItemTypeDeal ItemType = "deal"
)

// IntegrationItem はプロバイダーのレコードを正規化した表現。
// レコード本来の形状に依存せず、ホストアプリケーションがそのまま表示できる。
// CreationTime と LastModifiedTime はプロバイダーの値をパースせずに保持する。
type IntegrationItem struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Type             ItemType `json:"type"`
	CreationTime     string   `json:"creation_time,omitempty"`
	LastModifiedTime string   `json:"last_modified_time,omitempty"`
	URL              string   `json:"url,omitempty"`
	Visibility       bool     `json:"visibility"`

	// Metadata はMetadataBuilderが付与する追加情報。既定では空。
	Metadata map[string]any `json:"metadata,omitempty"`
}
