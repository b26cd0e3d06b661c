package item

import "github.com/hitoshi/crmlink/internal/model"

// MetadataBuilder はレコードのプロパティから付加情報を組み立てる拡張ポイント。
// nilを返した場合、IntegrationItem.Metadataは出力されない。
type MetadataBuilder interface {
	BuildMetadata(itemType model.ItemType, properties map[string]any) map[string]any
}

// NoopMetadataBuilder は何も組み立てない既定実装。
type NoopMetadataBuilder struct{}

// BuildMetadata は常にnilを返す。
func (NoopMetadataBuilder) BuildMetadata(model.ItemType, map[string]any) map[string]any {
	return nil
}

// compile-time interface check
var _ MetadataBuilder = NoopMetadataBuilder{}
