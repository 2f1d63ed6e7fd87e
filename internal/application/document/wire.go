package document

import "github.com/google/wire"

// ProviderSet 文档应用层 ProviderSet
var ProviderSet = wire.NewSet(
	NewService,
)
