package watcher

import "github.com/google/wire"

// ProviderSet 监听器 ProviderSet
var ProviderSet = wire.NewSet(
	NewBlobWatcher,
)
