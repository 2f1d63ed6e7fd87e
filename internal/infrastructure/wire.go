package infrastructure

import (
	"github.com/google/wire"

	"github.com/casefile/backend/internal/infrastructure/config"
	"github.com/casefile/backend/internal/infrastructure/llm"
	"github.com/casefile/backend/internal/infrastructure/storage"
	"github.com/casefile/backend/internal/infrastructure/watcher"
)

// ProviderSet Infrastructure 层总 ProviderSet
var ProviderSet = wire.NewSet(
	config.ProviderSet,
	storage.ProviderSet,
	llm.ProviderSet,
	watcher.ProviderSet,
)
