package application

import (
	"github.com/google/wire"

	"github.com/casefile/backend/internal/application/chat"
	"github.com/casefile/backend/internal/application/document"
)

// ProviderSet Application 层总 ProviderSet
var ProviderSet = wire.NewSet(
	document.ProviderSet,
	chat.ProviderSet,
)
