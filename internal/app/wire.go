//go:build wireinject
// +build wireinject

package app

import (
	"context"

	"github.com/google/wire"

	"jobmate/pipeline/internal/config"
	"jobmate/pipeline/internal/logging"
)

// Initialize builds the App and returns a cleanup closing its connections.
func Initialize(ctx context.Context, cfg *config.Config, log *logging.Logger) (*App, func(), error) {
	wire.Build(
		// Infrastructure
		providePool,
		provideRedis,
		provideStore,

		// Discovery
		provideBoards,
		provideCompanySource,
		provideLimiter,
		provideOrchestrator,

		// Matching
		provideCache,
		provideCompleter,
		provideProcessor,

		// Queue & handlers
		provideQueue,
		provideNotifier,
		provideHandlers,
		provideWorker,
		provideScheduler,

		// Operator surfaces
		provideAdmin,
		provideHealth,

		newApp,
	)
	return nil, nil, nil
}
