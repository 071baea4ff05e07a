package main

import (
	"context"

	"github.com/mcdev12/trivia/go/internal/backend"
	"github.com/mcdev12/trivia/go/internal/backend/postgres"
	"github.com/mcdev12/trivia/go/internal/content"
	"github.com/mcdev12/trivia/go/internal/gateway"
	"github.com/mcdev12/trivia/go/internal/relay"
	"github.com/rs/zerolog/log"
)

// Services is everything the HTTP layer serves. Gateway is nil when the
// gateway runs as its own process (postgres mode).
type Services struct {
	Backend backend.Backend
	Gateway *gateway.ConnectionManager
	Purger  roomPurger

	closers []func()
}

// Close releases resources in reverse order of creation.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func setupServices(ctx context.Context, config *Config) (*Services, error) {
	if config.Server.Backend == backendPostgres {
		return setupPostgresServices(ctx, config)
	}
	return setupMemoryServices(ctx, config), nil
}

// setupMemoryServices wires a single-process stack: the memory backend
// publishes to an in-process bus, which the embedded gateway fans out.
func setupMemoryServices(ctx context.Context, config *Config) *Services {
	bus := relay.NewBus()
	mem := backend.NewMemory(
		backend.WithPublisher(bus),
		backend.WithCapacity(config.Server.RoomCapacity),
	)

	connCfg := gateway.DefaultConnectionConfig()
	if config.Server.LeaveGrace > 0 {
		connCfg.LeaveGrace = config.Server.LeaveGrace
	}
	cm := gateway.NewConnectionManager(bus, connCfg, gateway.WithLeaver(mem))

	// public APIs are slow; serve while the catalogue fills
	if len(config.Content.EnabledSources) > 0 {
		go seedMemory(ctx, &config.Config, mem)
	}

	return &Services{
		Backend: mem,
		Gateway: cm,
		Purger:  mem,
		closers: []func(){
			func() { _ = bus.Close() },
			cm.Close,
		},
	}
}

func seedMemory(ctx context.Context, cfg *content.Config, mem *backend.Memory) {
	fetched, inserted, err := content.Seed(ctx, cfg, content.MemorySink{Memory: mem})
	if err != nil {
		log.Error().Err(err).Msg("some content sources failed")
	}
	log.Info().Int("fetched", fetched).Int("inserted", inserted).Msg("content loaded")
}

func setupPostgresServices(ctx context.Context, config *Config) (*Services, error) {
	pool, err := setupDatabase(ctx, config.Server.AutoMigrate)
	if err != nil {
		return nil, err
	}
	store := postgres.NewStore(pool, postgres.WithCapacity(config.Server.RoomCapacity))
	return &Services{
		Backend: store,
		Purger:  store,
		closers: []func(){pool.Close},
	}, nil
}
