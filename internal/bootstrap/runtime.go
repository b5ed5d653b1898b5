package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/at-ishikawa/playtrack/internal/channel"
	"github.com/at-ishikawa/playtrack/internal/config"
	"github.com/at-ishikawa/playtrack/internal/database"
	"github.com/at-ishikawa/playtrack/internal/log"
	"github.com/at-ishikawa/playtrack/internal/storage"
	"github.com/at-ishikawa/playtrack/internal/store"
)

// Runtime is the store assembled from configuration, with the channel it
// publishes on.
type Runtime struct {
	Store   *store.Store
	Changes channel.Channel
	Medium  storage.Medium
}

// Open builds the medium, the change channel and the store for cfg.
// Everything opened is released by hooks registered on app; the store hook
// runs first so deferred writes reach the medium before it closes.
func Open(ctx context.Context, cfg *config.Config, app *App) (*Runtime, error) {
	logger := log.WithComponent("bootstrap")

	var (
		medium      storage.Medium
		redisClient *redis.Client
	)
	switch cfg.Storage.Backend {
	case "memory":
		medium = storage.NewMemoryMedium(storage.WithQuota(cfg.Storage.QuotaBytes))
	case "file":
		fileMedium, err := storage.NewFileMedium(cfg.Storage.Directory)
		if err != nil {
			return nil, fmt.Errorf("storage.NewFileMedium(%s) > %w", cfg.Storage.Directory, err)
		}
		medium = fileMedium
	case "sql":
		db, err := database.Open(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("database.Open() > %w", err)
		}
		app.AddShutdownHook(func(context.Context) error {
			return db.Close()
		})
		sqlMedium := storage.NewSQLMedium(db)
		if err := sqlMedium.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("sqlMedium.EnsureSchema() > %w", err)
		}
		medium = sqlMedium
	case "redis":
		client, err := storage.OpenRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("storage.OpenRedis(%s) > %w", cfg.Redis.Addr, err)
		}
		app.AddShutdownHook(func(context.Context) error {
			return client.Close()
		})
		redisClient = client
		medium = storage.NewRedisMedium(client)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	var changes channel.Channel
	switch {
	case redisClient != nil:
		changes = channel.NewRedis(redisClient, cfg.Redis.Channel)
	case cfg.Storage.Backend == "file" && cfg.Sync.Watch:
		watch, err := channel.NewFileWatch(cfg.Storage.Directory)
		if err != nil {
			return nil, fmt.Errorf("channel.NewFileWatch(%s) > %w", cfg.Storage.Directory, err)
		}
		app.AddShutdownHook(func(context.Context) error {
			return watch.Close()
		})
		changes = watch
	default:
		changes = channel.NewMemory()
	}

	st, err := store.New(medium, changes,
		store.WithKey(cfg.Storage.Key),
		store.WithDebounce(cfg.Sync.Debounce()),
	)
	if err != nil {
		return nil, fmt.Errorf("store.New() > %w", err)
	}
	app.AddShutdownHook(st.Close)

	if cfg.Sync.Watch && cfg.Storage.Backend != "memory" {
		if err := st.Watch(ctx); err != nil {
			return nil, fmt.Errorf("store.Watch() > %w", err)
		}
	}

	logger.Debug().
		Str("backend", cfg.Storage.Backend).
		Str("key", st.Key()).
		Str("origin", st.Origin()).
		Bool("watch", cfg.Sync.Watch).
		Msg("store opened")
	return &Runtime{Store: st, Changes: changes, Medium: medium}, nil
}
