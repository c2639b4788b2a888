// Package daemon composes the monitoring daemon out of the internal packages
// using fx. One daemon process owns one profile: its lock, its archive
// database and one push channel connection.
package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/crisari666/wamon/internal/alerts"
	"github.com/crisari666/wamon/internal/bus"
	"github.com/crisari666/wamon/internal/cache"
	"github.com/crisari666/wamon/internal/config"
	"github.com/crisari666/wamon/internal/coordinator"
	"github.com/crisari666/wamon/internal/lock"
	"github.com/crisari666/wamon/internal/logging"
	"github.com/crisari666/wamon/internal/model"
	"github.com/crisari666/wamon/internal/profile"
	"github.com/crisari666/wamon/internal/push"
	"github.com/crisari666/wamon/internal/registry"
	"github.com/crisari666/wamon/internal/rest"
	"github.com/crisari666/wamon/internal/store"
	intsync "github.com/crisari666/wamon/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// refreshInterval is how often the session registry polls the backend.
const refreshInterval = 30 * time.Second

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
	// View is an optional persisted selection ("session=<id>&chat=<id>")
	// restored once the daemon is up.
	View string
}

// Clients groups the REST clients for the three backends.
type Clients struct {
	API          *rest.Client
	Whatsapp     *rest.Client
	Conversation *rest.Client
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideStateMachine,
			provideClients,
			providePushClient,
			provideChatList,
			provideMessageLog,
			provideRoomSet,
			provideRegistry,
			provideNotifier,
			provideCoordinator,
			provideBridge,
			provideEngine,
			provideRecorder,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if err := profile.ValidateName(p.Profile); err != nil {
		return nil, err
	}
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(profile.ConfigPath(p.Profile))
	if err != nil {
		return nil, err
	}
	if cfg.WhatsappURL == "" || cfg.PushURL == "" {
		return nil, errors.New("config: whatsapp_url and push_url are required")
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.ArchiveDBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("archive initialized", zap.String("path", dbPath))
	return db, nil
}

func provideStateMachine(b *bus.Bus) *push.Machine {
	return push.NewMachine(b)
}

func provideClients(cfg *config.Config) Clients {
	return Clients{
		API:          rest.New(cfg.APIURL, cfg.Token),
		Whatsapp:     rest.New(cfg.WhatsappURL, cfg.Token),
		Conversation: rest.New(cfg.ConversationURL, cfg.Token),
	}
}

func providePushClient(cfg *config.Config, machine *push.Machine, logger *zap.Logger) *push.Client {
	return push.New(cfg.PushURL, cfg.Token, machine, logger)
}

func provideChatList() *cache.ChatList {
	return cache.NewChatList()
}

func provideMessageLog() *cache.MessageLog {
	return cache.NewMessageLog()
}

func provideRoomSet(client *push.Client) *coordinator.RoomSet {
	return coordinator.NewRoomSet(client)
}

func provideRegistry(c Clients, b *bus.Bus, logger *zap.Logger) *registry.Registry {
	return registry.New(c.Whatsapp, b, logger)
}

func provideNotifier(c Clients, db *store.DB, b *bus.Bus, logger *zap.Logger) *alerts.Notifier {
	return alerts.New(c.Conversation, db, b, logger)
}

func provideCoordinator(c Clients, notifier *alerts.Notifier, rooms *coordinator.RoomSet,
	chats *cache.ChatList, messages *cache.MessageLog, b *bus.Bus, logger *zap.Logger) *coordinator.Coordinator {
	return coordinator.New(c.Whatsapp, c.API, notifier, rooms, chats, messages, b, logger)
}

func provideBridge(client *push.Client, b *bus.Bus, logger *zap.Logger) *intsync.Bridge {
	return intsync.NewBridge(client, b, logger)
}

func provideEngine(chats *cache.ChatList, messages *cache.MessageLog, reg *registry.Registry,
	c Clients, db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(chats, messages, reg, c.Whatsapp, db, b, logger)
}

func provideRecorder(reg *registry.Registry, chats *cache.ChatList, db *store.DB,
	b *bus.Bus, logger *zap.Logger) *intsync.Recorder {
	return intsync.NewRecorder(reg, chats, db, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, shutdowner fx.Shutdowner, p Params, client *push.Client,
	bridge *intsync.Bridge, engine *intsync.Engine, recorder *intsync.Recorder, reg *registry.Registry,
	coord *coordinator.Coordinator, db *store.DB, lk *lock.Lock, b *bus.Bus, logger *zap.Logger) {
	watchCtx, cancelWatch := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			engine.Start(context.Background())
			recorder.Start(context.Background())
			bridge.Attach()

			go watchAuth(watchCtx, p, b, shutdowner, logger)
			go watchRemovals(watchCtx, b, coord, logger)

			// Connect in the background; the client keeps retrying with
			// backoff and lands in Offline if the budget runs out.
			go func() {
				if err := client.Connect(context.Background()); err != nil {
					logger.Warn("push connect failed", zap.Error(err))
				}
			}()

			reg.Start(context.Background(), refreshInterval)

			if p.View != "" {
				go func() {
					if err := coord.RestoreView(context.Background(), p.View); err != nil {
						logger.Warn("view restore failed", zap.String("view", p.View), zap.Error(err))
					}
				}()
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancelWatch()
			reg.Stop()
			bridge.Detach()
			recorder.Stop()
			engine.Stop()
			if err := client.Close(); err != nil {
				logger.Warn("push close failed", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("archive close failed", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// watchAuth shuts the daemon down when the backend rejects the credentials.
// The stored token is cleared so the next login starts clean.
func watchAuth(ctx context.Context, p Params, b *bus.Bus, shutdowner fx.Shutdowner, logger *zap.Logger) {
	events, unsubscribe := b.Subscribe("auth.", 8)
	defer unsubscribe()

	select {
	case <-events:
		logger.Error("credentials rejected, clearing token and shutting down")
		if err := config.ClearToken(profile.ConfigPath(p.Profile)); err != nil {
			logger.Warn("token clear failed", zap.Error(err))
		}
		_ = shutdowner.Shutdown()
	case <-ctx.Done():
	}
}

// watchRemovals tears the view down when the monitored session is destroyed
// server-side.
func watchRemovals(ctx context.Context, b *bus.Bus, coord *coordinator.Coordinator, logger *zap.Logger) {
	events, unsubscribe := b.Subscribe("session.removed", 16)
	defer unsubscribe()

	for {
		select {
		case evt := <-events:
			s, ok := evt.Payload.(model.Session)
			if !ok {
				continue
			}
			if coord.ActiveSession() == s.SessionID {
				logger.Info("monitored session destroyed, deactivating view",
					zap.String("session_id", s.SessionID))
				coord.Deactivate()
			}
		case <-ctx.Done():
			return
		}
	}
}
