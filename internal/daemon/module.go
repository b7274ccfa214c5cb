package daemon

import (
	"context"
	"time"

	"github.com/matheus3301/relay/internal/api"
	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/channel"
	"github.com/matheus3301/relay/internal/config"
	"github.com/matheus3301/relay/internal/credential"
	"github.com/matheus3301/relay/internal/lock"
	"github.com/matheus3301/relay/internal/logging"
	"github.com/matheus3301/relay/internal/notice"
	"github.com/matheus3301/relay/internal/profile"
	"github.com/matheus3301/relay/internal/realtime"
	"github.com/matheus3301/relay/internal/rest"
	"github.com/matheus3301/relay/internal/session"
	"github.com/matheus3301/relay/internal/status"
	"github.com/matheus3301/relay/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const startTimeout = 30 * time.Second

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string // optional override for testing; empty = use default
	Config      *config.Config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	if p.Config == nil {
		p.Config = config.Default()
	}
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideCredentials,
			provideREST,
			provideChannel,
			provideEngine,
			provideNotifier,
			provideManager,
			provideService,
			provideAdmin,
			newWatcher,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName), p.ProfileName)
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by two daemons.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCredentials(db *store.DB, logger *zap.Logger) *credential.Store {
	return credential.NewStore(db, logging.Named(logger, "credential"))
}

func provideREST(p Params, creds *credential.Store, logger *zap.Logger) *rest.Client {
	return rest.New(p.Config.ServerURL, p.Config.RequestTimeout.Duration, creds, logging.Named(logger, "rest"))
}

func provideChannel(p Params, b *bus.Bus, logger *zap.Logger) *channel.Channel {
	return channel.New(p.Config.SocketURL, p.Config.HandshakeTimeout.Duration, b, logging.Named(logger, "channel"))
}

func provideEngine(client *rest.Client, b *bus.Bus, logger *zap.Logger) *realtime.Engine {
	return realtime.NewEngine(client, b, logging.Named(logger, "realtime"))
}

func provideNotifier(b *bus.Bus) *notice.Notifier {
	return notice.New(b)
}

func provideManager(
	creds *credential.Store,
	client *rest.Client,
	ch *channel.Channel,
	engine *realtime.Engine,
	machine *status.Machine,
	notes *notice.Notifier,
	b *bus.Bus,
	logger *zap.Logger,
) *session.Manager {
	return session.NewManager(creds, client, ch, engine, machine, notes, b, logging.Named(logger, "session"))
}

func provideService(p Params, mgr *session.Manager, engine *realtime.Engine, notes *notice.Notifier, db *store.DB, b *bus.Bus, logger *zap.Logger) *api.Service {
	return api.NewService(p.ProfileName, mgr, engine, notes, db, b, logging.Named(logger, "api"))
}

func provideAdmin(p Params, mgr *session.Manager, logger *zap.Logger) *Admin {
	return NewAdmin(p.Config.MetricsAddr, mgr, logging.Named(logger, "admin"))
}

type lifecycleDeps struct {
	fx.In

	Server  *Server
	Lock    *lock.Lock
	DB      *store.DB
	Engine  *realtime.Engine
	Manager *session.Manager
	Watcher *watcher
	Admin   *Admin
	Logger  *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			d.Engine.Start(runCtx)
			d.Watcher.Start(runCtx)

			// Start gRPC server in background.
			go func() {
				if err := d.Server.Start(); err != nil {
					d.Logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if err := d.Admin.Start(); err != nil {
				return err
			}

			// Verifying a stored credential is a network round trip; the
			// socket is already serving status while it runs.
			go func() {
				ctx, done := context.WithTimeout(runCtx, startTimeout)
				defer done()
				if err := d.Manager.Start(ctx); err != nil {
					d.Logger.Warn("session restore failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			d.Manager.Shutdown()
			d.Watcher.Stop()
			d.Engine.Stop()
			d.Server.Stop(ctx)
			d.Admin.Stop(ctx)
			if err := d.DB.Close(); err != nil {
				d.Logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				d.Logger.Warn("error releasing lock", zap.Error(err))
			}
			d.Logger.Info("daemon stopped")
			return nil
		},
	})
}
