package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/matheus3301/relay/internal/api"
	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/chat"
	"github.com/matheus3301/relay/internal/config"
	"github.com/matheus3301/relay/internal/directory"
	"github.com/matheus3301/relay/internal/engine"
	"github.com/matheus3301/relay/internal/feed"
	"github.com/matheus3301/relay/internal/gateway"
	"github.com/matheus3301/relay/internal/instance"
	"github.com/matheus3301/relay/internal/kv"
	"github.com/matheus3301/relay/internal/lock"
	"github.com/matheus3301/relay/internal/logging"
	"github.com/matheus3301/relay/internal/messages"
	"github.com/matheus3301/relay/internal/store"
	"github.com/matheus3301/relay/internal/unread"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved instance configuration passed to the fx module.
type Params struct {
	InstanceName string
	SocketPath   string         // optional override for testing; empty = use default
	Config       *config.Config // optional; nil = load ~/.relay/config.toml and RELAY_* env
	Logger       *zap.Logger    // optional; nil = log to the instance log file
}

func (p Params) socketPath() string {
	if p.SocketPath != "" {
		return p.SocketPath
	}
	return instance.SocketPath(p.InstanceName)
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideDirectory,
			provideMessages,
			provideTracker,
			provideEngine,
			provideDispatcher,
			api.NewConversationService,
			NewServer,
			provideGateway,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, config.Validate(p.Config)
	}
	return config.LoadEffective(instance.ConfigPath())
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.New(instance.LogPath(p.InstanceName), p.InstanceName, cfg.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := instance.EnsureDir(p.InstanceName); err != nil {
		return nil, err
	}
	logger.Info("acquiring instance lock", zap.String("instance", p.InstanceName))
	l, err := lock.Acquire(instance.Dir(p.InstanceName), p.socketPath())
	if err != nil {
		return nil, err
	}
	logger.Info("instance lock acquired", zap.String("path", l.Path()))
	return l, nil
}

// provideStore opens the configured backend. It depends on the lock so that a
// second daemon never opens the same files.
func provideStore(p Params, cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (chat.Store, error) {
	switch cfg.Storage.Driver {
	case "badger":
		dir := cfg.Storage.Path
		if dir == "" {
			dir = instance.BadgerDir(p.InstanceName)
		}
		s, err := kv.Open(dir, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("store initialized", zap.String("driver", "badger"), zap.String("path", dir))
		return s, nil
	case "", "sqlite":
		dbPath := cfg.Storage.Path
		if dbPath == "" {
			dbPath = instance.SQLitePath(p.InstanceName)
		}
		db, err := store.Open(dbPath)
		if err != nil {
			return nil, err
		}
		mig, err := db.Migrate()
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if mig.Applied() {
			logger.Info("schema migrated", zap.Uint("from", mig.From), zap.Uint("to", mig.To))
		} else {
			logger.Info("schema up to date", zap.Uint("version", mig.To))
		}
		logger.Info("store initialized", zap.String("driver", "sqlite"), zap.String("path", dbPath))
		return db, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

func provideDirectory(s chat.Store, logger *zap.Logger) *directory.Directory {
	return directory.New(s, logger)
}

func provideMessages(s chat.Store) *messages.Store {
	return messages.New(s, messages.Options{})
}

func provideTracker(s chat.Store, cfg *config.Config, logger *zap.Logger) (*unread.Tracker, error) {
	policy, err := unread.ParsePolicy(cfg.Unread.Policy)
	if err != nil {
		return nil, err
	}
	return unread.New(s, policy, logger), nil
}

func provideEngine(dir *directory.Directory, msgs *messages.Store, tracker *unread.Tracker, b *bus.Bus, logger *zap.Logger) *engine.Engine {
	return engine.New(dir, msgs, tracker, b, logger)
}

func provideDispatcher(e *engine.Engine, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *feed.Dispatcher {
	return feed.New(e, b, feed.Config{
		SnapshotLimit: cfg.Feed.SnapshotLimit,
		BufferSize:    cfg.Feed.BufferSize,
	}, logger)
}

func provideGateway(e *engine.Engine, d *feed.Dispatcher, logger *zap.Logger) *gateway.Gateway {
	return gateway.New(e, d, logger)
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, srv *Server, gw *gateway.Gateway, d *feed.Dispatcher, b *bus.Bus, s chat.Store, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if cfg.HTTPAddr == "" {
				logger.Info("HTTP gateway disabled")
				return nil
			}
			lis, err := net.Listen("tcp", cfg.HTTPAddr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
			}
			go func() {
				if err := gw.Serve(lis); err != nil {
					logger.Error("HTTP gateway error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			// Ending the feeds first lets GracefulStop drain watch streams.
			d.Close()
			b.Close()
			var errs []error
			if cfg.HTTPAddr != "" {
				errs = append(errs, gw.Shutdown(ctx))
			}
			srv.Stop(ctx)
			if err := s.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close store: %w", err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return errors.Join(errs...)
		},
	})
}
