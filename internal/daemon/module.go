package daemon

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/gbrandao/pchat/internal/bus"
	"github.com/gbrandao/pchat/internal/config"
	"github.com/gbrandao/pchat/internal/lock"
	"github.com/gbrandao/pchat/internal/logging"
	"github.com/gbrandao/pchat/internal/netmon"
	"github.com/gbrandao/pchat/internal/notify"
	"github.com/gbrandao/pchat/internal/outbox"
	"github.com/gbrandao/pchat/internal/realtime"
	"github.com/gbrandao/pchat/internal/remote"
	"github.com/gbrandao/pchat/internal/session"
	"github.com/gbrandao/pchat/internal/status"
	"github.com/gbrandao/pchat/internal/store"
	intsync "github.com/gbrandao/pchat/internal/sync"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	ConfigPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideRemote,
			provideMonitor,
			provideRealtime,
			provideQueue,
			provideNotifier,
			provideCoordinator,
			provideFlusher,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig(p Params, logger *zap.Logger) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	cfg, err := config.Load(path)
	if os.IsNotExist(err) {
		logger.Info("no config file, using defaults", zap.String("path", path))
		return config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
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

func provideRemote(cfg *config.Config, logger *zap.Logger) remote.API {
	return remote.NewClient(cfg.Server.BaseURL, cfg.Server.Token, logger)
}

func provideMonitor(cfg *config.Config, b *bus.Bus, machine *status.Machine, logger *zap.Logger) (*netmon.Monitor, error) {
	return netmon.New(cfg.Server.BaseURL, cfg.Network.ProbeInterval.Duration, cfg.Network.ProbeTimeout.Duration, b, machine, logger)
}

func provideRealtime(cfg *config.Config, b *bus.Bus, monitor *netmon.Monitor, logger *zap.Logger) *realtime.Client {
	return realtime.NewClient(cfg.Server.RealtimeURL, cfg.Server.Token, b, monitor, logger)
}

func provideQueue(cfg *config.Config, db *store.DB, logger *zap.Logger) *outbox.Queue {
	schedule := make(outbox.Schedule, 0, len(cfg.Outbox.Backoff))
	for _, step := range cfg.Outbox.Backoff {
		schedule = append(schedule, step.Duration)
	}
	return outbox.NewQueue(db, schedule, cfg.Outbox.MaxRetries, logger)
}

func provideNotifier(logger *zap.Logger) notify.Notifier {
	return notify.NewLogNotifier(logger)
}

func provideCoordinator(cfg *config.Config, db *store.DB, queue *outbox.Queue, api remote.API, b *bus.Bus, notifier notify.Notifier, monitor *netmon.Monitor, logger *zap.Logger) *intsync.Coordinator {
	opts := intsync.Options{
		FetchWindow:   cfg.Sync.FetchWindow,
		TypingTTL:     cfg.Typing.TTL.Duration,
		SweepInterval: cfg.Typing.SweepInterval.Duration,
	}
	return intsync.NewCoordinator(cfg.Server.UserID, db, queue, api, b, notifier, monitor, opts, logger)
}

func provideFlusher(cfg *config.Config, queue *outbox.Queue, coord *intsync.Coordinator, monitor *netmon.Monitor, b *bus.Bus, logger *zap.Logger) *outbox.Flusher {
	return outbox.NewFlusher(queue, coord.Replay, monitor.Online, cfg.Outbox.FlushInterval.Duration, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, machine *status.Machine, monitor *netmon.Monitor, rt *realtime.Client, coord *intsync.Coordinator, flusher *outbox.Flusher, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			_ = machine.Transition(status.Connecting)

			// Coordinator first: it must be consuming bus events before
			// the stream starts publishing them.
			coord.Start(context.Background())
			flusher.Start(context.Background())
			monitor.Start(context.Background())
			rt.Start(context.Background())

			logger.Info("daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			rt.Stop()
			monitor.Stop()
			flusher.Stop()
			coord.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
