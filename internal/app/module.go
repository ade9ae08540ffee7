package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/pairtalk/pairtalk/internal/bus"
	"github.com/pairtalk/pairtalk/internal/config"
	"github.com/pairtalk/pairtalk/internal/conversation"
	"github.com/pairtalk/pairtalk/internal/identity"
	"github.com/pairtalk/pairtalk/internal/lock"
	"github.com/pairtalk/pairtalk/internal/logging"
	"github.com/pairtalk/pairtalk/internal/message"
	"github.com/pairtalk/pairtalk/internal/presence"
	"github.com/pairtalk/pairtalk/internal/rtdb"
	"github.com/pairtalk/pairtalk/internal/session"
	"github.com/pairtalk/pairtalk/internal/tui"
)

// Params holds the resolved startup configuration passed to the fx module.
type Params struct {
	SessionName string
	InviteToken string // non-empty routes straight into the join flow
}

// Module returns the fx module for the client, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("app",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideStore,
			provideSession,
			provideIdentity,
			provideManager,
			provideInbox,
			provideMessageLog,
			provideTracker,
			provideUI,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		// No config file is the common case on first run.
		logger.Info("using default config", zap.Error(err))
		return &config.Config{}
	}
	return cfg
}

func provideBus() *bus.Bus {
	return bus.New()
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

func provideStore(p Params, cfg *config.Config, b *bus.Bus, _ *lock.Lock, logger *zap.Logger) (*rtdb.DB, error) {
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = session.DBPath(p.SessionName)
	}
	db, err := rtdb.Open(dbPath, b)
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

func provideSession(db *rtdb.DB) *rtdb.Session {
	return db.NewSession()
}

// provideIdentity signs in before the rest of the graph is built; without an
// identity nothing downstream can run.
func provideIdentity(p Params, logger *zap.Logger) (*identity.Provider, error) {
	provider := identity.New(session.IdentityPath(p.SessionName), logger)
	if _, err := provider.SignInAnonymous(context.Background()); err != nil {
		return nil, err
	}
	return provider, nil
}

func provideManager(db *rtdb.DB, logger *zap.Logger) *conversation.Manager {
	return conversation.NewManager(db, logger)
}

func provideInbox(db *rtdb.DB, logger *zap.Logger) *conversation.Inbox {
	return conversation.NewInbox(db, logger)
}

func provideMessageLog(db *rtdb.DB, logger *zap.Logger) *message.Log {
	return message.NewLog(db, logger)
}

func provideTracker(db *rtdb.DB, sess *rtdb.Session, id *identity.Provider, cfg *config.Config, logger *zap.Logger) *presence.Tracker {
	return presence.NewTracker(db, sess, id.CurrentUser(), cfg.TypingTimeout(), logger)
}

func provideUI(
	id *identity.Provider,
	convs *conversation.Manager,
	inbox *conversation.Inbox,
	msgs *message.Log,
	tracker *presence.Tracker,
	logger *zap.Logger,
) *tui.App {
	return tui.New(id.CurrentUser(), convs, inbox, msgs, tracker, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	p Params,
	ui *tui.App,
	tracker *presence.Tracker,
	sess *rtdb.Session,
	db *rtdb.DB,
	lk *lock.Lock,
	shutdowner fx.Shutdowner,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := tracker.GoOnline(ctx); err != nil {
				return err
			}

			// The UI loop owns the terminal; run it off the fx start path
			// and shut the process down when the user quits.
			go func() {
				if err := ui.Run(p.InviteToken); err != nil {
					logger.Error("ui error", zap.Error(err))
				}
				_ = shutdowner.Shutdown()
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			ui.Stop()
			if err := tracker.GoOffline(ctx); err != nil {
				logger.Warn("error clearing presence", zap.Error(err))
			}
			if err := sess.Close(ctx); err != nil {
				logger.Warn("error closing store session", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}
