package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/warden/internal/bot"
	"github.com/vietddude/warden/internal/connection"
	"github.com/vietddude/warden/internal/core/config"
	"github.com/vietddude/warden/internal/core/retry"
	"github.com/vietddude/warden/internal/core/state"
	"github.com/vietddude/warden/internal/health"
	"github.com/vietddude/warden/internal/infra/storage"
	"github.com/vietddude/warden/internal/infra/transport"
	"github.com/vietddude/warden/internal/infra/transport/telegram"
	"github.com/vietddude/warden/internal/recovery"
)

// SourceApp labels failures reported through TriggerFatal.
const SourceApp = "app"

var (
	// ErrNotStarted is returned by Wait and Stop before Start succeeded.
	ErrNotStarted = errors.New("app not started")
	// ErrStopped is returned by Start after Stop. An App runs once.
	ErrStopped = errors.New("app already stopped")
)

// Deps overrides collaborators. Zero values select the production ones.
type Deps struct {
	Transport transport.Transport
	Backend   storage.Backend
	Clock     clock.Clock
	Logger    *slog.Logger
}

// App owns every component of a running bot and the service tree hosting
// its loops and timers.
type App struct {
	cfg    *config.AppConfig
	log    *slog.Logger
	clock  clock.Clock
	tree   *suture.Supervisor
	noHTTP bool

	backend    storage.Backend
	store      *state.Store
	state      *recovery.State
	bus        *recovery.Bus
	conn       *connection.Manager
	supervisor *recovery.Supervisor
	monitor    *health.Monitor
	sender     *bot.Sender
	bot        *bot.Bot
	server     *health.Server

	mu       sync.Mutex
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	treeDone <-chan error
}

// NewApp builds the component graph. Nothing runs until Start.
func NewApp(ctx context.Context, cfg *config.AppConfig, deps Deps) (*App, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}

	// 1. Storage
	backend := deps.Backend
	if backend == nil {
		var err error
		backend, err = storage.Open(ctx, StorageConfig(cfg), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Driver, err)
		}
		logger.Info("Using state storage", "driver", cfg.Storage.Driver)
	}
	store := state.NewStore(backend,
		state.WithSaveInterval(cfg.Storage.SaveInterval),
		state.WithClock(clk),
		state.WithLogger(logger),
	)

	// 2. Supervisor state and failure bus
	st := recovery.NewState(clk)
	st.SetTransitionCallback(func(t recovery.Transition) {
		logger.Info("Supervisor phase changed", "from", t.From, "to", t.To, "reason", t.Reason)
	})
	bus := recovery.NewBus(recovery.DefaultBusSize, logger)

	// 3. Connection
	tr := deps.Transport
	if tr == nil {
		tr = telegram.New(telegram.WithLogger(logger))
	}
	conn := connection.NewManager(tr, connection.Config{
		Credentials: transport.Credentials{Token: cfg.Bot.Token},
		PollTimeout: cfg.Bot.PollTimeout,
		Retry: retry.Policy{
			Name:           "connect",
			MaxAttempts:    cfg.Connection.MaxAttempts,
			BaseDelay:      cfg.Connection.BaseDelay,
			Multiplier:     2,
			MaxDelay:       cfg.Connection.MaxDelay,
			AttemptTimeout: cfg.Connection.Timeout,
			Logger:         logger,
			Clock:          clk,
		},
	}, bus, logger)

	// 4. Restart supervisor
	sup := recovery.NewSupervisor(recovery.Config{
		MinRestartInterval: cfg.Supervisor.MinRestartInterval,
		MaxRestartAttempts: cfg.Supervisor.MaxRestartAttempts,
		QuiescenceDelay:    cfg.Supervisor.QuiescenceDelay,
		RetryDelay:         cfg.Supervisor.RetryDelay,
		StartupRetryDelay:  cfg.Supervisor.StartupRetryDelay,
		StableResetAfter:   cfg.Supervisor.StableResetAfter,
	}, st, store, conn,
		recovery.WithClock(clk),
		recovery.WithLogger(logger),
	)

	// 5. Liveness
	monitor := health.NewMonitor(health.Config{
		HeartbeatInterval: cfg.Health.HeartbeatInterval,
		WatchdogInterval:  cfg.Health.WatchdogInterval,
		HangThreshold:     cfg.Health.HangThreshold,
	}, st, conn, bus,
		health.WithClock(clk),
		health.WithLogger(logger),
		health.WithMaxRestartAttempts(cfg.Supervisor.MaxRestartAttempts),
	)

	// 6. Command dispatch
	senderCfg := bot.DefaultSenderConfig()
	senderCfg.RatePerSecond = cfg.Bot.RatePerSecond
	senderCfg.Burst = cfg.Bot.Burst
	senderCfg.Retry.Logger = logger
	senderCfg.Retry.Clock = clk
	sender := bot.NewSender(conn, senderCfg, logger)

	b := bot.New(bot.Config{OwnerIDs: cfg.Bot.OwnerIDs}, bot.Deps{
		Inbound:  conn.Inbound(),
		Sender:   sender,
		Status:   monitor,
		Activity: monitor,
		Notes:    sup,
		State:    store,
		Logger:   logger,
		Clock:    clk,
	})

	a := &App{
		cfg:        cfg,
		log:        logger,
		clock:      clk,
		backend:    backend,
		store:      store,
		state:      st,
		bus:        bus,
		conn:       conn,
		supervisor: sup,
		monitor:    monitor,
		sender:     sender,
		bot:        b,
		noHTTP:     cfg.Server.Port <= 0,
	}
	if !a.noHTTP {
		var opts []health.ServerOption
		if hc, ok := backend.(storage.HealthChecker); ok {
			opts = append(opts, health.WithStorageCheck(hc))
		}
		a.server = health.NewServer(monitor, cfg.Server.Port, logger, opts...)
	}
	a.tree = a.buildTree()
	return a, nil
}

func (a *App) buildTree() *suture.Supervisor {
	handler := &sutureslog.Handler{Logger: a.log}
	root := suture.New("warden", suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	})

	root.Add(recovery.NewDispatcher(a.bus, a.supervisor, a.log))
	root.Add(a.store)
	root.Add(a.monitor.HeartbeatService())
	root.Add(a.monitor.WatchdogService())
	root.Add(a.bot)
	if a.server != nil {
		root.Add(a.server)
	}
	return root
}

// Start loads persisted state, starts the service tree and performs the
// first connect. A failed first connect is retried by the supervisor.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return ErrStopped
	}
	if a.started {
		return nil
	}

	if err := a.store.Load(ctx); err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.treeDone = a.tree.ServeBackground(runCtx)

	if err := a.supervisor.Start(runCtx); err != nil {
		cancel()
		<-a.treeDone
		return fmt.Errorf("failed to start supervisor: %w", err)
	}

	a.started = true
	a.log.Info("Warden started",
		"storage", a.cfg.Storage.Driver,
		"port", a.cfg.Server.Port,
		"owners", len(a.cfg.Bot.OwnerIDs),
	)
	return nil
}

// Wait blocks until ctx ends, the supervisor gives up, or the service tree
// exits. Giving up returns recovery.ErrGivenUp.
func (a *App) Wait(ctx context.Context) error {
	a.mu.Lock()
	done := a.treeDone
	a.mu.Unlock()
	if done == nil {
		return ErrNotStarted
	}

	select {
	case <-ctx.Done():
		return nil
	case <-a.supervisor.GivenUp():
		return recovery.ErrGivenUp
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("service tree stopped: %w", err)
		}
		return nil
	}
}

// Stop cancels restart cycles, saves state, tears down the connection,
// stops the service tree and closes the backend. Every failure is reported.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return multierr.Append(ErrNotStarted, a.backend.Close())
	}
	a.started = false
	a.stopped = true

	// Cancelling first stops restart cycles, so no reconnect can land after
	// the teardown below.
	a.cancel()
	var cyclesErr error
	cyclesDone := make(chan struct{})
	go func() {
		a.supervisor.Wait()
		close(cyclesDone)
	}()
	select {
	case <-cyclesDone:
	case <-ctx.Done():
		cyclesErr = fmt.Errorf("restart cycle did not stop: %w", ctx.Err())
	}

	var saveErr, teardownErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		saveErr = a.store.Save(gctx)
		return nil
	})
	g.Go(func() error {
		teardownErr = a.conn.Teardown(gctx)
		return nil
	})
	_ = g.Wait()

	var treeErr error
	select {
	case <-a.treeDone:
	case <-ctx.Done():
		treeErr = fmt.Errorf("service tree did not stop: %w", ctx.Err())
	}

	err := multierr.Combine(
		cyclesErr,
		wrapIf("save state", saveErr),
		wrapIf("teardown connection", teardownErr),
		treeErr,
		wrapIf("close storage", a.backend.Close()),
	)
	if err != nil {
		a.log.Error("Shutdown finished with errors", "error", err)
		return err
	}
	a.log.Info("Warden stopped")
	return nil
}

// TriggerFatal reports err to the failure bus as if the connection had
// raised it. Non-network errors are logged and absorbed by the dispatcher.
func (a *App) TriggerFatal(err error) bool {
	return a.bus.Publish(recovery.Event{Kind: recovery.EventFailure, Source: SourceApp, Err: err})
}

// Supervisor exposes the restart supervisor.
func (a *App) Supervisor() *recovery.Supervisor {
	return a.supervisor
}

// Monitor exposes the liveness monitor.
func (a *App) Monitor() *health.Monitor {
	return a.monitor
}

// Store exposes the state store.
func (a *App) Store() *state.Store {
	return a.store
}

// Bot exposes the command dispatcher so callers can register commands.
func (a *App) Bot() *bot.Bot {
	return a.bot
}

// StorageConfig maps the application config onto the storage backend config.
func StorageConfig(cfg *config.AppConfig) storage.Config {
	sc := storage.Config{
		Driver:    cfg.Storage.Driver,
		Path:      cfg.Storage.Path,
		Namespace: cfg.Redis.Namespace,
		Password:  cfg.Redis.Password,
		MaxConns:  cfg.Database.MaxConns,
		MinConns:  cfg.Database.MinConns,
	}
	switch cfg.Storage.Driver {
	case storage.DriverRedis:
		sc.URL = cfg.Redis.URL
	case storage.DriverPostgres:
		sc.URL = cfg.Database.URL
	}
	return sc
}

func wrapIf(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
