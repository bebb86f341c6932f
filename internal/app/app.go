// Package app wires all visage subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the tick loop and the WebSocket server, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithResponder, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/ostrem/visage/internal/config"
	"github.com/ostrem/visage/internal/convo"
	"github.com/ostrem/visage/internal/engine"
	"github.com/ostrem/visage/internal/health"
	"github.com/ostrem/visage/internal/hostws"
	"github.com/ostrem/visage/internal/modules"
	"github.com/ostrem/visage/internal/modules/emotion"
	"github.com/ostrem/visage/internal/modules/gaze"
	"github.com/ostrem/visage/internal/modules/prosody"
	"github.com/ostrem/visage/internal/modules/viseme"
	"github.com/ostrem/visage/internal/observe"
	"github.com/ostrem/visage/internal/resilience"
	"github.com/ostrem/visage/internal/snippetstore"
)

// App owns all subsystem lifetimes: snippet store, scheduler, producer
// modules, conversation flow, and the host-facing WebSocket server.
type App struct {
	cfg      *config.Config
	metrics  *observe.Metrics
	logLevel *slog.LevelVar

	// Subsystems — initialised in New, torn down in Shutdown.
	store    snippetstore.Store
	server   *hostws.Server
	sched    *engine.Scheduler
	registry *modules.Registry
	mods     []modules.Module
	flow     *convo.Flow

	responder convo.Responder
	backups   []namedResponder

	// Typed handles into the module set for hot reload and host commands.
	// Nil when the module is not enabled.
	visemeMod  *viseme.Module
	gazeMod    *gaze.Module
	emotionMod *emotion.Module
	prosodyMod *prosody.Module

	// compositeChannels tracks which channels carry configured routes so a
	// reload can clear routes the new config dropped.
	compositeChannels map[string]struct{}

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a snippet store instead of creating one from config.
func WithStore(s snippetstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithResponder wires a conversation responder. Without one the "input" host
// command is rejected.
func WithResponder(r convo.Responder) Option {
	return func(a *App) { a.responder = r }
}

// namedResponder pairs a fallback responder with the name used in breaker
// logs and state reporting.
type namedResponder struct {
	name string
	r    convo.Responder
}

// WithFallbackResponder registers a backup conversation responder. When any
// fallback is present the primary responder is wrapped in a
// [resilience.ResponderFallback]: each backend gets its own circuit breaker
// and a failing primary fails over to the backups in registration order.
func WithFallbackResponder(name string, r convo.Responder) Option {
	return func(a *App) { a.backups = append(a.backups, namedResponder{name: name, r: r}) }
}

// WithMetrics injects an observe metrics instance instead of the default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevelVar hands the App the level var backing the process logger so
// config hot reload can retune verbosity.
func WithLogLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: store connection, snippet
// library import, scheduler construction, module creation, and conversation
// flow assembly.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Snippet store ─────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Host server + scheduler ───────────────────────────────────────
	a.server = hostws.NewServer(&commandHandler{a: a}, hostws.WithMetrics(a.metrics))
	a.initScheduler()

	// ── 3. Producer modules ──────────────────────────────────────────────
	if err := a.initModules(); err != nil {
		return nil, fmt.Errorf("app: init modules: %w", err)
	}

	// ── 4. Conversation flow ─────────────────────────────────────────────
	if err := a.initFlow(); err != nil {
		return nil, fmt.Errorf("app: init conversation: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore connects the snippet library (PostgreSQL when a DSN is
// configured, in-memory otherwise) and imports the snippet directory.
func (a *App) initStore(ctx context.Context) error {
	if a.store == nil {
		if dsn := a.cfg.Store.PostgresDSN; dsn != "" {
			pool, err := pgxpool.New(ctx, dsn)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			pg := snippetstore.NewPostgresStore(pool)
			if err := pg.Migrate(ctx); err != nil {
				pool.Close()
				return err
			}
			a.store = pg
			a.closers = append(a.closers, func() error {
				pool.Close()
				return nil
			})
			slog.Info("snippet store connected", "backend", "postgres")
		} else {
			a.store = snippetstore.NewMemStore()
			slog.Info("snippet store connected", "backend", "memory")
		}
	}

	if dir := a.cfg.Store.SnippetDir; dir != "" {
		n, err := snippetstore.ImportDir(ctx, a.store, dir)
		if err != nil {
			return fmt.Errorf("import snippet dir %q: %w", dir, err)
		}
		slog.Info("imported snippet definitions", "dir", dir, "count", n)
	}
	return nil
}

// initScheduler builds the mapper from the configured composites and axes
// and creates the scheduler dispatching into the host server.
func (a *App) initScheduler() {
	mapper := engine.NewMapper()
	a.compositeChannels = make(map[string]struct{})
	for _, comp := range a.cfg.Mapper.Composites {
		mapper.SetRoutes(comp.Channel, compositeRoutes(comp)...)
		a.compositeChannels[comp.Channel] = struct{}{}
	}

	maxI := a.cfg.Engine.MaxIntensity
	if maxI <= 0 {
		maxI = 1
	}

	a.sched = engine.NewScheduler(a.server,
		engine.WithMapper(mapper),
		engine.WithBlender(engine.PriorityComposite{MaxIntensity: maxI}),
		engine.WithAxes(a.axes()...),
		engine.WithDiagnostics(func(outputID string, err error) {
			a.metrics.RecordDispatchError(context.Background(), outputID)
			slog.Warn("output dispatch failed", "output", outputID, "err", err)
		}),
		engine.WithTickStats(func(st engine.TickStats) {
			a.metrics.RecordTick(context.Background(), st.Duration, st.Channels)
		}),
	)

	a.sched.Subscribe(func(ev engine.Event) {
		ctx := context.Background()
		a.metrics.RecordSnippetEvent(ctx, string(ev.Kind), ev.Category)
		switch ev.Kind {
		case engine.EventScheduled:
			a.metrics.ActiveSnippets.Add(ctx, 1)
		case engine.EventEnded, engine.EventRemoved:
			a.metrics.ActiveSnippets.Add(ctx, -1)
		}
	})
}

// axes merges the built-in gaze axes with the configured ones. A configured
// axis with a gaze axis's name overrides it.
func (a *App) axes() []engine.Axis {
	out := gaze.DefaultAxes()
	byName := make(map[string]int, len(out))
	for i, ax := range out {
		byName[ax.Name] = i
	}
	for _, ac := range a.cfg.Mapper.Axes {
		ax := engine.Axis{Name: ac.Name, Neg: ac.Neg, Pos: ac.Pos}
		if i, ok := byName[ax.Name]; ok {
			out[i] = ax
			continue
		}
		out = append(out, ax)
	}
	return out
}

// initModules registers the built-in module factories with the config's
// tuning and creates every enabled module.
func (a *App) initModules() error {
	a.registry = modules.NewRegistry()
	a.registry.Register(viseme.ModuleID, viseme.Factory(viseme.Config{
		Attack: time.Duration(a.cfg.Viseme.AttackMs) * time.Millisecond,
		Gap:    time.Duration(a.cfg.Viseme.GapMs) * time.Millisecond,
		JawMax: a.cfg.Viseme.JawMax,
	}))
	a.registry.Register(gaze.ModuleID, gaze.Factory(gaze.Config{
		MinDuration: time.Duration(a.cfg.Gaze.MinDurationMs) * time.Millisecond,
		MaxDuration: time.Duration(a.cfg.Gaze.MaxDurationMs) * time.Millisecond,
	}))
	a.registry.Register(emotion.ModuleID, emotion.Factory(emotion.Config{}))
	a.registry.Register(prosody.ModuleID, prosody.Factory(prosody.Config{}))

	ids := a.cfg.Modules
	if len(ids) == 0 {
		ids = a.registry.IDs()
	}

	deps := modules.Deps{Sched: a.sched, Library: a.store}
	for _, id := range ids {
		m, err := a.registry.Create(id, deps)
		if err != nil {
			return err
		}
		a.mods = append(a.mods, m)

		switch mod := m.(type) {
		case *viseme.Module:
			a.visemeMod = mod
		case *gaze.Module:
			a.gazeMod = mod
		case *emotion.Module:
			a.emotionMod = mod
		case *prosody.Module:
			a.prosodyMod = mod
		}
		slog.Info("module created", "id", id)
	}
	return nil
}

// initFlow assembles the conversation state machine when a responder is
// configured, performing replies through the viseme and emotion modules.
func (a *App) initFlow() error {
	if a.responder == nil {
		return nil
	}
	responder := a.responder
	if len(a.backups) > 0 {
		fb := resilience.NewResponderFallback(responder, "primary", resilience.FallbackConfig{})
		for _, b := range a.backups {
			fb.AddFallback(b.name, b.r)
		}
		responder = fb
		slog.Info("responder failover enabled", "fallbacks", len(a.backups))
	}
	var opts []convo.Option
	if a.visemeMod != nil {
		opts = append(opts, convo.WithSpeaker(a.visemeMod))
	}
	if a.emotionMod != nil {
		opts = append(opts, convo.WithExpresser(a.emotionMod))
	}
	flow, err := convo.New(responder, opts...)
	if err != nil {
		return err
	}
	a.flow = flow
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the modules, the tick loop, and the WebSocket server, then
// blocks until ctx is cancelled or a subsystem fails.
func (a *App) Run(ctx context.Context) error {
	for _, m := range a.mods {
		if err := m.Start(ctx); err != nil {
			return fmt.Errorf("app: start module %q: %w", m.ID(), err)
		}
	}

	if a.flow != nil {
		if err := a.flow.Greet(ctx); err != nil {
			slog.Warn("greeting failed", "err", err)
		}
	}

	mux := http.NewServeMux()
	a.server.Routes(mux)
	health.New(health.Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			_, err := a.store.List(ctx, "")
			return err
		},
	}).Register(mux)
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("listening", "addr", srv.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if t := a.cfg.Server.TLS; t != nil {
			srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			err = srv.ListenAndServeTLS(t.CertFile, t.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		interval := a.cfg.Engine.TickInterval()
		delta := interval.Seconds()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				a.sched.Tick(delta)
				a.server.Flush(ctx)
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	slog.Info("app running", "modules", len(a.mods), "tick_rate", a.cfg.Engine.TickRate)
	return g.Wait()
}

// ─── Config hot reload ───────────────────────────────────────────────────────

// WatchConfig starts polling path for changes and applies the hot-reloadable
// subset of any diff. The watcher is stopped during Shutdown.
func (a *App) WatchConfig(path string, opts ...config.WatcherOption) error {
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		a.applyDiff(config.Diff(old, new))
	}, opts...)
	if err != nil {
		return fmt.Errorf("app: watch config: %w", err)
	}
	a.closers = append(a.closers, func() error {
		w.Stop()
		return nil
	})
	return nil
}

// applyDiff applies the hot-reloadable changes to the running subsystems.
func (a *App) applyDiff(d config.ConfigDiff) {
	if !d.Any() {
		return
	}

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.JawMaxChanged && a.visemeMod != nil {
		a.visemeMod.SetJawMax(d.NewJawMax)
		slog.Info("jaw max changed", "jaw_max", d.NewJawMax)
	}

	if d.GazeDurationsChanged && a.gazeMod != nil {
		a.gazeMod.SetDurations(
			time.Duration(d.NewGazeMinMs)*time.Millisecond,
			time.Duration(d.NewGazeMaxMs)*time.Millisecond,
		)
		slog.Info("gaze durations changed", "min_ms", d.NewGazeMinMs, "max_ms", d.NewGazeMaxMs)
	}

	if d.MapperChanged {
		a.applyComposites(d.NewComposites)
		slog.Info("mapper composites changed", "channels", len(d.NewComposites))
	}
}

// applyComposites replaces every configured route set and clears channels
// the new config no longer routes, restoring their identity mapping.
func (a *App) applyComposites(comps []config.CompositeConfig) {
	mapper := a.sched.Mapper()
	next := make(map[string]struct{}, len(comps))
	for _, comp := range comps {
		mapper.SetRoutes(comp.Channel, compositeRoutes(comp)...)
		next[comp.Channel] = struct{}{}
	}
	for ch := range a.compositeChannels {
		if _, ok := next[ch]; !ok {
			mapper.SetRoutes(ch)
		}
	}
	a.compositeChannels = next
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the modules and tears down all subsystems in reverse-init
// order. It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.flow != nil {
			a.flow.Cancel()
		}

		// Stop modules in reverse creation order so dependents go first.
		for i := len(a.mods) - 1; i >= 0; i-- {
			if err := a.mods[i].Stop(); err != nil {
				slog.Warn("module stop error", "id", a.mods[i].ID(), "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// Scheduler exposes the frame scheduler, mainly for tests and tooling.
func (a *App) Scheduler() *engine.Scheduler { return a.sched }

// Server exposes the host-facing WebSocket server.
func (a *App) Server() *hostws.Server { return a.server }

// compositeRoutes converts one configured composite to mapper routes.
func compositeRoutes(comp config.CompositeConfig) []engine.Route {
	routes := make([]engine.Route, len(comp.Outputs))
	for i, out := range comp.Outputs {
		routes[i] = engine.Route{OutputID: out.ID, Weight: out.Weight}
	}
	return routes
}

// slogLevel converts a config log level to its slog equivalent.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
