// Package app wires all DM Forge subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithReferenceClient, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openquill/dmforge/internal/character"
	"github.com/openquill/dmforge/internal/config"
	"github.com/openquill/dmforge/internal/dm"
	"github.com/openquill/dmforge/internal/health"
	"github.com/openquill/dmforge/internal/server"
	"github.com/openquill/dmforge/internal/tool"
	"github.com/openquill/dmforge/internal/tool/dice"
	"github.com/openquill/dmforge/internal/tool/mcpbridge"
	"github.com/openquill/dmforge/internal/tool/reference"
	"github.com/openquill/dmforge/internal/tool/sheet"
	"github.com/openquill/dmforge/pkg/provider/llm"
)

// defaultListenAddr is used when server.listen_addr is not configured.
const defaultListenAddr = ":8080"

// App owns all subsystem lifetimes and serves the game over HTTP.
type App struct {
	cfg      *config.Config
	provider llm.Provider
	logLevel *slog.LevelVar

	// Subsystems — initialised in New, torn down in Shutdown.
	store     character.Store
	selection *sheet.Selection
	reference *reference.Client
	registry  *tool.Registry
	bridge    *mcpbridge.Bridge
	hub       *server.EventHub
	server    *server.Server

	// outline holds the current campaign outline as a string. Hot-reload
	// swaps it; new sessions pick it up, running sessions keep theirs.
	outline atomic.Value

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once

	mu sync.Mutex
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a character store instead of creating one from config.
func WithStore(s character.Store) Option {
	return func(a *App) { a.store = s }
}

// WithReferenceClient injects a reference client instead of creating one
// from config.
func WithReferenceClient(c *reference.Client) Option {
	return func(a *App) { a.reference = c }
}

// WithLogLevelVar hands the App the level var backing the process logger so
// config hot-reload can adjust verbosity.
func WithLogLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The provider comes
// from main.go (built via the config registry, wrapped in fallback
// resilience). Use Option functions to inject test doubles for any
// subsystem.
//
// New performs all initialisation synchronously: store connection and
// migration, tool registration, MCP server imports, and campaign outline
// resolution. Reference index warmup is deferred to Run.
func New(ctx context.Context, cfg *config.Config, provider llm.Provider, opts ...Option) (*App, error) {
	if provider == nil {
		return nil, errors.New("app: an LLM provider is required")
	}

	a := &App{
		cfg:       cfg,
		provider:  provider,
		selection: &sheet.Selection{},
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Character store ───────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Tool registry ─────────────────────────────────────────────────
	if err := a.initTools(ctx); err != nil {
		return nil, fmt.Errorf("app: init tools: %w", err)
	}

	// ── 3. Campaign outline ──────────────────────────────────────────────
	if err := a.initOutline(ctx); err != nil {
		return nil, fmt.Errorf("app: init outline: %w", err)
	}

	// ── 4. HTTP server ───────────────────────────────────────────────────
	if err := a.initServer(); err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore connects the PostgreSQL character store, falling back to the
// in-memory store when no database is configured.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dsn := a.cfg.Storage.DatabaseURL
	if dsn == "" {
		slog.Info("no database configured, characters are held in memory")
		a.store = &character.MemStore{}
		return nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	store := character.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return err
	}

	a.store = store
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	slog.Info("connected character store", "backend", "postgres")
	return nil
}

// initTools builds the registry: reference lookups, the dice roller, the
// five sheet tools, and any tools imported from configured MCP servers.
func (a *App) initTools(ctx context.Context) error {
	if a.reference == nil {
		var opts []reference.Option
		if ttl := a.cfg.Reference.DetailTTL.Std(); ttl > 0 {
			opts = append(opts, reference.WithDetailTTL(ttl))
		}
		a.reference = reference.NewClient(a.cfg.Reference.BaseURL, opts...)
	}

	a.hub = server.NewEventHub(slog.Default(), nil)

	binder, err := sheet.NewBinder(a.store, a.selection.Active, a.hub.Notify)
	if err != nil {
		return err
	}

	a.registry = tool.NewRegistry()
	if err := a.registry.RegisterAll(reference.Tools(a.reference)...); err != nil {
		return fmt.Errorf("register reference tools: %w", err)
	}
	if err := a.registry.RegisterAll(dice.Tools()...); err != nil {
		return fmt.Errorf("register dice tools: %w", err)
	}
	if err := a.registry.RegisterAll(binder.Tools()...); err != nil {
		return fmt.Errorf("register sheet tools: %w", err)
	}

	if len(a.cfg.MCP.Servers) > 0 {
		a.bridge = mcpbridge.New()
		a.closers = append(a.closers, a.bridge.Close)

		for _, srv := range a.cfg.MCP.Servers {
			tools, err := a.bridge.Connect(ctx, srv)
			if err != nil {
				return fmt.Errorf("connect mcp server %q: %w", srv.Name, err)
			}
			if err := a.registry.RegisterAll(tools...); err != nil {
				return fmt.Errorf("register mcp server %q: %w", srv.Name, err)
			}
			slog.Info("imported MCP tools", "server", srv.Name, "count", len(tools))
		}
	}

	slog.Info("tool registry ready", "tools", a.registry.Count())
	return nil
}

// initOutline resolves the campaign outline: the configured file wins, then
// the inline outline, then a model-generated one. Generation failure is not
// fatal; the narrator improvises.
func (a *App) initOutline(ctx context.Context) error {
	outline := a.cfg.Campaign.Outline
	if path := a.cfg.Campaign.OutlineFile; path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read outline file: %w", err)
		}
		outline = string(b)
	}

	if strings.TrimSpace(outline) == "" {
		generated, err := dm.GenerateOutline(ctx, a.provider, "")
		if err != nil {
			slog.Warn("campaign outline generation failed, narrator improvises", "err", err)
		} else {
			outline = generated
			slog.Info("generated campaign outline", "length", len(generated))
		}
	}

	a.outline.Store(outline)
	return nil
}

// initServer assembles the session factory and the HTTP front end.
func (a *App) initServer() error {
	executor := dm.NewExecutor(a.provider, a.registry, nil)
	extractor := dm.NewExtractor(a.provider, a.registry.SchemaPromptFor(
		sheet.ToolUpdateHitPoints, sheet.ToolUpdateCurrency,
		sheet.ToolAddInventoryItem, sheet.ToolRemoveInventoryItem,
		sheet.ToolUpdateExperience,
	), nil)

	newSession := func(opts ...dm.SessionOption) *dm.Session {
		base := []dm.SessionOption{
			dm.WithOutline(a.currentOutline()),
			dm.WithSheetFunc(a.renderSheet),
		}
		return dm.NewSession(a.provider, executor, extractor, append(base, opts...)...)
	}

	srv, err := server.New(server.Config{
		Store:      a.store,
		Selection:  a.selection,
		Registry:   a.registry,
		Executor:   executor,
		Extractor:  extractor,
		NewSession: newSession,
		Health: health.New(
			health.ReferenceChecker(a.reference),
			health.StoreChecker(a.store),
			health.ProviderChecker(a.provider),
		),
		Events: a.hub,
	})
	if err != nil {
		return err
	}
	a.server = srv
	return nil
}

// renderSheet is the SheetFunc handed to game sessions: the active
// character's sheet, or a placeholder before one exists.
func (a *App) renderSheet(ctx context.Context) (string, error) {
	id := a.selection.ID()
	if id == "" {
		return "(no character created yet)", nil
	}
	ch, err := a.store.Get(ctx, id)
	if errors.Is(err, character.ErrNotFound) {
		return "(no character created yet)", nil
	}
	if err != nil {
		return "", err
	}
	return ch.Sheet(), nil
}

func (a *App) currentOutline() string {
	v, _ := a.outline.Load().(string)
	return v
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run warms the reference indexes in the background, serves HTTP, and
// blocks until ctx is cancelled or the listener fails. On cancellation the
// HTTP server drains in-flight requests before Run returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	go func() {
		if err := a.reference.WarmIndexes(ctx, reference.Endpoints()); err != nil {
			slog.Warn("reference index warmup incomplete", "err", err)
		} else {
			slog.Info("reference indexes warmed", "endpoints", len(reference.Endpoints()))
		}
	}()

	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("app running", "addr", addr, "tools", a.registry.Count())

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(drainCtx); err != nil {
		slog.Warn("http drain error", "err", err)
	}
	return ctx.Err()
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig applies a hot-reloaded configuration. Only the reload-safe
// surface changes at runtime: log level and campaign outline. MCP server
// changes are reported but require a restart.
func (a *App) ApplyConfig(next *config.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()

	d := config.Diff(a.cfg, next)

	if d.LogLevelChanged {
		if a.logLevel != nil {
			a.logLevel.Set(d.NewLogLevel.Level())
			slog.Info("log level changed", "level", d.NewLogLevel)
		} else {
			slog.Warn("log level changed but no level var is wired", "level", d.NewLogLevel)
		}
	}

	if d.CampaignChanged {
		outline := next.Campaign.Outline
		if path := next.Campaign.OutlineFile; path != "" {
			b, err := os.ReadFile(path)
			if err != nil {
				slog.Warn("reload: read outline file failed, keeping old outline", "err", err)
				outline = a.currentOutline()
			} else {
				outline = string(b)
			}
		}
		a.outline.Store(outline)
		slog.Info("campaign outline reloaded, applies to new sessions")
	}

	if d.MCPChanged {
		for _, c := range d.MCPChanges {
			slog.Warn("mcp server configuration changed, restart required",
				"server", c.Name, "added", c.Added, "removed", c.Removed)
		}
	}

	a.cfg = next
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

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

// Handler exposes the HTTP routes for tests that drive the app without a
// listener.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}
