// Package app wires configuration, storage, watching, and delivery into a
// runnable service.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/Picca1e-12/GenTestAI/internal/aibackend"
	"github.com/Picca1e-12/GenTestAI/internal/broadcast"
	"github.com/Picca1e-12/GenTestAI/internal/config"
	gitclient "github.com/Picca1e-12/GenTestAI/internal/git/client"
	"github.com/Picca1e-12/GenTestAI/internal/ignore"
	"github.com/Picca1e-12/GenTestAI/internal/logging"
	"github.com/Picca1e-12/GenTestAI/internal/model"
	"github.com/Picca1e-12/GenTestAI/internal/processor"
	"github.com/Picca1e-12/GenTestAI/internal/store"
	"github.com/Picca1e-12/GenTestAI/internal/watch"
)

// App owns the full pipeline: watchers feed the processor, the processor
// persists and delivers, the hub fans notifications out.
type App struct {
	cfg *config.Config
	log logging.Logger

	db      *sql.DB
	store   *store.Store
	git     gitclient.Client
	hub     *broadcast.Hub
	backend *aibackend.Client
	proc    *processor.Processor
	manager *watch.Manager
	sweeper *cron.Cron
}

// New opens the database, runs migrations, and builds every component. The
// returned App is not yet running; call Run.
func New(cfg *config.Config, log logging.Logger) (*App, error) {
	if log == nil {
		log = logging.Nop()
	}

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	st := store.New(db)

	ignore.Extend(cfg.Watch.IgnoreDirs, cfg.Watch.IgnoreExtensions)

	git := gitclient.New(cfg.Git.Client, cfg.Git.Bin)
	hub := broadcast.NewHub(log)
	backend := aibackend.NewClient(cfg.AI.BaseURL, aibackend.Options{
		Timeout:     cfg.AI.Timeout(),
		MaxAttempts: cfg.AI.MaxAttempts,
		BaseWait:    cfg.AI.BaseWait(),
		Logger:      log,
	})
	proc := processor.New(st, backend, hub, log, processor.Options{
		Workers:   cfg.Delivery.Workers,
		QueueSize: cfg.Delivery.QueueSize,
	})
	manager := watch.NewManager(git, log)

	a := &App{
		cfg:     cfg,
		log:     log,
		db:      db,
		store:   st,
		git:     git,
		hub:     hub,
		backend: backend,
		proc:    proc,
		manager: manager,
		sweeper: cron.New(),
	}

	// every watcher record flows through the processor
	manager.AddObserver(func(rec model.ChangeRecord) error {
		return proc.Process(context.Background(), &rec)
	})

	return a, nil
}

// Store exposes the persistence layer for management commands.
func (a *App) Store() *store.Store { return a.store }

// Manager exposes the watcher registry for management commands.
func (a *App) Manager() *watch.Manager { return a.manager }

// Health classifies the AI backend's reachability.
func (a *App) Health(ctx context.Context) string { return a.proc.Health(ctx) }

// Run starts the pipeline and blocks until ctx is canceled, then shuts the
// components down in reverse order.
func (a *App) Run(ctx context.Context) error {
	if err := a.bootstrapRepositories(ctx); err != nil {
		return err
	}

	a.proc.Start(ctx)

	sub := broadcast.NewChannelSubscriber(64)
	subID := a.hub.Subscribe(sub)
	go a.logNotifications(ctx, sub)

	results := a.manager.StartAll()
	for id, ok := range results {
		if setErr := a.store.SetWatching(ctx, id, ok); setErr != nil {
			a.log.Warn("record watching state", "repository", id, "error", setErr)
		}
	}

	if _, err := a.sweeper.AddFunc(a.cfg.Sweep.Schedule, func() {
		attempted, delivered, err := a.proc.ProcessUnsent(context.Background(), a.cfg.Sweep.Limit)
		if err != nil {
			a.log.Error("retry sweep failed", "error", err)
			return
		}
		if attempted > 0 {
			a.log.Info("retry sweep finished", "attempted", attempted, "delivered", delivered)
		}
	}); err != nil {
		return fmt.Errorf("schedule retry sweep %q: %w", a.cfg.Sweep.Schedule, err)
	}
	a.sweeper.Start()

	a.log.Info("service running",
		"repositories", len(a.manager.IDs()),
		"backend", a.backend.Health(ctx))

	<-ctx.Done()

	sweepCtx := a.sweeper.Stop()
	<-sweepCtx.Done()

	for id, ok := range a.manager.StopAll() {
		if !ok {
			a.log.Warn("watcher did not stop cleanly", "repository", id)
		}
		if err := a.store.SetWatching(context.Background(), id, false); err != nil {
			a.log.Warn("record watching state", "repository", id, "error", err)
		}
	}

	a.proc.Stop()
	a.hub.Unsubscribe(subID)
	return nil
}

// Close releases the database handle.
func (a *App) Close() error {
	return a.db.Close()
}

// bootstrapRepositories merges configured repositories into the store, then
// registers a watcher for every stored repository. A repository with an
// invalid path is skipped with a log entry; the rest still start.
func (a *App) bootstrapRepositories(ctx context.Context) error {
	existing, err := a.store.ListRepositories(ctx)
	if err != nil {
		return fmt.Errorf("list repositories: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, repo := range existing {
		known[repo.Path] = true
	}

	for _, rc := range a.cfg.Repositories {
		if known[rc.Path] {
			continue
		}
		name := rc.Name
		if name == "" {
			name = rc.Path
		}
		repo, err := a.store.CreateRepository(ctx, name, rc.Path)
		if err != nil {
			a.log.Error("register configured repository", "path", rc.Path, "error", err)
			continue
		}
		existing = append(existing, repo)
		known[rc.Path] = true
	}

	for _, repo := range existing {
		if err := a.manager.Add(repo.ID, repo.Path); err != nil {
			a.log.Error("attach watcher", "repository", repo.ID, "path", repo.Path, "error", err)
		}
	}
	return nil
}

func (a *App) logNotifications(ctx context.Context, sub *broadcast.ChannelSubscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-sub.C:
			a.log.Info("change detected",
				"repository", n.Repository,
				"path", n.RelativePath,
				"kind", n.Kind,
				"author", n.Author,
				"added", n.LinesAdded,
				"removed", n.LinesRemoved)
		}
	}
}
