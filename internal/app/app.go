// Package app wires the configured wikis, the scheduler and the ambient
// services into one process and keeps them in sync with config reloads.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"wikicron/internal/config"
	"wikicron/internal/notifier"
	"wikicron/internal/observability/httpserver"
	"wikicron/internal/observability/metrics"
	"wikicron/internal/orchestrator"
	"wikicron/internal/runtime/supervisor"
	"wikicron/internal/services/scheduler"
	"wikicron/internal/storage"
	"wikicron/internal/wiki"
	logx "wikicron/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	metrics *metrics.Metrics
	orch    *orchestrator.Orchestrator
	sched   *scheduler.Service
	notif   *notifier.Service
	http    *httpserver.Server

	// identifies the Telegram destination the current sender was built for
	senderKey string
	// how long Stop waits for an in-flight page run
	drainTimeout atomic.Int64
}

// Option adjusts construction; tests use it to avoid real network sinks.
type Option func(*options)

type options struct {
	lookup func(string) (string, bool)
	sender notifier.Sender
}

// WithLookup replaces os.LookupEnv for ${VAR} expansion.
func WithLookup(fn func(string) (string, bool)) Option {
	return func(o *options) { o.lookup = fn }
}

// WithSender replaces the Telegram sender.
func WithSender(s notifier.Sender) Option {
	return func(o *options) { o.sender = s }
}

// New loads and validates cfgPath and builds every component. Nothing runs
// until Start, RunOnce or RunAll.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	if o.lookup != nil {
		cfgm.SetLookup(o.lookup)
	}
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.LoggingConfig())
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	store, err := storage.Open(cfg.StorageConfig(), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", cfg.StorageConfig().Driver))
	}

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		store:   store,
		metrics: metrics.New(),
	}
	a.drainTimeout.Store(int64(cfg.RunBudget()))

	ncfg := cfg.NotifierConfig()
	sender := o.sender
	if sender == nil {
		sender, err = a.buildSender(ncfg)
		if err != nil {
			a.closeStore()
			_ = logSvc.Close()
			return nil, err
		}
	}
	a.senderKey = senderKey(ncfg)
	a.notif = notifier.New(ncfg, sender, store, log.With(logx.String("comp", "notifier")))

	auth := wiki.NewAuthenticator(cfg.ClientOptions(), log.With(logx.String("comp", "auth")))
	oopt := orchestrator.Options{
		Renderer:   wiki.NewRenderer(cfg.Location()),
		Notifier:   a.notif,
		Metrics:    a.metrics,
		JobTimeout: cfg.JobTimeout(),
		Log:        log.With(logx.String("comp", "orchestrator")),
	}
	if store != nil {
		oopt.Recorder = store
	}
	a.orch = orchestrator.New(cfg.Targets(), auth, wiki.NewEditor(log.With(logx.String("comp", "editor"))), oopt)

	a.sched = scheduler.New(cfg.SchedulerConfig(), a.orch, a.metrics, log.With(logx.String("comp", "scheduler")))
	if err := a.sched.Load(cfg.Targets()); err != nil {
		a.log.Warn("some schedules were skipped", logx.Err(err))
	}

	if cfg.Metrics.Enabled {
		src := httpserver.Sources{
			Registry:  a.metrics.Registry(),
			Jobs:      a.sched.Jobs,
			Healthy:   a.Err,
			Tasks:     a.tasks,
			Profiling: cfg.Metrics.Pprof,
		}
		if store != nil {
			src.History = store.RecentRuns
		}
		a.http = httpserver.New(cfg.MetricsAddr(), src, log)
	}
	return a, nil
}

func (a *App) buildSender(cfg notifier.Config) (notifier.Sender, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	s, err := notifier.NewTelegramSender(cfg.Token, cfg.ChatID, cfg.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("notifier: %w", err)
	}
	return s, nil
}

func senderKey(cfg notifier.Config) string {
	if !cfg.Enabled {
		return ""
	}
	return fmt.Sprintf("%s|%d|%d", cfg.Token, cfg.ChatID, cfg.ThreadID)
}

func (a *App) Config() *config.Config                   { return a.cfgm.Get() }
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }
func (a *App) Scheduler() *scheduler.Service            { return a.sched }
func (a *App) Notifier() *notifier.Service              { return a.notif }
func (a *App) Metrics() *metrics.Metrics                { return a.metrics }
func (a *App) Logger() logx.Logger                      { return a.log }

// DrainTimeout is how long Stop may wait for a page run in progress.
func (a *App) DrainTimeout() time.Duration { return time.Duration(a.drainTimeout.Load()) }

// Store is nil when storage is disabled.
func (a *App) Store() storage.Store { return a.store }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) tasks() []supervisor.TaskStatus {
	if a.sup == nil {
		return nil
	}
	return a.sup.Tasks()
}

// RunOnce runs one page outside the schedule and waits for its alert to be
// handed to the notifier.
func (a *App) RunOnce(ctx context.Context, target, page string) orchestrator.Result {
	a.notif.Start(ctx)
	return a.orch.Run(ctx, target, page)
}

// RunAll runs every configured page once.
func (a *App) RunAll(ctx context.Context) orchestrator.Report {
	a.notif.Start(ctx)
	return a.orch.RunAll(ctx)
}

// Start launches the daemon loops: scheduler, config watch and reload,
// notifier and the optional HTTP endpoint.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return fmt.Errorf("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.notif.Start(a.sup.Context())

	a.sup.Go("scheduler", a.sched.Run)
	if a.http != nil {
		a.sup.Go("httpserver", a.http.Run)
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)

	a.log.Info("app started",
		logx.Int("targets", len(a.orch.Targets())),
		logx.Int("scheduled_jobs", len(a.sched.Jobs())),
		logx.String("config", a.cfgm.Path()),
	)
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

// applyConfig fans a validated config out to the live components.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	ch := config.Summarize(prev, next)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(next.LoggingConfig())

	targets := next.Targets()
	a.orch.SetRuntime(wiki.NewRenderer(next.Location()), next.JobTimeout())
	a.drainTimeout.Store(int64(next.RunBudget()))
	a.orch.Apply(targets)
	a.sched.Apply(next.SchedulerConfig())
	if err := a.sched.Reconcile(targets); err != nil {
		a.log.Warn("some schedules were skipped", logx.Err(err))
	}

	a.applyNotifier(ctx, next.NotifierConfig())

	for _, sec := range []string{"storage", "metrics", "http"} {
		if ch.Has(sec) {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", sec))
		}
	}

	fields := []logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}
	if len(ch.Added) > 0 {
		fields = append(fields, logx.Any("wikis_added", ch.Added))
	}
	if len(ch.Removed) > 0 {
		fields = append(fields, logx.Any("wikis_removed", ch.Removed))
	}
	if len(ch.Modified) > 0 {
		fields = append(fields, logx.Any("wikis_modified", ch.Modified))
	}
	a.log.Info("config applied", fields...)
}

func (a *App) applyNotifier(ctx context.Context, cfg notifier.Config) {
	wasEnabled := a.notif.Enabled()
	if key := senderKey(cfg); key != a.senderKey {
		sender, err := a.buildSender(cfg)
		if err != nil {
			a.log.Warn("notifier sender rebuild failed; keeping previous", logx.Err(err))
		} else {
			a.notif.SetSender(sender)
			a.senderKey = key
		}
	}
	a.notif.Apply(cfg)

	switch now := a.notif.Enabled(); {
	case wasEnabled && !now:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !wasEnabled && now:
		a.log.Info("notifier enabled via config")
		a.notif.Start(ctx)
	}
}

// Stop cancels the loops and releases resources, each step bounded so one
// stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sup != nil {
		a.sup.Cancel()
	}

	a.step(ctx, "supervisor", 5*time.Second, func(c context.Context) error {
		if a.sup == nil {
			return nil
		}
		return a.sup.Wait(c)
	})
	// an edit already started runs to completion before storage goes away
	a.step(ctx, "orchestrator", a.DrainTimeout(), a.orch.Drain)
	a.step(ctx, "notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.closeStore() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
