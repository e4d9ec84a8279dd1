// Package orchestrator runs page jobs: it owns the per-target session
// registry, serialises every run and turns each attempt into a recorded
// result. It never lets a job failure escape as an error or panic.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"wikicron/internal/observability/metrics"
	"wikicron/internal/storage"
	"wikicron/internal/wiki"
	logx "wikicron/pkg/logx"
)

// ErrStopped is the result error of runs attempted after Drain.
var ErrStopped = errors.New("orchestrator: stopped")

// Authenticator acquires a fresh session for a target.
type Authenticator interface {
	Acquire(ctx context.Context, t wiki.Target) (*wiki.Session, error)
}

// Editor appends text to a page through a session.
type Editor interface {
	Edit(ctx context.Context, s *wiki.Session, pagePath, text, summary string) (wiki.Outcome, error)
}

// Recorder persists run results. storage.Store implements it.
type Recorder interface {
	AppendRun(ctx context.Context, r storage.RunRecord) error
}

// Notifier is told about every finished run.
type Notifier interface {
	RunFinished(ctx context.Context, r storage.RunRecord)
}

type Options struct {
	Renderer *wiki.Renderer
	Recorder Recorder
	Notifier Notifier
	Metrics  *metrics.Metrics
	// JobTimeout bounds a single page run (login included); 0 means no bound.
	JobTimeout time.Duration
	Log        logx.Logger
	Now        func() time.Time
}

// Result is the outcome of one attempted page run.
type Result struct {
	Target     string
	Page       string
	OK         bool
	RevisionID int64
	Err        error
	Took       time.Duration
}

// Report aggregates a RunAll pass.
type Report struct {
	Attempted int
	Succeeded int
	Results   []Result
}

func (r Report) Failed() int { return r.Attempted - r.Succeeded }

type Orchestrator struct {
	// runMu serialises runs so a session is never used by two calls at once.
	runMu   sync.Mutex
	stopped atomic.Bool

	mu       sync.RWMutex
	targets  []wiki.Target
	sessions map[string]*wiki.Session

	auth     Authenticator
	editor   Editor
	renderer *wiki.Renderer
	recorder Recorder
	notifier Notifier
	metrics  *metrics.Metrics
	timeout  time.Duration
	log      logx.Logger
	now      func() time.Time
}

func New(targets []wiki.Target, auth Authenticator, editor Editor, opt Options) *Orchestrator {
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	if opt.Renderer == nil {
		opt.Renderer = wiki.NewRenderer(nil)
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Orchestrator{
		targets:  append([]wiki.Target(nil), targets...),
		sessions: map[string]*wiki.Session{},
		auth:     auth,
		editor:   editor,
		renderer: opt.Renderer,
		recorder: opt.Recorder,
		notifier: opt.Notifier,
		metrics:  opt.Metrics,
		timeout:  opt.JobTimeout,
		log:      opt.Log,
		now:      opt.Now,
	}
}

// Targets returns the current target set.
func (o *Orchestrator) Targets() []wiki.Target {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]wiki.Target(nil), o.targets...)
}

// Apply swaps the target set. Sessions survive only for targets whose
// endpoint and credentials are unchanged.
func (o *Orchestrator) Apply(targets []wiki.Target) {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	o.mu.Lock()
	defer o.mu.Unlock()

	next := make(map[string]wiki.Target, len(targets))
	for _, t := range targets {
		next[t.Name] = t
	}
	for _, old := range o.targets {
		if nt, ok := next[old.Name]; !ok || !old.SameCredentials(nt) {
			if _, had := o.sessions[old.Name]; had {
				o.log.Info("session discarded by config change", logx.String("target", old.Name))
			}
			delete(o.sessions, old.Name)
		}
	}
	o.targets = append([]wiki.Target(nil), targets...)
	o.metrics.SetSessions(len(o.sessions))
}

// SetRuntime swaps the renderer and the per-page timeout. It waits for the
// run in progress, if any.
func (o *Orchestrator) SetRuntime(r *wiki.Renderer, timeout time.Duration) {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if r != nil {
		o.renderer = r
	}
	o.timeout = timeout
}

// Drain waits for the run in progress, if any, to finish (its record and
// alert included) and makes every later run fail with ErrStopped. It returns
// ctx.Err() when the run outlives ctx; the run is not interrupted.
func (o *Orchestrator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.runMu.Lock()
		o.stopped.Store(true)
		o.runMu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		o.log.Warn("run still in progress at shutdown")
		return ctx.Err()
	}
}

// SessionCount is the number of cached sessions.
func (o *Orchestrator) SessionCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.sessions)
}

// RunSingle runs one page on demand. It reports success and never panics.
func (o *Orchestrator) RunSingle(ctx context.Context, target, page string) bool {
	return o.run(ctx, target, page, storage.TriggerManual).OK
}

// RunScheduled is RunSingle for scheduler-triggered runs.
func (o *Orchestrator) RunScheduled(ctx context.Context, target, page string) bool {
	return o.run(ctx, target, page, storage.TriggerSchedule).OK
}

// Run is RunSingle returning the full result.
func (o *Orchestrator) Run(ctx context.Context, target, page string) Result {
	return o.run(ctx, target, page, storage.TriggerManual)
}

func (o *Orchestrator) run(ctx context.Context, target, page string, trig storage.Trigger) Result {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	res := Result{Target: target, Page: wiki.Title(page)}
	if o.stopped.Load() {
		res.Err = ErrStopped
		return res
	}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	t, p, ok := o.lookup(target, page)
	if !ok {
		res.Err = fmt.Errorf("orchestrator: no page %q on target %q", wiki.Title(page), target)
		o.log.Warn("unknown job", logx.String("target", target), logx.String("page", page))
		return res
	}

	res = o.runPage(ctx, t, p)
	o.finish(ctx, res, trig)
	return res
}

// RunAll attempts every page of every target in config order. A target
// whose login fails has all of its pages counted as failed without any edit
// traffic; later targets still run. Cancellation stops between pages.
func (o *Orchestrator) RunAll(ctx context.Context) Report {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	var rep Report
	if o.stopped.Load() {
		return rep
	}
	for _, t := range o.Targets() {
		for _, p := range t.Pages {
			if ctx.Err() != nil {
				o.log.Info("run-all interrupted", logx.Int("attempted", rep.Attempted))
				return rep
			}
			res := o.runPage(ctx, t, p)
			o.finish(ctx, res, storage.TriggerAll)
			rep.Attempted++
			if res.OK {
				rep.Succeeded++
			}
			rep.Results = append(rep.Results, res)

			if wiki.IsAuthError(res.Err) {
				rep = o.failRemaining(ctx, rep, t, p, res.Err)
				break
			}
		}
	}
	o.log.Info("run-all finished", logx.Int("attempted", rep.Attempted), logx.Int("succeeded", rep.Succeeded))
	return rep
}

// failRemaining records every page of t after last as failed with authErr.
func (o *Orchestrator) failRemaining(ctx context.Context, rep Report, t wiki.Target, last wiki.Page, authErr error) Report {
	after := false
	for _, p := range t.Pages {
		if !after {
			after = p.Path == last.Path
			continue
		}
		res := Result{Target: t.Name, Page: wiki.Title(p.Path), Err: authErr}
		o.finish(ctx, res, storage.TriggerAll)
		rep.Attempted++
		rep.Results = append(rep.Results, res)
	}
	return rep
}

func (o *Orchestrator) lookup(target, page string) (wiki.Target, wiki.Page, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, t := range o.targets {
		if t.Name != target {
			continue
		}
		p, ok := t.FindPage(page)
		return t, p, ok
	}
	return wiki.Target{}, wiki.Page{}, false
}

// runPage performs login (if needed), render and edit for one page.
// Callers hold runMu.
func (o *Orchestrator) runPage(ctx context.Context, t wiki.Target, p wiki.Page) (res Result) {
	start := o.now()
	res = Result{Target: t.Name, Page: wiki.Title(p.Path)}
	defer func() {
		if r := recover(); r != nil {
			o.invalidate(t.Name)
			res.OK = false
			res.Err = fmt.Errorf("orchestrator: panic: %v", r)
			o.log.Error("page run panicked", logx.String("target", t.Name), logx.String("page", res.Page),
				logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
		res.Took = o.now().Sub(start)
	}()

	// In-flight network calls are detached from loop cancellation and only
	// bounded by the job timeout.
	runCtx := context.WithoutCancel(ctx)
	if o.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, o.timeout)
		defer cancel()
	}

	sess, err := o.session(runCtx, t)
	if err != nil {
		res.Err = err
		return res
	}

	text, missing := o.renderer.RenderReport(p.Template, pageVars(t, p))
	if len(missing) > 0 {
		o.log.Warn("unresolved markers left in text", logx.String("target", t.Name), logx.String("page", res.Page), logx.Any("markers", missing))
	}

	// the summary comes from the live target so a reload applies to cached sessions too
	out, err := o.editor.Edit(runCtx, sess, p.Path, text, t.EditSummary())
	if err != nil {
		o.invalidate(t.Name)
		res.Err = err
		return res
	}
	res.OK = out.Success
	res.RevisionID = out.RevisionID
	return res
}

func pageVars(t wiki.Target, p wiki.Page) map[string]string {
	vars := make(map[string]string, len(p.Vars)+2)
	vars["target"] = t.Name
	vars["page"] = wiki.Title(p.Path)
	for k, v := range p.Vars {
		vars[k] = v
	}
	return vars
}

// session returns the cached session for t or acquires a new one.
func (o *Orchestrator) session(ctx context.Context, t wiki.Target) (*wiki.Session, error) {
	o.mu.RLock()
	s := o.sessions[t.Name]
	o.mu.RUnlock()
	if s != nil {
		o.log.Debug("session reused", logx.String("target", t.Name), logx.Duration("age", time.Since(s.CreatedAt())))
		return s, nil
	}

	s, err := o.auth.Acquire(ctx, t)
	if err != nil {
		var ae *wiki.AuthError
		kind := "error"
		if errors.As(err, &ae) {
			kind = ae.Kind.String()
		}
		o.metrics.Login(t.Name, kind)
		return nil, err
	}
	o.metrics.Login(t.Name, "success")

	o.mu.Lock()
	o.sessions[t.Name] = s
	n := len(o.sessions)
	o.mu.Unlock()
	o.metrics.SetSessions(n)
	return s, nil
}

func (o *Orchestrator) invalidate(target string) {
	o.mu.Lock()
	s := o.sessions[target]
	delete(o.sessions, target)
	n := len(o.sessions)
	o.mu.Unlock()
	o.metrics.SetSessions(n)
	if s != nil {
		o.log.Info("session discarded", logx.String("target", target), logx.Duration("age", time.Since(s.CreatedAt())))
	}
}

// finish logs, records, meters and notifies one result.
func (o *Orchestrator) finish(ctx context.Context, res Result, trig storage.Trigger) {
	rec := storage.RunRecord{
		At:         o.now(),
		Target:     res.Target,
		Page:       res.Page,
		Trigger:    trig,
		OK:         res.OK,
		RevisionID: res.RevisionID,
		TookMS:     res.Took.Milliseconds(),
	}
	log := o.log.With(logx.String("target", res.Target), logx.String("page", res.Page), logx.String("trigger", string(trig)))
	if res.OK {
		log.Info("page updated", logx.Int64("revision", res.RevisionID), logx.Duration("took", res.Took))
	} else {
		rec.ErrorKind = errorKind(res.Err)
		if res.Err != nil {
			rec.Error = res.Err.Error()
		}
		log.Error("page update failed", logx.String("kind", rec.ErrorKind), logx.Err(res.Err))
	}

	o.metrics.Run(res.Target, string(trig), res.OK, res.Took.Seconds())

	detached := context.WithoutCancel(ctx)
	if o.recorder != nil {
		rctx, cancel := context.WithTimeout(detached, 2*time.Second)
		if err := o.recorder.AppendRun(rctx, rec); err != nil {
			log.Warn("run record not stored", logx.Err(err))
		}
		cancel()
	}
	if o.notifier != nil {
		o.notifier.RunFinished(detached, rec)
	}
}

func errorKind(err error) string {
	var (
		ae *wiki.AuthError
		ee *wiki.EditError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ae):
		return ae.Kind.String()
	case errors.As(err, &ee):
		return ee.Kind.String()
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal"
	}
}
