package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"wikicron/internal/observability/metrics"
	"wikicron/internal/wiki"
	logx "wikicron/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	log     logx.Logger
	metrics *metrics.Metrics
	runner  Runner
	now     func() time.Time

	cfg  Config
	loc  *time.Location
	jobs []*job

	// tickCh carries a new loop interval to a running Run.
	tickCh chan time.Duration
}

func New(cfg Config, runner Runner, m *metrics.Metrics, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:     log,
		metrics: m,
		runner:  runner,
		now:     time.Now,
		tickCh:  make(chan time.Duration, 1),
	}
	s.cfg = cfg
	s.loc = s.loadLocation(cfg.Timezone)
	return s
}

// SetClock replaces the time source. Call before Load.
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Service) loadLocation(tz string) *time.Location {
	loc, err := LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Load replaces the job set with every scheduled page of targets. NextRun
// of each job is the first instant strictly after now. Pages with an
// unparseable schedule are skipped and reported in the returned error.
func (s *Service) Load(targets []wiki.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs, err := s.buildLocked(targets, nil)
	s.jobs = jobs
	s.metrics.SetJobs(len(jobs))
	s.log.Info("jobs loaded", logx.Int("jobs", len(jobs)), logx.String("tz", s.loc.String()))
	return err
}

// Reconcile swaps in a new target set. Jobs whose target, page and schedule
// are unchanged keep their NextRun; new or changed jobs start fresh.
func (s *Service) Reconcile(targets []wiki.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := make(map[string]*job, len(s.jobs))
	for _, j := range s.jobs {
		prev[j.key()] = j
	}
	jobs, err := s.buildLocked(targets, prev)
	kept := 0
	for _, j := range jobs {
		if p, ok := prev[j.key()]; ok && p == j {
			kept++
		}
	}
	s.jobs = jobs
	s.metrics.SetJobs(len(jobs))
	s.log.Info("jobs reconciled", logx.Int("jobs", len(jobs)), logx.Int("kept", kept))
	return err
}

func (s *Service) buildLocked(targets []wiki.Target, prev map[string]*job) ([]*job, error) {
	now := s.now()
	var (
		jobs []*job
		errs []error
	)
	for _, t := range targets {
		for _, p := range t.Pages {
			if !p.Scheduled() {
				continue
			}
			j := &job{target: t.Name, page: wiki.Title(p.Path), expr: p.Schedule}
			if old, ok := prev[j.key()]; ok && old.expr == j.expr {
				jobs = append(jobs, old)
				continue
			}
			sched, err := Compile(p.Schedule, s.loc)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s/%s: %w", t.Name, j.page, err))
				continue
			}
			next := sched.Next(now)
			if next.IsZero() {
				errs = append(errs, fmt.Errorf("%s/%s: %w", t.Name, j.page, ErrNeverFires))
				continue
			}
			j.sched = sched
			j.nextRun = next
			jobs = append(jobs, j)
		}
	}
	return jobs, errors.Join(errs...)
}

// Apply updates tick and timezone. A timezone change recomputes every NextRun.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	oldTick, oldTZ := s.cfg.Tick, s.cfg.Timezone
	s.cfg = cfg
	if cfg.Timezone != oldTZ {
		s.loc = s.loadLocation(cfg.Timezone)
		now := s.now()
		for _, j := range s.jobs {
			if sched, err := Compile(j.expr, s.loc); err == nil {
				j.sched = sched
				s.advanceLocked(j, now)
			}
		}
		s.log.Info("timezone changed", logx.String("tz", s.loc.String()))
	}
	s.mu.Unlock()

	if cfg.Tick != oldTick {
		select {
		case s.tickCh <- cfg.Tick:
		default:
		}
	}
}

// Tick runs every due job once, sequentially, and returns how many fired.
// Cancellation is honoured between jobs, never in the middle of one.
func (s *Service) Tick(ctx context.Context) int {
	s.metrics.Tick()

	s.mu.Lock()
	now := s.now()
	var due []*job
	for _, j := range s.jobs {
		if j.state == Parked {
			continue
		}
		if !j.nextRun.After(now) {
			j.state = Due
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	fired := 0
	for _, j := range due {
		if ctx.Err() != nil {
			s.mu.Lock()
			for _, rest := range due[fired:] {
				rest.state = Idle
			}
			s.mu.Unlock()
			break
		}
		s.fire(ctx, j)
		fired++
	}
	return fired
}

func (s *Service) fire(ctx context.Context, j *job) {
	s.mu.Lock()
	j.state = Running
	s.mu.Unlock()
	s.metrics.JobFired()

	log := s.log.With(logx.String("target", j.target), logx.String("page", j.page))
	log.Debug("job started")
	ok := s.runGuarded(ctx, j, log)

	s.mu.Lock()
	now := s.now()
	j.lastRun = now
	j.lastOK = ok
	j.runs++
	j.state = Idle
	s.advanceLocked(j, now)
	next, parked := j.nextRun, j.state == Parked
	s.mu.Unlock()
	if parked {
		log.Warn("schedule has no further runs; job parked", logx.String("schedule", j.expr))
		return
	}
	log.Debug("job finished", logx.Bool("ok", ok), logx.Time("next_run", next))
}

// advanceLocked moves nextRun past now. A schedule with no further instant
// parks the job instead of storing the zero time, which would be due forever.
func (s *Service) advanceLocked(j *job, now time.Time) {
	next := j.sched.Next(now)
	if next.IsZero() {
		j.state = Parked
		return
	}
	j.nextRun = next
	if j.state == Parked {
		j.state = Idle
	}
}

func (s *Service) runGuarded(ctx context.Context, j *job, log logx.Logger) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			s.metrics.JobPanicked()
			log.Error("panic in scheduled job", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return s.runner.RunScheduled(ctx, j.target, j.page)
}

// Run ticks until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	every := s.cfg.Tick
	s.mu.Unlock()
	if every <= 0 {
		every = DefaultTick
	}
	t := time.NewTicker(every)
	defer t.Stop()
	s.log.Info("scheduler loop started", logx.Duration("tick", every))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler loop stopped")
			return ctx.Err()
		case d := <-s.tickCh:
			if d <= 0 {
				d = DefaultTick
			}
			t.Reset(d)
			s.log.Info("tick interval changed", logx.Duration("tick", d))
		case <-t.C:
			if n := s.Tick(ctx); n > 0 {
				s.log.Debug("tick", logx.Int("fired", n))
			}
		}
	}
}

// Jobs returns a snapshot of the job set ordered by NextRun.
func (s *Service) Jobs() []JobInfo {
	s.mu.Lock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, JobInfo{
			Target:  j.target,
			Page:    j.page,
			Expr:    j.expr,
			State:   j.state.String(),
			NextRun: j.nextRun,
			LastRun: j.lastRun,
			LastOK:  j.lastOK,
			Runs:    j.runs,
		})
	}
	s.mu.Unlock()
	sort.SliceStable(out, func(i, k int) bool { return out[i].NextRun.Before(out[k].NextRun) })
	return out
}
