package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	rtsup "wikicron/internal/runtime/supervisor"
	"wikicron/internal/storage"
	logx "wikicron/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type job struct {
	text     string
	dedupKey string
}

// Service implements an async alert pipeline:
// queue + single worker + rate limit + retry + dedup.
//
// It is safe for concurrent use. A nil *Service drops everything.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender
	store  storage.Store

	cfg     Config
	limiter *rate.Limiter

	queue chan job
	sup   *rtsup.Supervisor

	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

// New builds a notifier. sender may be nil when cfg.Enabled is false.
func New(cfg Config, sender Sender, store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender: sender,
		store:  store,
		log:    log,
		dedup:  map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled && s.sender != nil
}

// SetSender replaces the delivery channel, e.g. after a token change.
// A running worker picks it up on its next message.
func (s *Service) SetSender(sender Sender) {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
}

// Apply swaps the policy knobs. Token and chat changes need SetSender.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	s.cfg = cfg
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
}

// Start launches the delivery worker. It is idempotent and a no-op when disabled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil || !s.cfg.Enabled || s.sender == nil {
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	q := s.queue
	s.sup.GoRestart("notifier.worker", func(c context.Context) error {
		s.workerLoop(c, q)
		return c.Err()
	}, time.Second, 30*time.Second)
}

// Stop closes intake and drains the queue until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	if s == nil {
		return
	}
	s.mu.Lock()
	q, sup := s.queue, s.sup
	s.queue, s.sup = nil, nil
	s.mu.Unlock()
	if q == nil {
		return
	}
	close(q)
	if err := sup.Wait(ctx); err != nil {
		sup.Cancel()
	}
}

// RunFinished turns a run record into an alert when the policy asks for one.
func (s *Service) RunFinished(ctx context.Context, r storage.RunRecord) {
	if s == nil || !s.Enabled() {
		return
	}
	s.mu.Lock()
	onSuccess := s.cfg.OnSuccess
	s.mu.Unlock()
	if r.OK && !onSuccess {
		return
	}

	key := ""
	if !r.OK {
		key = dedupKey(r.Target, r.Page, r.ErrorKind, r.Error)
	}
	if err := s.Notify(ctx, FormatRun(r), key); err != nil && !errors.Is(err, ErrDisabled) {
		s.log.Warn("alert not queued", logx.String("target", r.Target), logx.String("page", r.Page), logx.Err(err))
	}
}

// Notify enqueues text. A non-empty dedupKey suppresses repeats within the dedup window.
func (s *Service) Notify(ctx context.Context, text, dedupKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.cfg.Enabled || s.sender == nil {
		s.mu.Unlock()
		return ErrDisabled
	}
	if s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window := s.cfg.DedupWindow
	s.mu.Unlock()

	if window > 0 && dedupKey != "" && !s.dedupAllow(ctx, dedupKey, window) {
		s.log.Debug("alert suppressed by dedup", logx.String("key", dedupKey))
		return nil
	}

	defer func() {
		// Stop may close q between the unlock above and this send.
		if recover() != nil {
			s.log.Debug("alert dropped during shutdown")
		}
	}()
	select {
	case q <- job{text: text, dedupKey: dedupKey}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Snapshot returns the recent delivery attempts, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(text string, err error) {
	h := HistoryItem{At: time.Now(), Text: text}
	if err != nil {
		h.Err = err.Error()
	}
	s.hmu.Lock()
	s.history = append(s.history, h)
	if len(s.history) > 100 {
		s.history = s.history[len(s.history)-100:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim, sender := s.cfg, s.limiter, s.sender
	s.mu.Unlock()
	if sender == nil {
		s.appendHistory(j.text, ErrDisabled)
		return
	}

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		lastErr = sender.Send(callCtx, j.text)
		cancel()
		if lastErr == nil {
			s.appendHistory(j.text, nil)
			return
		}
		s.log.Debug("alert send failed", logx.Err(lastErr), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))
		if attempt == maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg.RetryBase, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.appendHistory(j.text, lastErr)
	s.log.Warn("alert delivery failed", logx.Err(lastErr), logx.Int("attempts", maxAttempts))
}

// FormatRun renders the alert text for a run.
func FormatRun(r storage.RunRecord) string {
	var b strings.Builder
	if r.OK {
		fmt.Fprintf(&b, "✅ %s: %s updated", r.Target, r.Page)
		if r.RevisionID != 0 {
			fmt.Fprintf(&b, " (rev %d)", r.RevisionID)
		}
	} else {
		fmt.Fprintf(&b, "🚨 %s: %s failed", r.Target, r.Page)
		if r.ErrorKind != "" {
			fmt.Fprintf(&b, " [%s]", r.ErrorKind)
		}
		if r.Error != "" {
			b.WriteString("\n")
			b.WriteString(r.Error)
		}
	}
	if r.Trigger != "" {
		fmt.Fprintf(&b, "\ntrigger: %s", r.Trigger)
	}
	return b.String()
}

func dedupKey(parts ...string) string {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("alert:%x", h.Sum64())
}

func (s *Service) dedupAllow(ctx context.Context, key string, window time.Duration) bool {
	now := time.Now()

	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dmu.Unlock()

	// Persistent check for cross-restart dedup.
	if s.store != nil {
		cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		until, ok, err := s.store.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	until := now.Add(window)
	s.dmu.Lock()
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	s.dedup[key] = until
	s.dmu.Unlock()

	if s.store != nil {
		cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		if err := s.store.PutDedup(cctx, key, until); err != nil {
			s.log.Debug("dedup persist failed", logx.Err(err))
		}
		cancel()
	}
	return true
}

func retryDelay(base time.Duration, attempt int) time.Duration {
	const maxD = 30 * time.Second
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	return time.Duration(float64(d) * j)
}
