// Package sweeper runs scheduled maintenance against the session store.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"fleetdesk.org/internal/obs"
)

// Purger removes refresh sessions that expired before cutoff.
type Purger interface {
	PurgeSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper purges expired refresh sessions on a cron schedule.
type Sweeper struct {
	purger  Purger
	cron    *cron.Cron
	grace   time.Duration
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
}

// Option configures Sweeper.
type Option func(*Sweeper)

// WithGrace keeps sessions for d after they expire.
func WithGrace(d time.Duration) Option {
	return func(s *Sweeper) {
		if d >= 0 {
			s.grace = d
		}
	}
}

// WithTimeout bounds a single purge run.
func WithTimeout(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithClock(fn func() time.Time) Option {
	return func(s *Sweeper) {
		if fn != nil {
			s.now = fn
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

// New validates schedule (standard five-field cron or a descriptor such as
// @hourly) and registers the purge job. Call Start to begin running it.
func New(purger Purger, schedule string, opts ...Option) (*Sweeper, error) {
	if purger == nil {
		return nil, errors.New("sweeper: purger is required")
	}
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("sweeper: schedule %q: %w", schedule, err)
	}
	s := &Sweeper{
		purger:  purger,
		cron:    cron.New(),
		timeout: time.Minute,
		now:     time.Now,
		logger:  obs.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron.Schedule(sched, cron.FuncJob(s.tick))
	return s, nil
}

// Start runs the scheduler in its own goroutine.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts scheduling and waits for a running purge, bounded by ctx.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("session sweep failed", zap.Error(err))
	}
}

// RunOnce purges sessions that expired before now minus the grace period.
// Overlapping runs are skipped.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return 0, nil
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	cutoff := s.now().UTC().Add(-s.grace)
	n, err := s.purger.PurgeSessions(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired sessions purged", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}
