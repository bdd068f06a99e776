// Package scheduler drives periodic drains of the sync queue.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/yuchia/localledger/internal/logging"
	"github.com/yuchia/localledger/internal/sync/queue"
)

// Config holds scheduler intervals.
type Config struct {
	// Interval between drain passes while online.
	Interval time.Duration
	// OfflineInterval between connectivity probes while offline.
	OfflineInterval time.Duration
	// BatchSize bounds one drain pass.
	BatchSize int
}

// DefaultConfig returns the stock intervals.
func DefaultConfig() Config {
	return Config{
		Interval:        30 * time.Second,
		OfflineInterval: 5 * time.Minute,
		BatchSize:       50,
	}
}

// Scheduler periodically runs the dispatcher over ready queue items.
// While marked offline it idles at a slower cadence instead of burning
// retries against an unreachable server.
type Scheduler struct {
	dispatcher *queue.Dispatcher
	syncFn     queue.SyncFunc
	cfg        Config

	mu       sync.Mutex
	online   bool
	running  bool
	lastPass time.Time
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates a Scheduler. The scheduler starts in the online state.
func New(dispatcher *queue.Dispatcher, syncFn queue.SyncFunc, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.OfflineInterval <= 0 {
		cfg.OfflineInterval = DefaultConfig().OfflineInterval
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &Scheduler{
		dispatcher: dispatcher,
		syncFn:     syncFn,
		cfg:        cfg,
		online:     true,
	}
}

// Start launches the drain loop. Idempotent while running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(ctx)
	logging.Info("sync scheduler started", map[string]interface{}{
		"interval": s.cfg.Interval.String(),
	})
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.done
	s.mu.Unlock()

	<-done
	logging.Info("sync scheduler stopped", nil)
}

// SetOnline flips the connectivity state. Going online triggers an
// immediate pass on the next tick by shortening the wait.
func (s *Scheduler) SetOnline(online bool) {
	s.mu.Lock()
	changed := s.online != online
	s.online = online
	s.mu.Unlock()

	if changed {
		logging.Info("connectivity changed", map[string]interface{}{"online": online})
	}
}

// Online reports the current connectivity state.
func (s *Scheduler) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// LastPass returns when the last drain pass completed.
func (s *Scheduler) LastPass() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPass
}

// RunNow performs one drain pass immediately, regardless of cadence.
func (s *Scheduler) RunNow(ctx context.Context) (*queue.ProcessResult, error) {
	result, err := s.dispatcher.ProcessReady(ctx, s.cfg.BatchSize, s.syncFn)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.lastPass = time.Now()
	s.mu.Unlock()
	return result, nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	for {
		interval := s.cfg.Interval
		if !s.Online() {
			interval = s.cfg.OfflineInterval
		}

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-time.After(interval):
		}

		if !s.Online() {
			continue
		}
		if _, err := s.RunNow(ctx); err != nil {
			logging.Error("scheduled drain pass failed", err, nil)
		}
	}
}
