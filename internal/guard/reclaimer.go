package guard

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Reclaimer periodically releases locks older than the staleness threshold.
// It covers agent sessions that crashed or closed mid-call and never ended their attempt.
type Reclaimer struct {
	svc      *Service
	log      *slog.Logger
	interval time.Duration
	batch    int

	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
}

func NewReclaimer(svc *Service, interval time.Duration, log *slog.Logger) *Reclaimer {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reclaimer{svc: svc, log: log, interval: interval, batch: 100}
}

// Start begins the reclaim worker. It is a no-op if already running.
func (r *Reclaimer) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stop = make(chan struct{})
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(ctx, r.stop)
	r.log.Info("reclaimer started", "interval", r.interval.String())
}

// Stop halts the worker and waits for an in-progress pass to finish.
func (r *Reclaimer) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stop)
	r.mu.Unlock()

	r.wg.Wait()
	r.log.Info("reclaimer stopped")
}

func (r *Reclaimer) run(ctx context.Context, stop <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Run once immediately so locks left by a previous crash clear on boot.
	r.pass(ctx)

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pass(ctx)
		}
	}
}

func (r *Reclaimer) pass(ctx context.Context) {
	for {
		rep, err := r.svc.ReclaimStale(ctx, r.batch)
		if err != nil {
			r.log.Error("reclaim pass", "err", err, "reclaimed", rep.Reclaimed, "failed", rep.Failed)
			return
		}
		if rep.Reclaimed > 0 {
			r.log.Info("reclaim pass", "scanned", rep.Scanned, "reclaimed", rep.Reclaimed)
		}
		// a full batch may mean more are waiting
		if rep.Scanned < r.batch || ctx.Err() != nil {
			return
		}
	}
}
