package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Vesta/server/internal/vesta/store"
)

// DedupePruner periodically removes expired dedupe reservations from
// stores that do not expire keys on their own.  An interval of 0 disables
// it.
type DedupePruner struct {
	store    store.Pruner
	interval time.Duration
	logger   *zap.SugaredLogger
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewDedupePruner(s store.Pruner, interval time.Duration, l *zap.SugaredLogger) *DedupePruner {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	return &DedupePruner{
		store:    s,
		interval: interval,
		logger:   l,
		done:     make(chan struct{}),
	}
}

// Start prunes once, then on every interval until ctx is cancelled or Stop
// is called.
func (p *DedupePruner) Start(ctx context.Context) {
	if p.interval <= 0 || p.store == nil {
		p.logger.Infow("dedupe pruner disabled")
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)

	p.logger.Infow("dedupe pruner started", "interval", p.interval)
}

// Stop signals the pruner to exit and waits for it.
func (p *DedupePruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

func (p *DedupePruner) loop(ctx context.Context) {
	defer close(p.done)

	p.prune(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *DedupePruner) prune(ctx context.Context) {
	n, err := p.store.PruneExpired(ctx, time.Now().UTC())
	if err != nil {
		p.logger.Warnw("dedupe prune failed", "error", err)
		return
	}
	if n > 0 {
		p.logger.Debugw("dedupe prune", "removed", n)
	}
}
