package availability

import (
	"context"
	"fmt"
	"time"
)

const defaultSweepBatch = 500

// Sweeper periodically heals expired holds that no reader has touched.
type Sweeper struct {
	Reconciler *Reconciler
	Interval   time.Duration
	Batch      int
}

func NewSweeper(r *Reconciler, interval time.Duration) *Sweeper {
	return &Sweeper{Reconciler: r, Interval: interval, Batch: defaultSweepBatch}
}

// Run sweeps every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	log := s.Reconciler.Logger
	if s.Interval <= 0 {
		log.Info("SWEEPER", "Hold sweeper disabled")
		return
	}
	log.Info("SWEEPER", fmt.Sprintf("Hold sweeper running every %s", s.Interval))

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("SWEEPER", "Hold sweeper stopped")
			return
		case <-ticker.C:
			n, err := s.Reconciler.Sweep(ctx, "", time.Now(), s.Batch)
			if err != nil {
				log.Error("SWEEPER", fmt.Sprintf("Sweep failed: %v", err))
				continue
			}
			if n > 0 {
				log.Info("SWEEPER", fmt.Sprintf("Sweep healed %d seats", n))
			}
		}
	}
}
