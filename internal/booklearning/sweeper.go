package booklearning

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
)

// StaleReason is recorded on books failed by the sweeper.
const StaleReason = "stale: no progress heartbeat"

// Sweeper periodically fails books stuck in processing whose heartbeat is
// older than staleAfter.
type Sweeper struct {
	store      Store
	expr       *cronexpr.Expression
	staleAfter time.Duration
	now        func() time.Time
	logger     *log.Logger
}

// NewSweeper parses the cron schedule.
func NewSweeper(st Store, schedule string, staleAfter time.Duration, logger *log.Logger) (*Sweeper, error) {
	expr, err := cronexpr.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", schedule, err)
	}
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[SWEEP] ", log.LstdFlags)
	}
	return &Sweeper{store: st, expr: expr, staleAfter: staleAfter, now: time.Now, logger: logger}, nil
}

// Start runs the sweeper until ctx ends.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		for {
			next := s.expr.Next(s.now())
			if next.IsZero() {
				s.logger.Printf("warn: schedule has no future run, sweeper stopping")
				return
			}
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				if _, err := s.Sweep(ctx); err != nil {
					s.logger.Printf("warn: sweep failed: %v", err)
				}
			}
		}
	}()
}

// Sweep fails every stale book once and returns how many were failed.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.staleAfter)
	n, err := s.store.FailStaleBooks(ctx, cutoff, StaleReason)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Printf("failed %d stale books (heartbeat before %s)", n, cutoff.Format(time.RFC3339))
		recordStale(ctx, n)
	}
	return n, nil
}
