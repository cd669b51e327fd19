package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/mailing-api/pkg/logger"
)

// Refresher is the part of the mailing service the sweeper drives.
type Refresher interface {
	RefreshAll(ctx context.Context) (int, error)
}

// StatusSweeper periodically re-derives every mailing's status so stored
// values stay current between reads.
type StatusSweeper struct {
	mailings Refresher
	interval time.Duration
	logger   *logger.Logger
}

func NewStatusSweeper(mailings Refresher, interval time.Duration, logger *logger.Logger) *StatusSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &StatusSweeper{
		mailings: mailings,
		interval: interval,
		logger:   logger,
	}
}

func (w *StatusSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns how many mailings changed status.
func (w *StatusSweeper) Sweep(ctx context.Context) int {
	changed, err := w.mailings.RefreshAll(ctx)
	if err != nil {
		w.logger.Error(err, "status sweep failed", "changed", changed)
		return changed
	}
	if changed > 0 {
		w.logger.Info("mailing statuses refreshed", "changed", changed)
	}
	return changed
}
