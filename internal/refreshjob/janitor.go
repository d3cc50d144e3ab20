package refreshjob

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/showdeck/cloudconnect/internal/oauthstate"
)

// Janitor periodically deletes expired OAuth state records.
type Janitor struct {
	states   oauthstate.Store
	interval time.Duration
	log      *zap.Logger
}

// NewJanitor creates the state-cleanup job. interval <= 0 selects the
// default 24 hours.
func NewJanitor(states oauthstate.Store, interval time.Duration, log *zap.Logger) *Janitor {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Janitor{states: states, interval: interval, log: log}
}

// Start runs the sweep on a ticker until the context is canceled.
func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		j.Run(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Run performs one cleanup sweep. Per-record failures are handled inside
// the store; only a failed scan surfaces here.
func (j *Janitor) Run(ctx context.Context) {
	deleted, err := j.states.SweepExpired(ctx)
	if err != nil {
		j.log.Error("state sweep failed", zap.Error(err))
		return
	}
	statesSwept.Add(float64(deleted))
	j.log.Info("state sweep complete", zap.Int("deleted", deleted))
}
