// Package refreshjob runs the scheduled maintenance jobs: the hourly
// token-refresh sweep and the daily state cleanup.
package refreshjob

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/showdeck/cloudconnect/internal/connection"
	"github.com/showdeck/cloudconnect/internal/oauthflow"
	"github.com/showdeck/cloudconnect/internal/provider"
)

const (
	// DefaultExpiryWindow: only tokens expiring within this window (or
	// already expired) are refreshed, to keep provider call volume down.
	DefaultExpiryWindow = 30 * time.Minute

	// failureCeiling deactivates a connection after this many consecutive
	// unclassified failures.
	failureCeiling = 15

	// Graduated backoff for unclassified failures: once the counter
	// passes a tier, the sweep leaves the connection alone until the
	// tier's wait has elapsed since the last failure.
	backoffTier1Count = 5
	backoffTier1Wait  = 3 * time.Hour
	backoffTier2Count = 10
	backoffTier2Wait  = 6 * time.Hour
)

// Summary is the outcome of one sweep run.
type Summary struct {
	Refreshed   int
	Skipped     int
	Deactivated int
	Failed      int
}

// Sweeper proactively refreshes tokens nearing expiry across all
// organizations and providers.
type Sweeper struct {
	registry *provider.Registry
	conns    connection.Store
	svc      *oauthflow.Service
	window   time.Duration
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
}

// NewSweeper creates the refresh sweeper. window <= 0 selects the default
// 30-minute expiry window.
func NewSweeper(registry *provider.Registry, conns connection.Store, svc *oauthflow.Service, window, interval time.Duration, log *zap.Logger) *Sweeper {
	if window <= 0 {
		window = DefaultExpiryWindow
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		registry: registry,
		conns:    conns,
		svc:      svc,
		window:   window,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// Start runs the sweep on a jittered ticker until the context is
// canceled. The initial delay spreads load when several instances start
// together.
func (s *Sweeper) Start(ctx context.Context) {
	initial := time.Duration(rand.Int63n(int64(s.interval / 10)))
	select {
	case <-ctx.Done():
		return
	case <-time.After(initial):
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.Run(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Run performs one sweep over every provider × organization pair. Each
// pair is processed independently: one failure never stops the rest, and
// every connection update is a single document write so a killed run
// resumes cleanly on the next tick.
func (s *Sweeper) Run(ctx context.Context) Summary {
	var sum Summary
	for _, providerName := range s.registry.OAuth2Names() {
		orgs, err := s.conns.ListOrganizations(ctx, providerName)
		if err != nil {
			s.log.Error("listing organizations", zap.String("provider", providerName), zap.Error(err))
			sum.Failed++
			continue
		}
		for _, org := range orgs {
			s.sweepOne(ctx, providerName, org, &sum)
		}
	}
	s.log.Info("refresh sweep complete",
		zap.Int("refreshed", sum.Refreshed),
		zap.Int("skipped", sum.Skipped),
		zap.Int("deactivated", sum.Deactivated),
		zap.Int("failed", sum.Failed))
	return sum
}

func (s *Sweeper) sweepOne(ctx context.Context, providerName, organizationID string, sum *Summary) {
	log := s.log.With(zap.String("provider", providerName), zap.String("organization_id", organizationID))

	conn, err := s.conns.Get(ctx, organizationID, providerName)
	if err != nil {
		log.Error("loading connection", zap.Error(err))
		sum.Failed++
		return
	}
	if conn == nil || !conn.IsActive {
		sum.Skipped++
		refreshSkips.WithLabelValues(providerName, "inactive").Inc()
		return
	}

	now := s.now()
	if conn.TokenExpiresAt != nil && conn.TokenExpiresAt.Sub(now) > s.window {
		sum.Skipped++
		refreshSkips.WithLabelValues(providerName, "not_expiring").Inc()
		return
	}
	if conn.RefreshTokenEnc == "" {
		log.Warn("active connection has no refresh token")
		sum.Skipped++
		refreshSkips.WithLabelValues(providerName, "no_refresh_token").Inc()
		return
	}
	if s.inBackoff(conn, now) {
		sum.Skipped++
		refreshSkips.WithLabelValues(providerName, "backoff").Inc()
		return
	}

	refreshAttempts.WithLabelValues(providerName).Inc()
	err = s.svc.RefreshConnection(ctx, organizationID, providerName)
	if err == nil {
		sum.Refreshed++
		return
	}

	class := Classify(err)
	refreshFailures.WithLabelValues(providerName, class.String()).Inc()
	conn.LastError = err.Error()
	errAt := now
	conn.LastErrorAt = &errAt

	switch class {
	case ClassTransient:
		// The provider's or the network's flakiness is not the
		// connection's fault: no counter, stays active.
		log.Warn("transient refresh failure", zap.Error(err))
		sum.Failed++

	case ClassPermanent:
		log.Warn("permanent refresh failure, deactivating", zap.Error(err))
		conn.IsActive = false
		conn.RequiresReconnection = true
		sum.Deactivated++

	default:
		conn.ConsecutiveFailures++
		if conn.ConsecutiveFailures >= failureCeiling {
			log.Warn("failure ceiling reached, deactivating",
				zap.Int("consecutive_failures", conn.ConsecutiveFailures), zap.Error(err))
			conn.IsActive = false
			conn.RequiresReconnection = false
			sum.Deactivated++
		} else {
			log.Warn("refresh failure",
				zap.Int("consecutive_failures", conn.ConsecutiveFailures), zap.Error(err))
			sum.Failed++
		}
	}

	if err := s.conns.Put(ctx, conn); err != nil {
		log.Error("saving failure bookkeeping", zap.Error(err))
		sum.Failed++
	}
}

// inBackoff applies the graduated backoff for connections with repeated
// unclassified failures, so a persistently broken provider is not hammered
// every hour for days.
func (s *Sweeper) inBackoff(c *connection.Connection, now time.Time) bool {
	if c.LastErrorAt == nil {
		return false
	}
	since := now.Sub(*c.LastErrorAt)
	if c.ConsecutiveFailures >= backoffTier2Count {
		return since < backoffTier2Wait
	}
	if c.ConsecutiveFailures >= backoffTier1Count {
		return since < backoffTier1Wait
	}
	return false
}
