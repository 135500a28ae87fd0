package serve

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	relay "github.com/halden1427/gorelay"
	"github.com/robfig/cron/v3"
)

// healthCheckSchedule probes every backend once a minute.
const healthCheckSchedule = "* * * * *"

// HealthScheduler runs periodic backend health checks, persists usage
// snapshots, and publishes the results to dashboard subscribers.
type HealthScheduler struct {
	c       *cron.Cron
	router  *relay.Router
	tracker *relay.QuotaTracker
	store   Store
	broker  *EventBroker
}

// NewHealthScheduler creates a HealthScheduler. broker may be nil when
// no dashboard is running.
func NewHealthScheduler(router *relay.Router, tracker *relay.QuotaTracker, store Store, broker *EventBroker) *HealthScheduler {
	return &HealthScheduler{
		c:       cron.New(),
		router:  router,
		tracker: tracker,
		store:   store,
		broker:  broker,
	}
}

// Start runs one check round immediately, then begins the cron runner
// and blocks until ctx is cancelled.
func (s *HealthScheduler) Start(ctx context.Context) error {
	if _, err := s.c.AddFunc(healthCheckSchedule, func() { s.run(context.Background()) }); err != nil {
		return fmt.Errorf("schedule health checks: %w", err)
	}

	s.run(ctx)

	s.c.Start()
	slog.Info("health scheduler started", "schedule", healthCheckSchedule)
	<-ctx.Done()
	s.c.Stop()
	slog.Info("health scheduler stopped")
	return nil
}

// run executes one round of health checks and records the results.
func (s *HealthScheduler) run(ctx context.Context) {
	results := s.router.RunHealthChecks(ctx)
	status := s.router.Status()
	now := time.Now()

	for name, healthy := range results {
		requests, tokens := s.tracker.Usage(name)
		fraction := s.tracker.UsageFraction(name)

		err := s.store.InsertUsageSnapshot(UsageSnapshot{
			Backend:         name,
			Healthy:         healthy,
			LatencyMs:       status[name].LatencyMs,
			Requests:        requests,
			Tokens:          tokens,
			RequestFraction: fraction.Requests,
			TokenFraction:   fraction.Tokens,
			SnapshotAt:      now,
		})
		if err != nil {
			slog.Warn("usage snapshot failed", "backend", name, "error", err)
		}

		if !healthy {
			slog.Warn("health check failed", "backend", name, "error", status[name].LastError)
		}
	}

	if s.broker != nil {
		s.broker.Publish(BrokerEvent{
			Type:      "health",
			Data:      results,
			Timestamp: now,
		})
	}
}
