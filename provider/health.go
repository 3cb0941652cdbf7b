package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/petal-labs/petalmcp/observe"
)

const defaultPingTimeout = 5 * time.Second

var healthScheduleParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// HealthMonitor pings every registered provider on a cron schedule. It
// only reports; tool lists are never refreshed.
type HealthMonitor struct {
	manager *Manager
	logger  *slog.Logger
	timeout time.Duration
	cron    *cron.Cron
}

// NewHealthMonitor parses schedule ("@every 30s", "*/5 * * * *", ...) and
// returns a stopped monitor.
func NewHealthMonitor(manager *Manager, schedule string, logger *slog.Logger) (*HealthMonitor, error) {
	clean := strings.TrimSpace(schedule)
	if clean == "" {
		return nil, fmt.Errorf("provider: health schedule is required")
	}
	parsed, err := healthScheduleParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("provider: invalid health schedule: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &HealthMonitor{
		manager: manager,
		logger:  logger,
		timeout: defaultPingTimeout,
		cron:    cron.New(cron.WithParser(healthScheduleParser)),
	}
	h.cron.Schedule(parsed, cron.FuncJob(func() { h.CheckAll(context.Background()) }))
	return h, nil
}

// Start begins the schedule.
func (h *HealthMonitor) Start() { h.cron.Start() }

// Stop halts the schedule and waits for a running check to finish.
func (h *HealthMonitor) Stop() {
	<-h.cron.Stop().Done()
}

// CheckAll pings every registered connection once and returns the
// providers that failed.
func (h *HealthMonitor) CheckAll(ctx context.Context) []string {
	var unhealthy []string
	for _, conn := range h.manager.Connections() {
		pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
		started := time.Now()
		err := conn.Ping(pingCtx)
		cancel()

		observe.Health(observe.HealthObservation{
			Provider:  conn.Name(),
			Duration:  time.Since(started),
			Healthy:   err == nil,
			ErrorKind: errorKind(err),
		})
		if err != nil {
			unhealthy = append(unhealthy, conn.Name())
			h.logger.Warn("provider health check failed", "provider", conn.Name(), "error", err)
			continue
		}
		h.logger.Debug("provider healthy", "provider", conn.Name())
	}
	return unhealthy
}
