package services

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"wzslicense/internal/notify"
)

// Pinger is a dependency whose reachability gates readiness
type Pinger interface {
	Ping(ctx context.Context) error
}

// DispatcherStatser reports notification dispatcher counters
type DispatcherStatser interface {
	Stats() notify.DispatcherStats
}

// HealthService provides health check functionality
type HealthService struct {
	version     string
	store       Pinger
	dispatcher  DispatcherStatser
	pingTimeout time.Duration
	startTime   time.Time
	logger      *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Runtime   map[string]interface{} `json:"runtime,omitempty"`
	Services  map[string]interface{} `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// NewHealthService creates a health service. dispatcher may be nil.
func NewHealthService(version string, store Pinger, dispatcher DispatcherStatser, pingTimeout time.Duration, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	if pingTimeout <= 0 {
		pingTimeout = 2 * time.Second
	}
	return &HealthService{
		version:     version,
		store:       store,
		dispatcher:  dispatcher,
		pingTimeout: pingTimeout,
		startTime:   time.Now(),
		logger:      logger.With(slog.String("service", "health")),
	}
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   hs.version,
	}
}

// ReadinessCheck pings the store. The service is not ready without it.
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   hs.version,
		Services:  make(map[string]interface{}),
	}

	store := hs.checkStore(ctx)
	status.Services["store"] = store
	if store.Status != "ready" {
		status.Status = "not_ready"
	}

	if hs.dispatcher != nil {
		status.Services["notifications"] = hs.dispatcher.Stats()
	}
	return status
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   hs.version,
		Runtime: map[string]interface{}{
			"uptime":     time.Since(hs.startTime).Seconds(),
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

func (hs *HealthService) checkStore(ctx context.Context) ServiceHealth {
	if hs.store == nil {
		return ServiceHealth{Status: "not_ready", Message: "store not configured"}
	}
	pctx, cancel := context.WithTimeout(ctx, hs.pingTimeout)
	defer cancel()

	start := time.Now()
	if err := hs.store.Ping(pctx); err != nil {
		hs.logger.WarnContext(ctx, "store ping failed", slog.String("error", err.Error()))
		return ServiceHealth{Status: "not_ready", Message: err.Error()}
	}
	return ServiceHealth{Status: "ready", Latency: time.Since(start).String()}
}
