package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
	// StatusDisabled marks an optional component that is not configured.
	StatusDisabled Status = "disabled"
)

type ComponentHealth struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type HealthResponse struct {
	Status     Status                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// Probe is one readiness check. A failing required probe makes the service
// unhealthy; a failing optional one only degrades it.
type Probe struct {
	Name     string
	Optional bool
	// Message is reported when Check fails.
	Message string
	// Check is nil when the component is not configured.
	Check func(ctx context.Context) error
}

type CheckerConfig struct {
	DB *sql.DB
	// Redis is optional; a nil client reports the cache as disabled.
	Redis   *redis.Client
	Version string
	Timeout time.Duration
	// Probes are checked alongside the database and redis.
	Probes []Probe
}

// Checker reports liveness and readiness of the API and its backing stores.
type Checker struct {
	probes       []Probe
	version      string
	checkTimeout time.Duration
	now          func() time.Time
}

func NewChecker(cfg *CheckerConfig) *Checker {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	probes := []Probe{databaseProbe(cfg.DB), redisProbe(cfg.Redis)}
	probes = append(probes, cfg.Probes...)

	return &Checker{
		probes:       probes,
		version:      cfg.Version,
		checkTimeout: timeout,
		now:          time.Now,
	}
}

func databaseProbe(db *sql.DB) Probe {
	p := Probe{Name: "database", Message: "database ping failed"}
	if db != nil {
		p.Check = func(ctx context.Context) error {
			if err := db.PingContext(ctx); err != nil {
				return err
			}
			var one int
			return db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
		}
	}
	return p
}

// The API keeps serving trivia without the category cache.
func redisProbe(client *redis.Client) Probe {
	p := Probe{Name: "redis", Optional: true, Message: "redis ping failed"}
	if client != nil {
		p.Check = func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}
	}
	return p
}

func (c *Checker) run(ctx context.Context, p Probe) ComponentHealth {
	if p.Check == nil {
		if p.Optional {
			return ComponentHealth{Status: StatusDisabled, Message: p.Name + " not configured"}
		}
		return ComponentHealth{Status: StatusUnhealthy, Message: p.Name + " not configured"}
	}

	start := c.now()
	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	if err := p.Check(ctx); err != nil {
		status := StatusUnhealthy
		if p.Optional {
			status = StatusDegraded
		}
		return ComponentHealth{Status: status, Message: p.Message, Duration: time.Since(start).String()}
	}
	return ComponentHealth{Status: StatusHealthy, Duration: time.Since(start).String()}
}

// Check performs a liveness check.
func (c *Checker) Check(ctx context.Context) *HealthResponse {
	return &HealthResponse{
		Status:    StatusHealthy,
		Timestamp: c.now().UTC().Format(time.RFC3339),
		Version:   c.version,
	}
}

// DeepCheck runs every probe in parallel.
func (c *Checker) DeepCheck(ctx context.Context) *HealthResponse {
	response := &HealthResponse{
		Status:     StatusHealthy,
		Timestamp:  c.now().UTC().Format(time.RFC3339),
		Version:    c.version,
		Components: make(map[string]ComponentHealth, len(c.probes)),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, p := range c.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()
			result := c.run(ctx, p)
			mu.Lock()
			response.Components[p.Name] = result
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	for _, comp := range response.Components {
		switch comp.Status {
		case StatusUnhealthy:
			response.Status = StatusUnhealthy
		case StatusDegraded:
			if response.Status == StatusHealthy {
				response.Status = StatusDegraded
			}
		}
	}

	return response
}

type Handler struct {
	checker *Checker
}

func NewHandler(checker *Checker) *Handler {
	return &Handler{checker: checker}
}

// LivenessHandler answers GET /health/live.
func (h *Handler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, h.checker.Check(r.Context()))
}

// ReadinessHandler answers GET /health/ready.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, h.checker.DeepCheck(r.Context()))
}

// HealthHandler answers GET /health; ?deep=true runs the readiness checks.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("deep") == "true" {
		h.ReadinessHandler(w, r)
		return
	}
	h.LivenessHandler(w, r)
}

func writeResponse(w http.ResponseWriter, response *HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	status := http.StatusOK
	if response.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}
