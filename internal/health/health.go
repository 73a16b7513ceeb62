package health

import (
	"context"
	"fmt"
	"time"

	"helios/monitor/internal/config"
)

// Pinger is the slice of the store needed for the database check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type CheckResult struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

type HealthStatus struct {
	OK        bool          `json:"ok"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (h HealthStatus) String() string {
	status := "OK"
	if !h.OK {
		status = "FAIL"
	}
	s := fmt.Sprintf("Health: %s\n", status)
	for _, c := range h.Checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		s += fmt.Sprintf("  %s %s (%dms)", mark, c.Name, c.Latency.Milliseconds())
		if c.Error != "" {
			s += fmt.Sprintf(" - %s", c.Error)
		}
		s += "\n"
	}
	return s
}

// CheckAll runs all health checks and returns combined status
func CheckAll(ctx context.Context, db Pinger, cfg config.Config) HealthStatus {
	checks := []CheckResult{
		checkDatabase(ctx, db),
		checkRecognizer(cfg),
	}

	allOK := true
	for _, c := range checks {
		if !c.OK {
			allOK = false
		}
	}

	return HealthStatus{
		OK:        allOK,
		Checks:    checks,
		CheckedAt: time.Now().UTC(),
	}
}

func checkDatabase(ctx context.Context, db Pinger) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "database"}

	if db == nil {
		result.Error = "store not configured"
		result.Latency = time.Since(start)
		return result
	}

	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := db.Ping(pctx); err != nil {
		result.Error = fmt.Sprintf("ping failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}

	result.Latency = time.Since(start)
	result.OK = true
	return result
}

// checkRecognizer only validates configuration. Opening a real stream
// per health probe would count against the recognizer quota.
func checkRecognizer(cfg config.Config) CheckResult {
	result := CheckResult{Name: "recognizer"}

	if cfg.Recognizer.URL == "" {
		result.Error = "RECOGNIZER_WS_URL not set"
		return result
	}
	if cfg.Recognizer.APIKey == "" {
		result.Error = "RECOGNIZER_API_KEY not set"
		return result
	}

	result.OK = true
	return result
}
