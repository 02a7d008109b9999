// Package health evaluates application health. A check kind is chosen once,
// when the application is registered, and evaluated on every monitor cycle
// and on demand from the control API.
package health

import (
	"context"
	"math"
	"strings"
	"time"
)

// Kind names a health check variant.
type Kind string

const (
	KindProcess Kind = "process"
	KindTCP     Kind = "tcp"
	KindHTTP    Kind = "http"
)

// ParseKind maps a manifest value to a Kind. Empty means process; anything
// unrecognised also yields process with ok=false so the caller can warn.
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindProcess:
		return KindProcess, true
	case KindTCP:
		return KindTCP, true
	case KindHTTP:
		return KindHTTP, true
	default:
		return KindProcess, false
	}
}

// Manifest defaults for a health block.
const (
	DefaultPort           = 8000
	DefaultEndpoint       = "/health"
	DefaultTimeout        = 5 * time.Second
	DefaultExpectedStatus = 200
)

// Config is the resolved health block of an application descriptor.
type Config struct {
	Kind           Kind
	Port           int
	Endpoint       string
	Timeout        time.Duration
	ExpectedStatus int
}

// WithDefaults fills zero fields with the manifest defaults.
func (c Config) WithDefaults() Config {
	if c.Kind == "" {
		c.Kind = KindProcess
	}
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if !strings.HasPrefix(c.Endpoint, "/") {
		c.Endpoint = "/" + c.Endpoint
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ExpectedStatus == 0 {
		c.ExpectedStatus = DefaultExpectedStatus
	}
	return c
}

// Status is the outcome tag of a health result.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusStopped   Status = "stopped"
	StatusUnknown   Status = "unknown"
)

// Result is the outcome of one health evaluation.
type Result struct {
	Status         Status     `json:"status"`
	ResponseTimeMS *float64   `json:"response_time_ms,omitempty"`
	StatusCode     int        `json:"status_code,omitempty"`
	Error          string     `json:"error,omitempty"`
	LastCheck      *time.Time `json:"last_check,omitempty"`
}

// Unknown is the result held before the first check completes.
func Unknown() Result { return Result{Status: StatusUnknown} }

// Stopped is returned whenever the application is not running.
func Stopped() Result { return Result{Status: StatusStopped} }

func unhealthy(reason string) Result {
	return Result{Status: StatusUnhealthy, Error: reason}
}

// Stamp returns a copy of r carrying the completion time.
func (r Result) Stamp(t time.Time) Result {
	r.LastCheck = &t
	return r
}

// millis converts d to milliseconds rounded to two decimals.
func millis(d time.Duration) *float64 {
	ms := math.Round(float64(d)/float64(time.Millisecond)*100) / 100
	return &ms
}

// Check is one health check variant bound to an application.
type Check interface {
	Kind() Kind
	Run(ctx context.Context) Result
}

// New builds the check variant for cfg. alive reports whether the
// application's process is running and backs the process variant.
func New(cfg Config, alive func() bool) Check {
	cfg = cfg.WithDefaults()
	switch cfg.Kind {
	case KindTCP:
		return TCPCheck{Port: cfg.Port, Timeout: cfg.Timeout}
	case KindHTTP:
		return HTTPCheck{Port: cfg.Port, Endpoint: cfg.Endpoint, Timeout: cfg.Timeout, ExpectedStatus: cfg.ExpectedStatus}
	default:
		return ProcessCheck{Alive: alive}
	}
}

// Evaluate runs check unless the application is not running, in which case
// the result is stopped and no probe is attempted.
func Evaluate(ctx context.Context, alive bool, check Check) Result {
	if !alive {
		return Stopped()
	}
	if check == nil {
		return Result{Status: StatusHealthy}
	}
	return check.Run(ctx)
}
