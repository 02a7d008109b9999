package history

import (
	"context"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerConfig tunes the circuit breaker placed in front of a remote sink.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32        // consecutive failures that open the circuit
	Timeout          time.Duration // open period before probing again
	Logger           *slog.Logger
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Name == "" {
		c.Name = "history"
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Breaker fails fast while the wrapped sink keeps failing, so an unreachable
// backend does not stall the monitor or the control API.
type Breaker struct {
	next Sink
	cb   *gobreaker.CircuitBreaker[struct{}]
}

func NewBreaker(next Sink, cfg BreakerConfig) *Breaker {
	cfg = cfg.withDefaults()
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if cfg.Logger != nil {
				cfg.Logger.Warn("history sink circuit changed", "sink", name, "from", from.String(), "to", to.String())
			}
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker[struct{}](settings)}
}

func (b *Breaker) Send(ctx context.Context, e Event) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.Send(ctx, e)
	})
	return err
}

// State reports the breaker state: closed, half-open or open.
func (b *Breaker) State() string { return b.cb.State().String() }

func (b *Breaker) Close() error { return Close(b.next) }
