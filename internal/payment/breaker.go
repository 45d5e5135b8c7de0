package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ErrGatewayUnavailable is returned while the breaker is open
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

type BreakerSettings struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	CallTimeout      time.Duration
}

// BreakerGateway trips after consecutive gateway errors. Declined charges do
// not count as failures.
type BreakerGateway struct {
	next        Gateway
	cb          *gobreaker.CircuitBreaker[*Result]
	callTimeout time.Duration
}

func NewBreakerGateway(next Gateway, s BreakerSettings, logger *zap.Logger) *BreakerGateway {
	log := logger.Named("payment")
	threshold := s.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	cb := gobreaker.NewCircuitBreaker[*Result](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("payment breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &BreakerGateway{next: next, cb: cb, callTimeout: s.CallTimeout}
}

func (g *BreakerGateway) Charge(ctx context.Context, req ChargeRequest) (*Result, error) {
	res, err := g.cb.Execute(func() (*Result, error) {
		callCtx := ctx
		if g.callTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.callTimeout)
			defer cancel()
		}
		return g.next.Charge(callCtx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return res, err
}

// State exposes the breaker state for health reporting
func (g *BreakerGateway) State() gobreaker.State {
	return g.cb.State()
}
