// Package payment charges orders paid online. Cash-on-delivery orders never
// reach a gateway.
package payment

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/example/marketplace-orders/internal/apperr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Method string

const (
	MethodCOD    Method = "COD"
	MethodOnline Method = "ONLINE"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

var (
	ErrInvalidMethod = fmt.Errorf("%w: payment method must be COD or ONLINE", apperr.ErrValidation)
	ErrInvalidAmount = fmt.Errorf("%w: charge amount must be positive", apperr.ErrValidation)
)

// ParseMethod accepts a method name in any case
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToUpper(strings.TrimSpace(s))) {
	case MethodCOD:
		return MethodCOD, nil
	case MethodOnline:
		return MethodOnline, nil
	}
	return "", ErrInvalidMethod
}

// ChargeRequest asks for one charge. Requests sharing an IdempotencyKey
// capture money at most once.
type ChargeRequest struct {
	OrderID        string
	IdempotencyKey string
	Amount         decimal.Decimal
	Method         Method
}

// Result is the gateway's answer to a charge. A declined charge is a Result
// with StatusFailed, not an error; errors mean the gateway could not answer.
type Result struct {
	Status        Status
	TransactionID string
	Reason        string
}

// Completed reports whether the charge went through with a confirmation
func (r *Result) Completed() bool {
	return r != nil && r.Status == StatusCompleted && r.TransactionID != ""
}

type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*Result, error)
}

// Decider decides whether a simulated charge is approved
type Decider interface {
	Decide(req ChargeRequest) (approved bool, reason string)
}

// ApproveAll approves every charge
type ApproveAll struct{}

func (ApproveAll) Decide(ChargeRequest) (bool, string) { return true, "" }

// RandomDecider approves roughly ApprovalRate percent of charges
type RandomDecider struct {
	ApprovalRate int
}

func (d RandomDecider) Decide(ChargeRequest) (bool, string) {
	if rand.Intn(100) < d.ApprovalRate {
		return true, ""
	}
	return false, "card declined"
}

// SimulatedGateway stands in for a real processor. A completed charge is
// remembered by idempotency key and replayed for repeated requests; declines
// are not remembered.
type SimulatedGateway struct {
	decider Decider

	mu       sync.Mutex
	captured map[string]Result
}

func NewSimulatedGateway(decider Decider) *SimulatedGateway {
	if decider == nil {
		decider = ApproveAll{}
	}
	return &SimulatedGateway{decider: decider, captured: make(map[string]Result)}
}

func (g *SimulatedGateway) Charge(ctx context.Context, req ChargeRequest) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if req.IdempotencyKey != "" {
		if prev, ok := g.captured[req.IdempotencyKey]; ok {
			return &prev, nil
		}
	}

	if approved, reason := g.decider.Decide(req); !approved {
		return &Result{Status: StatusFailed, Reason: reason}, nil
	}
	res := Result{Status: StatusCompleted, TransactionID: "TXN-" + uuid.New().String()}
	if req.IdempotencyKey != "" {
		g.captured[req.IdempotencyKey] = res
	}
	return &res, nil
}
