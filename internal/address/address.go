// Package address stores the shipping addresses buyers choose at checkout.
package address

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/marketplace-orders/internal/apperr"
	"github.com/google/uuid"
)

var (
	ErrAddressNotFound = fmt.Errorf("%w: address not found", apperr.ErrNotFound)
	ErrInvalidAddress  = fmt.Errorf("%w: invalid address", apperr.ErrValidation)
)

type Address struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	FullName   string    `json:"full_name" db:"full_name"`
	Phone      string    `json:"phone" db:"phone"`
	Line1      string    `json:"line1" db:"line1"`
	Line2      string    `json:"line2" db:"line2"`
	City       string    `json:"city" db:"city"`
	State      string    `json:"state" db:"state"`
	PostalCode string    `json:"postal_code" db:"postal_code"`
	Country    string    `json:"country" db:"country"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Validate checks that every required field is filled in
func (a *Address) Validate() error {
	required := []struct{ name, value string }{
		{"user_id", a.UserID},
		{"full_name", a.FullName},
		{"phone", a.Phone},
		{"line1", a.Line1},
		{"city", a.City},
		{"state", a.State},
		{"postal_code", a.PostalCode},
		{"country", a.Country},
	}
	var missing []string
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidAddress, strings.Join(missing, ", "))
	}
	return nil
}

// Book looks up and stores addresses. GetAddress only returns an address that
// belongs to userID; anything else is ErrAddressNotFound.
type Book interface {
	GetAddress(ctx context.Context, addressID, userID string) (*Address, error)
	Save(ctx context.Context, a *Address) (*Address, error)
	ListByUser(ctx context.Context, userID string) ([]Address, error)
}

// prepare validates a and fills in the server-owned fields.
func prepare(a *Address) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return nil
}

// MemoryBook is an in-process Book
type MemoryBook struct {
	mu        sync.RWMutex
	addresses map[string]Address
}

func NewMemoryBook() *MemoryBook {
	return &MemoryBook{addresses: make(map[string]Address)}
}

func (b *MemoryBook) GetAddress(_ context.Context, addressID, userID string) (*Address, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	a, ok := b.addresses[addressID]
	if !ok || a.UserID != userID {
		return nil, ErrAddressNotFound
	}
	return &a, nil
}

func (b *MemoryBook) Save(_ context.Context, a *Address) (*Address, error) {
	saved := *a
	if err := prepare(&saved); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.addresses[saved.ID]; ok && existing.UserID != saved.UserID {
		return nil, ErrAddressNotFound
	}
	b.addresses[saved.ID] = saved
	return &saved, nil
}

func (b *MemoryBook) ListByUser(_ context.Context, userID string) ([]Address, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Address
	for _, a := range b.addresses {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
