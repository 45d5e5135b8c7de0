package address

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PostgresBook keeps addresses in the addresses table
type PostgresBook struct {
	db *sqlx.DB
}

func NewPostgresBook(db *sqlx.DB) *PostgresBook {
	return &PostgresBook{db: db}
}

func (b *PostgresBook) GetAddress(ctx context.Context, addressID, userID string) (*Address, error) {
	var a Address
	query := `SELECT * FROM addresses WHERE id = $1 AND user_id = $2 LIMIT 1`
	if err := b.db.GetContext(ctx, &a, query, addressID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAddressNotFound
		}
		return nil, fmt.Errorf("failed to get address: %w", err)
	}
	return &a, nil
}

// Save inserts a new address or updates one the same user already owns.
func (b *PostgresBook) Save(ctx context.Context, a *Address) (*Address, error) {
	saved := *a
	if err := prepare(&saved); err != nil {
		return nil, err
	}

	query := `
        INSERT INTO addresses (id, user_id, full_name, phone, line1, line2, city, state, postal_code, country, created_at)
        VALUES (:id, :user_id, :full_name, :phone, :line1, :line2, :city, :state, :postal_code, :country, :created_at)
        ON CONFLICT (id) DO UPDATE SET
            full_name = EXCLUDED.full_name,
            phone = EXCLUDED.phone,
            line1 = EXCLUDED.line1,
            line2 = EXCLUDED.line2,
            city = EXCLUDED.city,
            state = EXCLUDED.state,
            postal_code = EXCLUDED.postal_code,
            country = EXCLUDED.country
        WHERE addresses.user_id = EXCLUDED.user_id
    `
	res, err := b.db.NamedExecContext(ctx, query, &saved)
	if err != nil {
		return nil, fmt.Errorf("failed to save address: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrAddressNotFound
	}
	return &saved, nil
}

func (b *PostgresBook) ListByUser(ctx context.Context, userID string) ([]Address, error) {
	var out []Address
	query := `SELECT * FROM addresses WHERE user_id = $1 ORDER BY created_at ASC`
	if err := b.db.SelectContext(ctx, &out, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}
	return out, nil
}
