package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/marketplace-orders/internal/readmodel"
	"github.com/lib/pq"
)

// PostgresReadStore keeps order read models in read_orders
type PostgresReadStore struct {
	db *sql.DB
}

func NewPostgresReadStore(db *sql.DB) *PostgresReadStore {
	return &PostgresReadStore{db: db}
}

const orderColumns = `id, user_id, seller_ids, items, summary, status, payment_method, payment_status,
	cart_total, tracking_number, cancel_reason, return_reason, created_at, updated_at, version`

func (rs *PostgresReadStore) SaveOrder(ctx context.Context, o *readmodel.OrderReadModel) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal items: %w", err)
	}
	summaryJSON, err := json.Marshal(o.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	_, err = rs.db.ExecContext(ctx, `
		INSERT INTO read_orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			seller_ids = EXCLUDED.seller_ids,
			items = EXCLUDED.items,
			summary = EXCLUDED.summary,
			status = EXCLUDED.status,
			payment_method = EXCLUDED.payment_method,
			payment_status = EXCLUDED.payment_status,
			cart_total = EXCLUDED.cart_total,
			tracking_number = EXCLUDED.tracking_number,
			cancel_reason = EXCLUDED.cancel_reason,
			return_reason = EXCLUDED.return_reason,
			updated_at = EXCLUDED.updated_at,
			version = EXCLUDED.version
		WHERE read_orders.version < EXCLUDED.version
	`, o.ID, o.UserID, pq.Array(o.SellerIDs), itemsJSON, summaryJSON, o.Status, o.PaymentMethod, o.PaymentStatus,
		o.CartTotal, o.TrackingNumber, o.CancelReason, o.ReturnReason, o.CreatedAt, o.UpdatedAt, o.Version)
	if err != nil {
		return fmt.Errorf("failed to save order read model: %w", err)
	}
	return nil
}

func (rs *PostgresReadStore) GetOrder(ctx context.Context, id string) (*readmodel.OrderReadModel, error) {
	row := rs.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM read_orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReadModelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order read model: %w", err)
	}
	return o, nil
}

func (rs *PostgresReadStore) ListOrdersByUser(ctx context.Context, userID string, page Page) ([]readmodel.OrderReadModel, error) {
	return rs.list(ctx, `WHERE user_id = $1`, userID, page)
}

func (rs *PostgresReadStore) ListOrdersBySeller(ctx context.Context, sellerID string, page Page) ([]readmodel.OrderReadModel, error) {
	return rs.list(ctx, `WHERE $1 = ANY(seller_ids)`, sellerID, page)
}

func (rs *PostgresReadStore) list(ctx context.Context, where, arg string, page Page) ([]readmodel.OrderReadModel, error) {
	page = page.Normalize()
	rows, err := rs.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM read_orders `+where+`
		ORDER BY created_at DESC, id ASC
		LIMIT $2 OFFSET $3
	`, arg, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []readmodel.OrderReadModel
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*readmodel.OrderReadModel, error) {
	var o readmodel.OrderReadModel
	var itemsJSON, summaryJSON []byte
	err := row.Scan(&o.ID, &o.UserID, pq.Array(&o.SellerIDs), &itemsJSON, &summaryJSON, &o.Status,
		&o.PaymentMethod, &o.PaymentStatus, &o.CartTotal, &o.TrackingNumber, &o.CancelReason,
		&o.ReturnReason, &o.CreatedAt, &o.UpdatedAt, &o.Version)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(summaryJSON, &o.Summary); err != nil {
		return nil, err
	}
	return &o, nil
}
