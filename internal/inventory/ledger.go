package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/seiixin/PakbetTV-sub001/internal/db"
	"github.com/seiixin/PakbetTV-sub001/internal/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger reserves and restores stock. Both operations must run inside the
// caller's transaction.
type Ledger interface {
	Reserve(ctx context.Context, q db.Querier, lines []Line) (*Reservation, error)
	Release(ctx context.Context, q db.Querier, orderID uint) (bool, error)
}

type ledger struct{}

func NewLedger() Ledger {
	return &ledger{}
}

const (
	lockProductQuery = `
		SELECT name, price, stock, category_id
		FROM products
		WHERE id = $1
		FOR UPDATE`

	lockVariantQuery = `
		SELECT p.name || ' - ' || v.name, v.price, v.stock, p.category_id
		FROM product_variants v
		JOIN products p ON p.id = v.product_id
		WHERE v.id = $1 AND v.product_id = $2
		FOR UPDATE OF v`
)

func (l *ledger) Reserve(ctx context.Context, q db.Querier, lines []Line) (*Reservation, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "inventory"),
		zap.String("method", "Reserve"),
		zap.Int("line_count", len(lines)),
	)

	// Lock rows in a fixed order so two checkouts sharing products cannot deadlock.
	sorted := make([]Line, len(lines))
	copy(sorted, lines)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ProductID != sorted[j].ProductID {
			return sorted[i].ProductID < sorted[j].ProductID
		}
		return variantKey(sorted[i].VariantID) < variantKey(sorted[j].VariantID)
	})

	res := &Reservation{Lines: make([]ReservedLine, 0, len(sorted))}

	for _, line := range sorted {
		reserved, err := l.reserveLine(ctx, q, line)
		if err != nil {
			var stockErr *InsufficientStockError
			if errors.As(err, &stockErr) {
				log.Info("reservation rejected",
					zap.Uint("product_id", line.ProductID),
					zap.Int("requested", stockErr.Requested),
					zap.Int("available", stockErr.Available),
				)
			} else {
				log.Error("reservation failed", zap.Uint("product_id", line.ProductID), zap.Error(err))
			}
			return nil, err
		}
		res.Lines = append(res.Lines, *reserved)
	}

	log.Debug("stock reserved")
	return res, nil
}

func (l *ledger) reserveLine(ctx context.Context, q db.Querier, line Line) (*ReservedLine, error) {
	var (
		name     string
		price    decimal.Decimal
		stock    int
		category sql.NullInt64
		row      *sql.Row
	)

	if line.VariantID != nil {
		row = q.QueryRowContext(ctx, lockVariantQuery, *line.VariantID, line.ProductID)
	} else {
		row = q.QueryRowContext(ctx, lockProductQuery, line.ProductID)
	}

	if err := row.Scan(&name, &price, &stock, &category); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %d", ErrProductNotFound, line.ProductID)
		}
		return nil, err
	}

	if stock < line.Quantity {
		return nil, &InsufficientStockError{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Name:      name,
			Requested: line.Quantity,
			Available: stock,
		}
	}

	var err error
	if line.VariantID != nil {
		_, err = q.ExecContext(ctx,
			`UPDATE product_variants SET stock = stock - $1 WHERE id = $2`,
			line.Quantity, *line.VariantID)
	} else {
		_, err = q.ExecContext(ctx,
			`UPDATE products SET stock = stock - $1, updated_at = NOW() WHERE id = $2`,
			line.Quantity, line.ProductID)
	}
	if err != nil {
		return nil, err
	}

	reserved := &ReservedLine{
		ProductID: line.ProductID,
		VariantID: line.VariantID,
		Name:      name,
		Quantity:  line.Quantity,
		UnitPrice: price,
	}
	if category.Valid {
		c := uint(category.Int64)
		reserved.CategoryID = &c
	}
	return reserved, nil
}

// Release restores stock for every item of a cancelled order. The
// stock_released flag makes a second call a no-op.
func (l *ledger) Release(ctx context.Context, q db.Querier, orderID uint) (bool, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "inventory"),
		zap.String("method", "Release"),
		zap.Uint("order_id", orderID),
	)

	res, err := q.ExecContext(ctx, `
		UPDATE orders
		SET stock_released = TRUE, updated_at = NOW()
		WHERE id = $1 AND status = 'cancelled' AND stock_released = FALSE
	`, orderID)
	if err != nil {
		log.Error("failed to flag stock release", zap.Error(err))
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		log.Debug("stock already released or order not cancelled")
		return false, nil
	}

	if _, err := q.ExecContext(ctx, `
		UPDATE products p
		SET stock = p.stock + oi.quantity, updated_at = NOW()
		FROM order_items oi
		WHERE oi.order_id = $1 AND oi.variant_id IS NULL AND p.id = oi.product_id
	`, orderID); err != nil {
		log.Error("failed to restore product stock", zap.Error(err))
		return false, err
	}

	if _, err := q.ExecContext(ctx, `
		UPDATE product_variants v
		SET stock = v.stock + oi.quantity
		FROM order_items oi
		WHERE oi.order_id = $1 AND oi.variant_id = v.id
	`, orderID); err != nil {
		log.Error("failed to restore variant stock", zap.Error(err))
		return false, err
	}

	log.Info("stock released")
	return true, nil
}

func variantKey(id *uint) uint {
	if id == nil {
		return 0
	}
	return *id
}
