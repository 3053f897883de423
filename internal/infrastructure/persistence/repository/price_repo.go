package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/haowenli/ai-call-agent/internal/application/port"
	"github.com/haowenli/ai-call-agent/internal/domain/entity"
	"github.com/haowenli/ai-call-agent/internal/infrastructure/persistence/sqlite"
)

// PriceRepository implements port.PriceRepository. Prices and fees of a
// session live in two tables and are always replaced together.
type PriceRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewPriceRepository creates a new price repository
func NewPriceRepository(db *sqlite.DB, logger *zap.Logger) port.PriceRepository {
	return &PriceRepository{
		db:     db,
		logger: logger,
	}
}

// SaveForSession replaces the extraction result of a session. Extraction is
// deterministic over the transcript, so a redelivered webhook writing the
// same result twice is harmless; the transaction keeps readers from seeing
// half of it.
func (r *PriceRepository) SaveForSession(ctx context.Context, sessionID string, prices []entity.ExtractedPrice, fees []entity.Fee) error {
	return r.db.WithTransaction(ctx, func(txCtx context.Context) error {
		ex := getExecutor(txCtx, r.db.DB)

		if _, err := ex.ExecContext(txCtx, `DELETE FROM extracted_prices WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("failed to clear extracted prices: %w", err)
		}
		if _, err := ex.ExecContext(txCtx, `DELETE FROM session_fees WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("failed to clear session fees: %w", err)
		}

		priceQuery := `
			INSERT INTO extracted_prices (
				session_id, item, price, currency, price_type, conditions, confidence
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`
		for _, p := range prices {
			var conditions sql.NullString
			if len(p.Conditions) > 0 {
				data, err := json.Marshal(p.Conditions)
				if err != nil {
					return fmt.Errorf("failed to encode price conditions: %w", err)
				}
				conditions = sql.NullString{String: string(data), Valid: true}
			}

			_, err := ex.ExecContext(txCtx, priceQuery,
				sessionID, p.Item, p.Price, p.Currency, string(p.PriceType), conditions, p.Confidence)
			if err != nil {
				return fmt.Errorf("failed to insert extracted price: %w", err)
			}
		}

		feeQuery := `INSERT INTO session_fees (session_id, name, amount) VALUES (?, ?, ?)`
		for _, f := range fees {
			if _, err := ex.ExecContext(txCtx, feeQuery, sessionID, f.Name, f.Amount); err != nil {
				return fmt.Errorf("failed to insert session fee: %w", err)
			}
		}

		return nil
	})
}

// GetBySessionID retrieves the extraction result of a session
func (r *PriceRepository) GetBySessionID(ctx context.Context, sessionID string) ([]entity.ExtractedPrice, []entity.Fee, error) {
	ex := getExecutor(ctx, r.db.DB)

	// Most confident quotes first, matching the order the extractor
	// produced them in.
	priceQuery := `
		SELECT item, price, currency, price_type, conditions, confidence
		FROM extracted_prices WHERE session_id = ? ORDER BY confidence DESC, price ASC
	`
	rows, err := ex.QueryContext(ctx, priceQuery, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query extracted prices: %w", err)
	}
	defer rows.Close()

	var prices []entity.ExtractedPrice
	for rows.Next() {
		var p entity.ExtractedPrice
		var priceType string
		var conditions sql.NullString

		if err := rows.Scan(&p.Item, &p.Price, &p.Currency, &priceType, &conditions, &p.Confidence); err != nil {
			return nil, nil, fmt.Errorf("failed to scan extracted price: %w", err)
		}
		p.PriceType = entity.PriceType(priceType)
		if conditions.Valid && conditions.String != "" {
			if err := json.Unmarshal([]byte(conditions.String), &p.Conditions); err != nil {
				return nil, nil, fmt.Errorf("failed to decode price conditions: %w", err)
			}
		}
		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	feeQuery := `SELECT name, amount FROM session_fees WHERE session_id = ?`
	feeRows, err := ex.QueryContext(ctx, feeQuery, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query session fees: %w", err)
	}
	defer feeRows.Close()

	var fees []entity.Fee
	for feeRows.Next() {
		var f entity.Fee
		if err := feeRows.Scan(&f.Name, &f.Amount); err != nil {
			return nil, nil, fmt.Errorf("failed to scan session fee: %w", err)
		}
		fees = append(fees, f)
	}

	return prices, fees, feeRows.Err()
}

// Verify interface compliance
var _ port.PriceRepository = (*PriceRepository)(nil)
