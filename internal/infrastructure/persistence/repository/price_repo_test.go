package repository

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/haowenli/ai-call-agent/internal/domain/entity"
	"github.com/haowenli/ai-call-agent/internal/infrastructure/persistence/sqlite"
)

func newPriceTestDB(t *testing.T) *sqlite.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// One connection so every statement sees the same in-memory database.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE extracted_prices (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			item TEXT NOT NULL,
			price REAL NOT NULL,
			currency TEXT NOT NULL,
			price_type TEXT NOT NULL,
			conditions TEXT,
			confidence REAL NOT NULL
		);
		CREATE TABLE session_fees (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			name TEXT NOT NULL,
			amount REAL NOT NULL
		);
	`)
	require.NoError(t, err)

	return sqlite.NewDB(db, zap.NewNop())
}

func TestPriceRepository_ReadBackKeepsConfidenceOrder(t *testing.T) {
	repo := NewPriceRepository(newPriceTestDB(t), zap.NewNop())
	ctx := context.Background()

	err := repo.SaveForSession(ctx, "sess-1", []entity.ExtractedPrice{
		{Item: "deep clean", Price: 180, Currency: "USD", PriceType: entity.PriceTypeFixed, Confidence: 0.95},
		{Item: "standard clean", Price: 90, Currency: "USD", PriceType: entity.PriceTypeFixed, Confidence: 0.6},
		{Item: "hourly rate", Price: 45, Currency: "USD", PriceType: entity.PriceTypeHourly, Confidence: 0.8},
	}, []entity.Fee{
		{Name: "travel fee", Amount: 15},
	})
	require.NoError(t, err)

	prices, fees, err := repo.GetBySessionID(ctx, "sess-1")
	require.NoError(t, err)

	// The extractor sorts its output most-confident-first; the read path
	// must hand the same order back to notifications and reports.
	require.Len(t, prices, 3)
	assert.Equal(t, "deep clean", prices[0].Item)
	assert.Equal(t, "hourly rate", prices[1].Item)
	assert.Equal(t, "standard clean", prices[2].Item)

	require.Len(t, fees, 1)
	assert.Equal(t, 15.0, fees[0].Amount)
}

func TestPriceRepository_SaveForSessionReplacesPreviousResult(t *testing.T) {
	repo := NewPriceRepository(newPriceTestDB(t), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, repo.SaveForSession(ctx, "sess-1", []entity.ExtractedPrice{
		{Item: "old quote", Price: 10, Currency: "USD", PriceType: entity.PriceTypeFixed, Confidence: 0.5},
	}, []entity.Fee{{Name: "old fee", Amount: 1}}))

	require.NoError(t, repo.SaveForSession(ctx, "sess-1", []entity.ExtractedPrice{
		{Item: "new quote", Price: 20, Currency: "USD", PriceType: entity.PriceTypeFixed, Conditions: []string{"weekends only"}, Confidence: 0.9},
	}, nil))

	prices, fees, err := repo.GetBySessionID(ctx, "sess-1")
	require.NoError(t, err)

	require.Len(t, prices, 1)
	assert.Equal(t, "new quote", prices[0].Item)
	assert.Equal(t, []string{"weekends only"}, prices[0].Conditions)
	assert.Empty(t, fees)
}
