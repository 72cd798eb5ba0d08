package requestlog

import (
	"context"
	"testing"
	"time"

	"github.com/atherlabs/atherbot/internal/config"
	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var requestColumns = []string{
	"id", "api_key_id", "user_id", "endpoint", "method",
	"status", "response_time_ms", "tokens_used", "cost_usd", "created_at",
}

func setupLogService(t *testing.T) (*Service, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewService(mock, &config.UsageConfig{MonthlyTokenAllowance: 100000}), mock
}

func TestService_Record(t *testing.T) {
	svc, mock := setupLogService(t)
	keyID := uuid.New()
	userID := uuid.New()
	rowID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO api_requests`).
		WithArgs(keyID, userID, "/v1/generate", "POST", 200, 512, 120, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(requestColumns).
			AddRow(rowID, &keyID, userID, "/v1/generate", "POST", 200, 512, 120, decimal.RequireFromString("0.00024"), now))

	req, err := svc.Record(context.Background(), &Entry{
		APIKeyID:       keyID,
		UserID:         userID,
		Endpoint:       "/v1/generate",
		Method:         "POST",
		Status:         200,
		ResponseTimeMs: 512,
		TokensUsed:     120,
	})

	require.NoError(t, err)
	assert.Equal(t, rowID, req.ID)
	assert.Equal(t, 120, req.TokensUsed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_List_ClampsLimit(t *testing.T) {
	svc, mock := setupLogService(t)
	userID := uuid.New()

	mock.ExpectQuery(`FROM api_requests\s+WHERE user_id`).
		WithArgs(userID, maxListLimit, 0).
		WillReturnRows(pgxmock.NewRows(requestColumns))

	resp, err := svc.List(context.Background(), userID, 10000, -5)

	require.NoError(t, err)
	assert.Equal(t, maxListLimit, resp.Limit)
	assert.Equal(t, 0, resp.Offset)
	assert.Empty(t, resp.Requests)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Stats(t *testing.T) {
	svc, mock := setupLogService(t)
	userID := uuid.New()
	keyID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT COUNT\(\*\), COALESCE\(SUM\(tokens_used\), 0\)`).
		WithArgs(userID, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"count", "tokens", "cost"}).
			AddRow(int64(42), int64(5280), decimal.RequireFromString("0.01056")))

	mock.ExpectQuery(`FROM api_requests\s+WHERE user_id`).
		WithArgs(userID, recentLimit).
		WillReturnRows(pgxmock.NewRows(requestColumns).
			AddRow(uuid.New(), &keyID, userID, "/v1/chat", "POST", 200, 230, 97, decimal.RequireFromString("0.000194"), now))

	stats, err := svc.Stats(context.Background(), userID, PeriodWeek)

	require.NoError(t, err)
	assert.Equal(t, PeriodWeek, stats.Period)
	assert.Equal(t, int64(42), stats.TotalRequests)
	assert.Equal(t, int64(5280), stats.TotalTokens)
	assert.Equal(t, int64(100000), stats.TokenAllowance)
	require.Len(t, stats.Recent, 1)
	assert.Equal(t, "/v1/chat", stats.Recent[0].Endpoint)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Stats_InvalidPeriod(t *testing.T) {
	svc, mock := setupLogService(t)

	_, err := svc.Stats(context.Background(), uuid.New(), Period("fortnight"))

	assert.ErrorIs(t, err, ErrInvalidPeriod)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEstimateCost(t *testing.T) {
	assert.True(t, EstimateCost(0).IsZero())
	assert.Equal(t, "0.002", EstimateCost(1000).String())
	assert.Equal(t, "0.0002", EstimateCost(100).String())
}
