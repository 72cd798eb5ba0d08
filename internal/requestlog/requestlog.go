package requestlog

import (
	"context"
	"fmt"
	"time"

	"github.com/atherlabs/atherbot/internal/config"
	"github.com/atherlabs/atherbot/internal/database"
	"github.com/atherlabs/atherbot/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Period selects the rolling window for usage stats
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ErrInvalidPeriod is returned for a period outside day/week/month
var ErrInvalidPeriod = fmt.Errorf("period must be one of day, week, month")

const (
	defaultListLimit = 50
	maxListLimit     = 200
	recentLimit      = 10
)

// costPerThousandTokens is the display-only rate used for the cost_usd
// column. Nothing is billed; the dashboard just renders the estimate.
var costPerThousandTokens = decimal.NewFromFloat(0.002)

// Service records and reads the append-only API request log
type Service struct {
	db        database.PgxPool
	allowance int64
}

// NewService creates a new request log service
func NewService(db database.PgxPool, cfg *config.UsageConfig) *Service {
	return &Service{
		db:        db,
		allowance: cfg.MonthlyTokenAllowance,
	}
}

// Entry describes one call to be recorded
type Entry struct {
	APIKeyID       uuid.UUID
	UserID         uuid.UUID
	Endpoint       string
	Method         string
	Status         int
	ResponseTimeMs int
	TokensUsed     int
}

// Record appends one row to the request log. Rows are immutable once
// written; failed upstream calls are recorded with their error status,
// rejected (unauthenticated) calls are never recorded at all.
func (s *Service) Record(ctx context.Context, entry *Entry) (*models.APIRequest, error) {
	cost := EstimateCost(entry.TokensUsed)

	var req models.APIRequest
	err := s.db.QueryRow(ctx, `
		INSERT INTO api_requests (api_key_id, user_id, endpoint, method, status, response_time_ms, tokens_used, cost_usd)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, api_key_id, user_id, endpoint, method, status, response_time_ms, tokens_used, cost_usd, created_at
	`, entry.APIKeyID, entry.UserID, entry.Endpoint, entry.Method,
		entry.Status, entry.ResponseTimeMs, entry.TokensUsed, cost,
	).Scan(
		&req.ID, &req.APIKeyID, &req.UserID, &req.Endpoint, &req.Method,
		&req.Status, &req.ResponseTimeMs, &req.TokensUsed, &req.CostUSD, &req.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record API request: %w", err)
	}

	return &req, nil
}

// ListResponse represents a page of request log rows
type ListResponse struct {
	Requests []models.APIRequest `json:"requests"`
	Limit    int                 `json:"limit"`
	Offset   int                 `json:"offset"`
}

// List returns a user's request log, newest first
func (s *Service) List(ctx context.Context, userID uuid.UUID, limit, offset int) (*ListResponse, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, api_key_id, user_id, endpoint, method, status, response_time_ms, tokens_used, cost_usd, created_at
		FROM api_requests
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list API requests: %w", err)
	}
	defer rows.Close()

	requests, err := scanRequests(rows)
	if err != nil {
		return nil, err
	}

	return &ListResponse{
		Requests: requests,
		Limit:    limit,
		Offset:   offset,
	}, nil
}

// StatsResponse aggregates usage over a rolling window
type StatsResponse struct {
	Period         Period              `json:"period"`
	TotalRequests  int64               `json:"total_requests"`
	TotalTokens    int64               `json:"total_tokens"`
	TotalCostUSD   decimal.Decimal     `json:"total_cost_usd"`
	TokenAllowance int64               `json:"token_allowance"`
	Recent         []models.APIRequest `json:"recent"`
}

// Stats aggregates a user's request count and token usage over the given
// rolling window, plus the most recent calls for the activity feed.
func (s *Service) Stats(ctx context.Context, userID uuid.UUID, period Period) (*StatsResponse, error) {
	window, err := periodWindow(period)
	if err != nil {
		return nil, err
	}
	since := time.Now().UTC().Add(-window)

	stats := &StatsResponse{
		Period:         period,
		TokenAllowance: s.allowance,
	}

	err = s.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(tokens_used), 0), COALESCE(SUM(cost_usd), 0)
		FROM api_requests
		WHERE user_id = $1 AND created_at >= $2
	`, userID, since).Scan(&stats.TotalRequests, &stats.TotalTokens, &stats.TotalCostUSD)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate API requests: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, api_key_id, user_id, endpoint, method, status, response_time_ms, tokens_used, cost_usd, created_at
		FROM api_requests
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, recentLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent API requests: %w", err)
	}
	defer rows.Close()

	stats.Recent, err = scanRequests(rows)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// EstimateCost converts a token count to the display-only USD estimate
func EstimateCost(tokens int) decimal.Decimal {
	return costPerThousandTokens.
		Mul(decimal.NewFromInt(int64(tokens))).
		Div(decimal.NewFromInt(1000))
}

func periodWindow(period Period) (time.Duration, error) {
	switch period {
	case PeriodDay:
		return 24 * time.Hour, nil
	case PeriodWeek:
		return 7 * 24 * time.Hour, nil
	case PeriodMonth:
		return 30 * 24 * time.Hour, nil
	default:
		return 0, ErrInvalidPeriod
	}
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRequests(rows rowScanner) ([]models.APIRequest, error) {
	var requests []models.APIRequest
	for rows.Next() {
		var req models.APIRequest
		err := rows.Scan(
			&req.ID, &req.APIKeyID, &req.UserID, &req.Endpoint, &req.Method,
			&req.Status, &req.ResponseTimeMs, &req.TokensUsed, &req.CostUSD, &req.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan API request: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating API requests: %w", err)
	}
	return requests, nil
}
