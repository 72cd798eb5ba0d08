package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// APIRequest is one row of the append-only request log. Rows are created
// once per authenticated call and never mutated. APIKeyID is nil for rows
// whose key has since been deleted; the audit trail outlives the key.
type APIRequest struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	APIKeyID       *uuid.UUID      `json:"api_key_id,omitempty" db:"api_key_id"`
	UserID         uuid.UUID       `json:"user_id" db:"user_id"`
	Endpoint       string          `json:"endpoint" db:"endpoint"`
	Method         string          `json:"method" db:"method"`
	Status         int             `json:"status" db:"status"`
	ResponseTimeMs int             `json:"response_time" db:"response_time_ms"`
	TokensUsed     int             `json:"tokens_used" db:"tokens_used"`
	CostUSD        decimal.Decimal `json:"cost_usd" db:"cost_usd"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}
