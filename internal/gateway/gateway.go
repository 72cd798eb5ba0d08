package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/atherlabs/atherbot/internal/apikey"
	"github.com/atherlabs/atherbot/internal/logging"
	"github.com/atherlabs/atherbot/internal/middleware"
	"github.com/atherlabs/atherbot/internal/models"
	"github.com/atherlabs/atherbot/internal/monitoring"
	"github.com/atherlabs/atherbot/internal/playground"
	"github.com/atherlabs/atherbot/internal/requestlog"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Gateway errors
var (
	ErrMissingKey = errors.New("missing API key")
	ErrInvalidKey = errors.New("invalid or inactive API key")
)

// KeyAuthenticator is the slice of the key service the gateway needs
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, secret string) (*models.APIKey, error)
	TouchLastUsed(ctx context.Context, keyID uuid.UUID) error
}

// CallRecorder appends rows to the request log
type CallRecorder interface {
	Record(ctx context.Context, entry *requestlog.Entry) (*models.APIRequest, error)
}

// Service authenticates bearer credentials and runs responder calls,
// recording exactly one request-log row per authenticated call.
type Service struct {
	keys KeyAuthenticator
	logs CallRecorder
}

// NewService creates a new gateway service
func NewService(keys KeyAuthenticator, logs CallRecorder) *Service {
	return &Service{keys: keys, logs: logs}
}

// Authenticate resolves an Authorization header to an active API key.
// Rejections are never written to the request log.
func (s *Service) Authenticate(ctx context.Context, authHeader string) (*models.APIKey, error) {
	secret, err := middleware.ExtractBearerToken(authHeader)
	if err != nil {
		monitoring.RecordAuthFailure("missing")
		return nil, ErrMissingKey
	}

	key, err := s.keys.Authenticate(ctx, secret)
	if err != nil {
		if errors.Is(err, apikey.ErrInvalidSecret) {
			monitoring.RecordAuthFailure("invalid")
			return nil, ErrInvalidKey
		}
		return nil, err
	}

	return key, nil
}

// Execute runs the responder for an authenticated key and records the call.
// The responder's outcome decides the logged status: failures are logged
// with 500 and the error is returned to the caller.
func (s *Service) Execute(ctx context.Context, key *models.APIKey, endpoint, method, requestID string, responder playground.Responder, prompt string) (*playground.GenerateResponse, error) {
	if err := s.keys.TouchLastUsed(ctx, key.ID); err != nil {
		log.Warn().Err(err).Str("key_id", key.ID.String()).Msg("failed to update last_used_at")
	}

	start := time.Now()
	result, respErr := responder.Respond(ctx, prompt)
	latency := time.Since(start)

	status := http.StatusOK
	tokens := 0
	if respErr != nil {
		status = http.StatusInternalServerError
	} else {
		tokens = result.Usage.TotalTokens
	}

	entry := &requestlog.Entry{
		APIKeyID:       key.ID,
		UserID:         key.UserID,
		Endpoint:       endpoint,
		Method:         method,
		Status:         status,
		ResponseTimeMs: int(latency.Milliseconds()),
		TokensUsed:     tokens,
	}
	if _, err := s.logs.Record(ctx, entry); err != nil {
		log.Error().Err(err).Str("endpoint", endpoint).Msg("failed to record API request")
	}

	monitoring.RecordAPICall(endpoint, httpStatusLabel(status))
	monitoring.RecordAPICallLatency(endpoint, latency)

	logging.LogAPICall(&logging.APICallLogEntry{
		RequestID:  requestID,
		UserID:     key.UserID.String(),
		APIKeyID:   key.ID.String(),
		Endpoint:   endpoint,
		Method:     method,
		Status:     status,
		TokensUsed: tokens,
		Latency:    latency,
		Model:      responder.Model(),
	})

	if respErr != nil {
		return nil, respErr
	}

	monitoring.RecordTokensUsed(responder.Model(), tokens)
	return playground.BuildResponse(responder.Model(), result)
}

func httpStatusLabel(status int) string {
	return strconv.Itoa(status)
}
