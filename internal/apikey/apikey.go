package apikey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atherlabs/atherbot/internal/cache"
	"github.com/atherlabs/atherbot/internal/config"
	"github.com/atherlabs/atherbot/internal/database"
	"github.com/atherlabs/atherbot/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// Service errors
var (
	ErrKeyNotFound    = errors.New("API key not found")
	ErrKeyNotOwned    = errors.New("API key does not belong to user")
	ErrNameRequired   = errors.New("key name must not be empty")
	ErrInvalidSecret  = errors.New("invalid or inactive API key")
	ErrSecretConflict = errors.New("could not generate a unique API key")
	ErrMaxKeysReached = errors.New("maximum number of API keys reached")
)

// MaxGenerateAttempts bounds the generate-and-insert retry loop. The store's
// uniqueness constraint on the secret column is the arbiter; the loop only
// reacts to its violations.
const MaxGenerateAttempts = 5

// pgUniqueViolation is the Postgres error code for unique-constraint violations
const pgUniqueViolation = "23505"

// Service handles API key operations
type Service struct {
	db         database.PgxPool
	gen        *Generator
	cache      *cache.Redis
	cacheTTL   time.Duration
	maxPerUser int
}

// NewService creates a new API key service. redis may be nil, in which case
// every authentication goes straight to the database.
func NewService(db database.PgxPool, gen *Generator, redis *cache.Redis, cfg *config.APIKeyConfig, cacheTTL time.Duration) *Service {
	maxPerUser := cfg.MaxPerUser
	if maxPerUser <= 0 {
		maxPerUser = 10
	}
	return &Service{
		db:         db,
		gen:        gen,
		cache:      redis,
		cacheTTL:   cacheTTL,
		maxPerUser: maxPerUser,
	}
}

// CreateKeyRequest represents a request to create an API key
type CreateKeyRequest struct {
	Name string `json:"name"`
}

// CreateKeyResponse is returned when creating an API key.
// The plaintext secret is only returned here, never again in full
// unless explicitly revealed.
type CreateKeyResponse struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Secret       string    `json:"secret"`
	MaskedSecret string    `json:"masked_secret"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// KeyResponse represents an API key in list/get responses. Secret is only
// populated on an explicit reveal request.
type KeyResponse struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	MaskedSecret string     `json:"masked_secret"`
	Secret       string     `json:"secret,omitempty"`
	Active       bool       `json:"active"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ListKeysResponse represents the response for listing API keys
type ListKeysResponse struct {
	Keys  []KeyResponse `json:"keys"`
	Total int           `json:"total"`
}

// Create creates a new API key for a user. Secret generation is retried on
// uniqueness-constraint violations up to MaxGenerateAttempts, after which
// ErrSecretConflict is returned.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, req *CreateKeyRequest) (*CreateKeyResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrNameRequired
	}

	var count int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM api_keys WHERE user_id = $1
	`, userID).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("failed to count API keys: %w", err)
	}
	if count >= s.maxPerUser {
		return nil, ErrMaxKeysReached
	}

	for attempt := 0; attempt < MaxGenerateAttempts; attempt++ {
		secret, err := s.gen.Secret()
		if err != nil {
			return nil, fmt.Errorf("failed to generate API key: %w", err)
		}

		var key models.APIKey
		err = s.db.QueryRow(ctx, `
			INSERT INTO api_keys (user_id, name, secret)
			VALUES ($1, $2, $3)
			RETURNING id, user_id, name, secret, active, last_used_at, created_at
		`, userID, name, secret).Scan(
			&key.ID, &key.UserID, &key.Name, &key.Secret,
			&key.Active, &key.LastUsedAt, &key.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				log.Warn().Int("attempt", attempt+1).Msg("API key secret collision, regenerating")
				continue
			}
			return nil, fmt.Errorf("failed to create API key: %w", err)
		}

		return &CreateKeyResponse{
			ID:           key.ID,
			Name:         key.Name,
			Secret:       key.Secret,
			MaskedSecret: key.MaskedSecret(),
			Active:       key.Active,
			CreatedAt:    key.CreatedAt,
		}, nil
	}

	return nil, ErrSecretConflict
}

// List returns all API keys for a user, newest first, with masked secrets
func (s *Service) List(ctx context.Context, userID uuid.UUID) (*ListKeysResponse, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, name, secret, active, last_used_at, created_at
		FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	defer rows.Close()

	var keys []KeyResponse
	for rows.Next() {
		var key models.APIKey
		err := rows.Scan(
			&key.ID, &key.UserID, &key.Name, &key.Secret,
			&key.Active, &key.LastUsedAt, &key.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan API key: %w", err)
		}
		keys = append(keys, toKeyResponse(&key, false))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating API keys: %w", err)
	}

	return &ListKeysResponse{
		Keys:  keys,
		Total: len(keys),
	}, nil
}

// Get returns a single key. The plaintext secret is included only when
// reveal is set; this is the explicit-request path.
func (s *Service) Get(ctx context.Context, userID, keyID uuid.UUID, reveal bool) (*KeyResponse, error) {
	key, err := s.getOwned(ctx, userID, keyID)
	if err != nil {
		return nil, err
	}
	resp := toKeyResponse(key, reveal)
	return &resp, nil
}

// Delete removes an API key. Request-log rows for the key are kept; their
// api_key_id is nulled out by the store so the audit trail survives.
func (s *Service) Delete(ctx context.Context, userID, keyID uuid.UUID) error {
	key, err := s.getOwned(ctx, userID, keyID)
	if err != nil {
		return err
	}

	if _, err := s.db.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, keyID); err != nil {
		return fmt.Errorf("failed to delete API key: %w", err)
	}

	s.invalidate(ctx, key.Secret)
	return nil
}

// SetActive toggles the active flag. An inactive key fails authentication
// but keeps its history.
func (s *Service) SetActive(ctx context.Context, userID, keyID uuid.UUID, active bool) (*KeyResponse, error) {
	key, err := s.getOwned(ctx, userID, keyID)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.Exec(ctx, `
		UPDATE api_keys SET active = $1 WHERE id = $2
	`, active, keyID); err != nil {
		return nil, fmt.Errorf("failed to update API key: %w", err)
	}

	s.invalidate(ctx, key.Secret)

	key.Active = active
	resp := toKeyResponse(key, false)
	return &resp, nil
}

// Rename updates a key's display label.
func (s *Service) Rename(ctx context.Context, userID, keyID uuid.UUID, name string) (*KeyResponse, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}

	key, err := s.getOwned(ctx, userID, keyID)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.Exec(ctx, `
		UPDATE api_keys SET name = $1 WHERE id = $2
	`, name, keyID); err != nil {
		return nil, fmt.Errorf("failed to update API key: %w", err)
	}

	key.Name = name
	resp := toKeyResponse(key, false)
	return &resp, nil
}

// Authenticate looks up a bearer secret and returns the key it belongs to.
// Unknown and inactive secrets both yield ErrInvalidSecret so callers
// cannot learn whether a key exists.
func (s *Service) Authenticate(ctx context.Context, secret string) (*models.APIKey, error) {
	if !strings.HasPrefix(secret, s.gen.Prefix()+"_") || len(secret) < len(s.gen.Prefix())+10 {
		return nil, ErrInvalidSecret
	}

	secretHash := HashSecret(secret)

	if key, ok := s.cachedKey(ctx, secretHash); ok {
		return key, nil
	}

	var key models.APIKey
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, name, secret, active, last_used_at, created_at
		FROM api_keys
		WHERE secret = $1
	`, secret).Scan(
		&key.ID, &key.UserID, &key.Name, &key.Secret,
		&key.Active, &key.LastUsedAt, &key.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidSecret
		}
		return nil, fmt.Errorf("failed to look up API key: %w", err)
	}

	if !key.Active {
		return nil, ErrInvalidSecret
	}

	s.cacheKey(ctx, secretHash, &key)
	return &key, nil
}

// TouchLastUsed refreshes last_used_at. Best-effort: callers log failures
// but never fail the request over them. Last-writer-wins under concurrency.
func (s *Service) TouchLastUsed(ctx context.Context, keyID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE api_keys SET last_used_at = NOW() WHERE id = $1
	`, keyID)
	if err != nil {
		return fmt.Errorf("failed to update last_used_at: %w", err)
	}
	return nil
}

// getOwned loads a key and enforces ownership
func (s *Service) getOwned(ctx context.Context, userID, keyID uuid.UUID) (*models.APIKey, error) {
	var key models.APIKey
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, name, secret, active, last_used_at, created_at
		FROM api_keys
		WHERE id = $1
	`, keyID).Scan(
		&key.ID, &key.UserID, &key.Name, &key.Secret,
		&key.Active, &key.LastUsedAt, &key.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get API key: %w", err)
	}

	if key.UserID != userID {
		return nil, ErrKeyNotOwned
	}

	return &key, nil
}

func (s *Service) cachedKey(ctx context.Context, secretHash string) (*models.APIKey, bool) {
	if s.cache == nil {
		return nil, false
	}
	payload, err := s.cache.GetAPIKey(ctx, secretHash)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			log.Warn().Err(err).Msg("API key cache read failed")
		}
		return nil, false
	}
	var key models.APIKey
	if err := json.Unmarshal(payload, &key); err != nil {
		log.Warn().Err(err).Msg("API key cache entry corrupt")
		return nil, false
	}
	if !key.Active {
		return nil, false
	}
	return &key, true
}

func (s *Service) cacheKey(ctx context.Context, secretHash string, key *models.APIKey) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(key)
	if err != nil {
		return
	}
	if err := s.cache.SetAPIKey(ctx, secretHash, payload, s.cacheTTL); err != nil {
		log.Warn().Err(err).Msg("API key cache write failed")
	}
}

func (s *Service) invalidate(ctx context.Context, secret string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateAPIKey(ctx, HashSecret(secret)); err != nil {
		log.Warn().Err(err).Msg("API key cache invalidation failed")
	}
}

func toKeyResponse(key *models.APIKey, reveal bool) KeyResponse {
	resp := KeyResponse{
		ID:           key.ID,
		Name:         key.Name,
		MaskedSecret: key.MaskedSecret(),
		Active:       key.Active,
		LastUsedAt:   key.LastUsedAt,
		CreatedAt:    key.CreatedAt,
	}
	if reveal {
		resp.Secret = key.Secret
	}
	return resp
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
