package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atherlabs/atherbot/internal/config"
	"github.com/atherlabs/atherbot/internal/middleware"
	"github.com/atherlabs/atherbot/internal/playground"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testJWTSecret = "server-test-secret"

var keyColumns = []string{"id", "user_id", "name", "secret", "active", "last_used_at", "created_at"}

var requestColumns = []string{
	"id", "api_key_id", "user_id", "endpoint", "method",
	"status", "response_time_ms", "tokens_used", "cost_usd", "created_at",
}

func testServerConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Name: "atherbot-api",
			Port: 8080,
			Env:  "test",
		},
		JWT: config.JWTConfig{
			Secret:             testJWTSecret,
			AccessTokenExpiry:  15 * time.Minute,
			RefreshTokenExpiry: 7 * 24 * time.Hour,
			Issuer:             "atherbot",
		},
		APIKey: config.APIKeyConfig{
			Prefix:     "ather",
			MaxPerUser: 10,
		},
		Playground: config.PlaygroundConfig{
			Model:            "atherbot-1",
			SimulatedLatency: 0,
		},
		Usage: config.UsageConfig{
			MonthlyTokenAllowance: 100000,
		},
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}

func setupServer(t *testing.T) (*APIServer, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewAPIServer(testServerConfig(), mock, nil), mock
}

func makeAccessToken(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	now := time.Now()
	claims := &middleware.Claims{
		UserID: userID.String(),
		Email:  "user@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "access",
			Issuer:    "atherbot",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(15 * time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return token
}

func doJSON(srv *APIServer, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	srv, _ := setupServer(t)

	w := doJSON(srv, "GET", "/health", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestKeys_RequireJWT(t *testing.T) {
	srv, mock := setupServer(t)

	for _, route := range []struct{ method, path string }{
		{"GET", "/api/v1/keys"},
		{"POST", "/api/v1/keys"},
		{"GET", "/api/v1/usage"},
		{"GET", "/api/v1/requests"},
	} {
		w := doJSON(srv, route.method, route.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s", route.method, route.path)
	}

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateKey(t *testing.T) {
	srv, mock := setupServer(t)
	userID := uuid.New()
	keyID := uuid.New()
	secret := "ather_" + secretSuffix('a')

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM api_keys`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`INSERT INTO api_keys`).
		WithArgs(userID, "ci pipeline", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(keyColumns).
			AddRow(keyID, userID, "ci pipeline", secret, true, nil, time.Now()))

	w := doJSON(srv, "POST", "/api/v1/keys", makeAccessToken(t, userID), gin.H{"name": "ci pipeline"})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		ID           uuid.UUID `json:"id"`
		Secret       string    `json:"secret"`
		MaskedSecret string    `json:"masked_secret"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, keyID, resp.ID)
	assert.Equal(t, secret, resp.Secret)
	assert.Equal(t, "ather_...aaaa", resp.MaskedSecret)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateKey_EmptyName(t *testing.T) {
	srv, mock := setupServer(t)
	userID := uuid.New()

	w := doJSON(srv, "POST", "/api/v1/keys", makeAccessToken(t, userID), gin.H{"name": ""})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteKey_NotFound(t *testing.T) {
	srv, mock := setupServer(t)
	userID := uuid.New()
	keyID := uuid.New()

	mock.ExpectQuery(`FROM api_keys\s+WHERE id`).
		WithArgs(keyID).
		WillReturnError(pgx.ErrNoRows)

	w := doJSON(srv, "DELETE", "/api/v1/keys/"+keyID.String(), makeAccessToken(t, userID), nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "40401")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerate_MissingAPIKey(t *testing.T) {
	srv, mock := setupServer(t)

	w := doJSON(srv, "POST", "/v1/generate", "", gin.H{"prompt": "hello"})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "40104")
	// Rejected calls never touch the store
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerate_InvalidAPIKey(t *testing.T) {
	srv, mock := setupServer(t)
	secret := "ather_" + secretSuffix('b')

	mock.ExpectQuery(`FROM api_keys\s+WHERE secret`).
		WithArgs(secret).
		WillReturnError(pgx.ErrNoRows)

	w := doJSON(srv, "POST", "/v1/generate", secret, gin.H{"prompt": "hello"})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "40103")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerate_InactiveAPIKey(t *testing.T) {
	srv, mock := setupServer(t)
	secret := "ather_" + secretSuffix('c')

	mock.ExpectQuery(`FROM api_keys\s+WHERE secret`).
		WithArgs(secret).
		WillReturnRows(pgxmock.NewRows(keyColumns).
			AddRow(uuid.New(), uuid.New(), "paused", secret, false, nil, time.Now()))

	w := doJSON(srv, "POST", "/v1/generate", secret, gin.H{"prompt": "hello"})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	// Same error body as an unknown key
	assert.Contains(t, w.Body.String(), "40103")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerate_Success(t *testing.T) {
	srv, mock := setupServer(t)
	userID := uuid.New()
	keyID := uuid.New()
	secret := "ather_" + secretSuffix('d')

	mock.ExpectQuery(`FROM api_keys\s+WHERE secret`).
		WithArgs(secret).
		WillReturnRows(pgxmock.NewRows(keyColumns).
			AddRow(keyID, userID, "live", secret, true, nil, time.Now()))
	mock.ExpectExec(`UPDATE api_keys SET last_used_at`).
		WithArgs(keyID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`INSERT INTO api_requests`).
		WithArgs(keyID, userID, "/v1/generate", "POST", 200,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(requestColumns).
			AddRow(uuid.New(), &keyID, userID, "/v1/generate", "POST",
				200, 0, 100, decimal.RequireFromString("0.0002"), time.Now()))

	w := doJSON(srv, "POST", "/v1/generate", secret, gin.H{"prompt": "What is AI?"})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp playground.GenerateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Regexp(t, `^resp_[0-9a-f]{8}$`, resp.ID)
	assert.Equal(t, "atherbot-1", resp.Model)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "length", resp.Choices[0].FinishReason)
	assert.Equal(t, resp.Usage.TotalTokens, resp.Usage.PromptTokens+resp.Usage.CompletionTokens)

	// Exactly one request-log row was written
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChat_Success(t *testing.T) {
	srv, mock := setupServer(t)
	userID := uuid.New()
	keyID := uuid.New()
	secret := "ather_" + secretSuffix('e')

	mock.ExpectQuery(`FROM api_keys\s+WHERE secret`).
		WithArgs(secret).
		WillReturnRows(pgxmock.NewRows(keyColumns).
			AddRow(keyID, userID, "chatty", secret, true, nil, time.Now()))
	mock.ExpectExec(`UPDATE api_keys SET last_used_at`).
		WithArgs(keyID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`INSERT INTO api_requests`).
		WithArgs(keyID, userID, "/v1/chat", "POST", 200,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(requestColumns).
			AddRow(uuid.New(), &keyID, userID, "/v1/chat", "POST",
				200, 0, 80, decimal.RequireFromString("0.00016"), time.Now()))

	w := doJSON(srv, "POST", "/v1/chat", secret, gin.H{"prompt": "hi there"})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp playground.GenerateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Choices, 1)
	assert.Contains(t, playground.Replies(), resp.Choices[0].Text)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUsage(t *testing.T) {
	srv, mock := setupServer(t)
	userID := uuid.New()

	mock.ExpectQuery(`SELECT COUNT\(\*\), COALESCE\(SUM\(tokens_used\), 0\)`).
		WithArgs(userID, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"count", "tokens", "cost"}).
			AddRow(int64(7), int64(731), decimal.RequireFromString("0.001462")))
	mock.ExpectQuery(`FROM api_requests\s+WHERE user_id`).
		WithArgs(userID, 10).
		WillReturnRows(pgxmock.NewRows(requestColumns))

	w := doJSON(srv, "GET", "/api/v1/usage?period=day", makeAccessToken(t, userID), nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Period         string `json:"period"`
		TotalRequests  int64  `json:"total_requests"`
		TotalTokens    int64  `json:"total_tokens"`
		TokenAllowance int64  `json:"token_allowance"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "day", resp.Period)
	assert.Equal(t, int64(7), resp.TotalRequests)
	assert.Equal(t, int64(731), resp.TotalTokens)
	assert.Equal(t, int64(100000), resp.TokenAllowance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUsage_InvalidPeriod(t *testing.T) {
	srv, mock := setupServer(t)
	userID := uuid.New()

	w := doJSON(srv, "GET", "/api/v1/usage?period=decade", makeAccessToken(t, userID), nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// secretSuffix builds a 64-character suffix from one hex digit
func secretSuffix(c byte) string {
	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = c
	}
	return string(buf)
}
