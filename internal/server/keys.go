package server

import (
	"errors"
	"net/http"

	"github.com/atherlabs/atherbot/internal/apikey"
	apierrors "github.com/atherlabs/atherbot/internal/errors"
	"github.com/atherlabs/atherbot/internal/monitoring"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// handleCreateKey creates a new API key. The response is the only place the
// full secret appears without an explicit reveal.
func (s *APIServer) handleCreateKey(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		return
	}

	var req apikey.CreateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	resp, err := s.keyService.Create(c.Request.Context(), userID, &req)
	if err != nil {
		switch {
		case errors.Is(err, apikey.ErrNameRequired):
			respondError(c, apierrors.NewValidationError("Key name is required"))
		case errors.Is(err, apikey.ErrMaxKeysReached):
			respondError(c, apierrors.NewInvalidRequestError("Maximum number of API keys reached"))
		case errors.Is(err, apikey.ErrSecretConflict):
			respondError(c, apierrors.NewConflictError("Could not allocate a unique API key, please retry"))
		default:
			respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}

	monitoring.RecordKeyCreated()
	c.JSON(http.StatusCreated, resp)
}

// handleListKeys returns the user's keys with masked secrets
func (s *APIServer) handleListKeys(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		return
	}

	resp, err := s.keyService.List(c.Request.Context(), userID)
	if err != nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// handleGetKey returns one key; ?reveal=true includes the plaintext secret
func (s *APIServer) handleGetKey(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		return
	}

	keyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("Invalid key ID"))
		return
	}

	reveal := c.Query("reveal") == "true"

	resp, err := s.keyService.Get(c.Request.Context(), userID, keyID, reveal)
	if err != nil {
		respondKeyError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// handleDeleteKey removes a key permanently
func (s *APIServer) handleDeleteKey(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		return
	}

	keyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("Invalid key ID"))
		return
	}

	if err := s.keyService.Delete(c.Request.Context(), userID, keyID); err != nil {
		respondKeyError(c, err)
		return
	}

	monitoring.RecordKeyDeleted()
	c.JSON(http.StatusOK, gin.H{"message": "API key deleted"})
}

// setActiveRequest is the body for toggling a key's active flag
type setActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// handleSetKeyActive toggles the active flag on a key
func (s *APIServer) handleSetKeyActive(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		return
	}

	keyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("Invalid key ID"))
		return
	}

	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Active == nil {
		respondError(c, apierrors.NewValidationError("active flag is required"))
		return
	}

	resp, err := s.keyService.SetActive(c.Request.Context(), userID, keyID, *req.Active)
	if err != nil {
		respondKeyError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

type renameKeyRequest struct {
	Name string `json:"name" binding:"required"`
}

// handleRenameKey updates a key's display label
func (s *APIServer) handleRenameKey(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		return
	}

	keyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("Invalid key ID"))
		return
	}

	var req renameKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError("name is required"))
		return
	}

	resp, err := s.keyService.Rename(c.Request.Context(), userID, keyID, req.Name)
	if err != nil {
		respondKeyError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// respondKeyError maps key service errors to API errors
func respondKeyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apikey.ErrNameRequired):
		respondError(c, apierrors.NewValidationError("name is required"))
	case errors.Is(err, apikey.ErrKeyNotFound):
		respondError(c, apierrors.ErrKeyNotFoundError)
	case errors.Is(err, apikey.ErrKeyNotOwned):
		respondError(c, apierrors.ErrForbiddenError)
	default:
		respondError(c, apierrors.ErrInternalServerError)
	}
}
