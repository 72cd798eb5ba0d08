package server

import (
	"errors"
	"net/http"

	apierrors "github.com/atherlabs/atherbot/internal/errors"
	"github.com/atherlabs/atherbot/internal/gateway"
	"github.com/atherlabs/atherbot/internal/logging"
	"github.com/atherlabs/atherbot/internal/playground"
	"github.com/gin-gonic/gin"
)

// handleGenerate serves the text-completion endpoint behind API key auth
func (s *APIServer) handleGenerate(c *gin.Context) {
	s.serveResponder(c, "/v1/generate", s.generateBackend)
}

// handleChat serves the conversational endpoint behind API key auth
func (s *APIServer) handleChat(c *gin.Context) {
	s.serveResponder(c, "/v1/chat", s.chatBackend)
}

// serveResponder authenticates the bearer API key, runs the responder and
// writes the wire response. Rejected calls return before anything is logged.
func (s *APIServer) serveResponder(c *gin.Context, endpoint string, responder playground.Responder) {
	key, err := s.gatewayService.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrMissingKey):
			respondError(c, apierrors.ErrMissingAPIKeyError)
		case errors.Is(err, gateway.ErrInvalidKey):
			logging.LogSecurityEvent("invalid_api_key", c.ClientIP(), endpoint)
			respondError(c, apierrors.ErrInvalidAPIKeyError)
		default:
			respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}

	var req playground.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	requestID, _ := c.Get("request_id")
	reqIDStr, _ := requestID.(string)

	resp, err := s.gatewayService.Execute(
		c.Request.Context(), key, endpoint, c.Request.Method, reqIDStr, responder, req.Prompt,
	)
	if err != nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}

	c.JSON(http.StatusOK, resp)
}
