// Package api exposes the HTTP surface: authenticated OTP and TOTP
// retrieval endpoints, health and metrics.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/grantflowsupport/bytevault-otp-hub/internal/metrics"
	"github.com/grantflowsupport/bytevault-otp-hub/internal/otp"
)

// RetrievalService is the engine behind the HTTP handlers. Implemented
// by *otp.Retriever.
type RetrievalService interface {
	Retrieve(ctx context.Context, req otp.Request) (*otp.Result, error)
	RetrieveTOTP(ctx context.Context, req otp.Request, defaults otp.TOTPDefaults) (*otp.TOTPResult, error)
}

// Server holds the handler dependencies.
type Server struct {
	service      RetrievalService
	totpDefaults otp.TOTPDefaults
	jwt          *JWTManager
	logger       *log.Logger
}

// NewServer wires the HTTP layer.
func NewServer(service RetrievalService, totpDefaults otp.TOTPDefaults, jwt *JWTManager, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{service: service, totpDefaults: totpDefaults, jwt: jwt, logger: logger}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestID())

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", RequireAuth(s.jwt))
	{
		v1.POST("/otp/:productSlug", s.handleMailOTP)
		v1.POST("/totp/:productSlug", s.handleTOTP)
	}
	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleMailOTP(c *gin.Context) {
	req, ok := s.buildRequest(c)
	if !ok {
		return
	}

	start := time.Now()
	result, err := s.service.Retrieve(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, req, "mail", err, time.Since(start))
		return
	}

	metrics.ObserveAttempt(req.ProductSlug, "mail", "success", time.Since(start))
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"otp":        result.OTP,
		"from":       result.From,
		"subject":    result.Subject,
		"fetched_at": result.FetchedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleTOTP(c *gin.Context) {
	req, ok := s.buildRequest(c)
	if !ok {
		return
	}

	start := time.Now()
	result, err := s.service.RetrieveTOTP(c.Request.Context(), req, s.totpDefaults)
	if err != nil {
		s.respondError(c, req, "totp", err, time.Since(start))
		return
	}

	metrics.ObserveAttempt(req.ProductSlug, "totp", "success", time.Since(start))
	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"code":              result.Code,
		"valid_for_seconds": result.ValidForSeconds,
		"issuer":            result.Issuer,
		"account_label":     result.AccountLabel,
		"fetched_at":        result.FetchedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) buildRequest(c *gin.Context) (otp.Request, bool) {
	userID := c.GetInt("user_id")
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return otp.Request{}, false
	}
	return otp.Request{
		RequestID:   c.GetString("request_id"),
		UserID:      userID,
		ProductSlug: c.Param("productSlug"),
	}, true
}

// respondError maps engine errors onto stable machine-readable codes.
func (s *Server) respondError(c *gin.Context, req otp.Request, mode string, err error, took time.Duration) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, otp.ErrProductNotFound):
		status, code = http.StatusNotFound, "product_not_found"
	case errors.Is(err, otp.ErrNoAccounts):
		status, code = http.StatusNotFound, "no_accounts"
	case errors.Is(err, otp.ErrNoTOTPConfig):
		status, code = http.StatusNotFound, "no_accounts"
	case errors.Is(err, otp.ErrNotFound):
		status, code = http.StatusNotFound, "otp_not_found"
	case errors.Is(err, otp.ErrNoAccess):
		status, code = http.StatusForbidden, "no_access"
	case errors.Is(err, otp.ErrAccessExpired):
		status, code = http.StatusForbidden, "access_expired"
	case errors.Is(err, otp.ErrRateLimited):
		status, code = http.StatusTooManyRequests, "rate_limited"
		metrics.ObserveRateLimited()
	default:
		s.logger.Printf("api: %s retrieval for %s: %v", mode, req.ProductSlug, err)
	}

	metrics.ObserveAttempt(req.ProductSlug, mode, code, took)
	c.JSON(status, gin.H{"success": false, "error": code})
}
