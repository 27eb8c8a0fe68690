package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"evalpipe/internal/domain"
)

const maxIngestBodyBytes = 5 << 20

func (s *Server) handleIngest(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxIngestBodyBytes)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeErrorCode(c, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body exceeds limit")
		return
	}
	idempotencyKey := c.GetHeader("Idempotency-Key")
	status, respBody := s.ingest.Process(c.Request.Context(), body, idempotencyKey)
	c.Data(status, "application/json", respBody)
}

// tenantResponse is the envelope every query endpoint wraps its rows in,
// making the effective tenant scope explicit in the response body.
type tenantResponse struct {
	OK       bool `json:"ok"`
	TenantID string `json:"tenant_id"`
	Rows     any  `json:"rows"`
}

func (s *Server) handleMetricsAgents(c *gin.Context) {
	tenantID := tenantFromContext(c)
	lookback := intQuery(c, "lookback_hours", 24)
	rows, err := s.rollups.Latest(c.Request.Context(), tenantID, lookback)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tenantResponse{OK: true, TenantID: tenantID, Rows: rows})
}

func (s *Server) handleMetricsWorkflows(c *gin.Context) {
	tenantID := tenantFromContext(c)
	lookback := intQuery(c, "lookback_hours", 24)
	rows, err := s.rollups.LatestByWorkflow(c.Request.Context(), tenantID, lookback)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tenantResponse{OK: true, TenantID: tenantID, Rows: rows})
}

func (s *Server) handleAnomalies(c *gin.Context) {
	tenantID := tenantFromContext(c)
	rows, err := s.anomalies.ListByTenant(c.Request.Context(), tenantID, intQuery(c, "limit", 100))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tenantResponse{OK: true, TenantID: tenantID, Rows: rows})
}

func (s *Server) handleShifts(c *gin.Context) {
	tenantID := tenantFromContext(c)
	rows, err := s.shifts.ListByTenant(c.Request.Context(), tenantID, intQuery(c, "limit", 100))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tenantResponse{OK: true, TenantID: tenantID, Rows: rows})
}

func (s *Server) handleRecommendedActions(c *gin.Context) {
	tenantID := tenantFromContext(c)
	status := c.DefaultQuery("status", string(domain.ActionOpen))
	rows, err := s.actions.ListByTenant(c.Request.Context(), tenantID, status, intQuery(c, "limit", 100))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tenantResponse{OK: true, TenantID: tenantID, Rows: rows})
}

func (s *Server) handleBacktests(c *gin.Context) {
	tenantID := tenantFromContext(c)
	rows, err := s.backtests.ListByTenant(c.Request.Context(), tenantID, intQuery(c, "limit", 50))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tenantResponse{OK: true, TenantID: tenantID, Rows: rows})
}

func (s *Server) handleSignal(c *gin.Context) {
	tenantID := tenantFromContext(c)
	signalID := c.Param("id")
	if _, err := uuid.Parse(signalID); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_ARGUMENT", "signal id must be a UUID")
		return
	}
	signal, err := s.signals.GetByID(c.Request.Context(), tenantID, signalID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "signal not found")
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tenantResponse{OK: true, TenantID: tenantID, Rows: signal})
}
