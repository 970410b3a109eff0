package handler

import (
	"context"
	"net/http"
	"strconv"

	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/pipeline/repository"
	"pipeline_backend/internal/pipeline/transport"
	"pipeline_backend/platform/httpkit"
	"pipeline_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Engine is the stage engine surface the handlers call.
type Engine interface {
	RecordLeadActivity(ctx context.Context, leadID uuid.UUID, userID *uuid.UUID, req transport.RecordActivityRequest) (transport.StageUpdateResponse, error)
	RecordDealActivity(ctx context.Context, dealID uuid.UUID, userID *uuid.UUID, req transport.RecordDealActivityRequest) (transport.DealActivityResponse, error)
	ResyncDeal(ctx context.Context, dealID uuid.UUID, trigger repository.Trigger) (transport.DealSyncResponse, error)
	GetHistory(ctx context.Context, entityType repository.EntityType, id uuid.UUID) (transport.HistoryResponse, error)
	Classify(ctx context.Context, req transport.ClassifyRequest) (transport.ClassifyResponse, error)
	DealHealth(ctx context.Context, dealID uuid.UUID) (transport.HealthResponse, error)
	StalledDeals(ctx context.Context, stageDays, idleDays int) (transport.StalledListResponse, error)
	Density(ctx context.Context, entity repository.EntityType) (domain.DensityReport, error)
	Forecast(ctx context.Context) (transport.ForecastResponse, error)
	LeadScores(ctx context.Context) (transport.ScoresResponse, error)
	DealScores(ctx context.Context) (transport.ScoresResponse, error)
	RecalculateLastActivity(ctx context.Context, dryRun bool) (transport.BulkRecalcResponse, error)
}

type Handler struct {
	svc Engine
	val *validator.Validator
}

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidID        = "invalid id"
)

func New(svc Engine, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/leads/:id/activities", h.RecordLeadActivity)
	rg.GET("/leads/:id/history", h.LeadHistory)
	rg.GET("/leads/scores", h.LeadScores)
	rg.POST("/deals/:id/activities", h.RecordDealActivity)
	rg.POST("/deals/:id/sync", h.SyncDeal)
	rg.GET("/deals/:id/history", h.DealHistory)
	rg.GET("/deals/scores", h.DealScores)
	rg.POST("/classify", h.Classify)
	rg.GET("/health/:dealId", h.DealHealth)
	rg.GET("/stalled", h.Stalled)
	rg.GET("/density", h.Density)
	rg.GET("/forecast", h.Forecast)
}

// RegisterAdminRoutes mounts maintenance routes on the admin group.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.POST("/bulk-recalc", h.BulkRecalc)
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return false
	}
	return true
}

// RecordLeadActivity saves an activity and runs the stage pipeline.
// POST /api/v1/stage-engine/leads/:id/activities
func (h *Handler) RecordLeadActivity(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req transport.RecordActivityRequest
	if !h.bind(c, &req) {
		return
	}

	resp, err := h.svc.RecordLeadActivity(c.Request.Context(), id, httpkit.Actor(c), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, resp)
}

// GET /api/v1/stage-engine/leads/:id/history
func (h *Handler) LeadHistory(c *gin.Context) {
	h.history(c, repository.EntityLead)
}

// GET /api/v1/stage-engine/deals/:id/history
func (h *Handler) DealHistory(c *gin.Context) {
	h.history(c, repository.EntityDeal)
}

func (h *Handler) history(c *gin.Context, entity repository.EntityType) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.GetHistory(c.Request.Context(), entity, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// RecordDealActivity saves a deal activity and resyncs the deal.
// POST /api/v1/stage-engine/deals/:id/activities
func (h *Handler) RecordDealActivity(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req transport.RecordDealActivityRequest
	if !h.bind(c, &req) {
		return
	}

	resp, err := h.svc.RecordDealActivity(c.Request.Context(), id, httpkit.Actor(c), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, resp)
}

// SyncDeal recomputes a deal's stage from its leads.
// POST /api/v1/stage-engine/deals/:id/sync
func (h *Handler) SyncDeal(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.ResyncDeal(c.Request.Context(), id, repository.TriggerResync)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// POST /api/v1/stage-engine/classify
func (h *Handler) Classify(c *gin.Context) {
	var req transport.ClassifyRequest
	if !h.bind(c, &req) {
		return
	}
	resp, err := h.svc.Classify(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// GET /api/v1/stage-engine/health/:dealId
func (h *Handler) DealHealth(c *gin.Context) {
	id, ok := parseID(c, "dealId")
	if !ok {
		return
	}
	resp, err := h.svc.DealHealth(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// Stalled lists stuck and idle deals.
// GET /api/v1/stage-engine/stalled?daysSinceStageChange=21&daysNoActivity=14
func (h *Handler) Stalled(c *gin.Context) {
	stageDays, _ := strconv.Atoi(c.Query("daysSinceStageChange"))
	idleDays, _ := strconv.Atoi(c.Query("daysNoActivity"))

	resp, err := h.svc.StalledDeals(c.Request.Context(), stageDays, idleDays)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// Density reports the stage funnel.
// GET /api/v1/stage-engine/density?entity=lead|deal
func (h *Handler) Density(c *gin.Context) {
	entity := repository.EntityType(c.DefaultQuery("entity", string(repository.EntityLead)))
	if !entity.IsValid() {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, "entity must be lead or deal")
		return
	}
	resp, err := h.svc.Density(c.Request.Context(), entity)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// GET /api/v1/stage-engine/forecast
func (h *Handler) Forecast(c *gin.Context) {
	resp, err := h.svc.Forecast(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// GET /api/v1/stage-engine/leads/scores
func (h *Handler) LeadScores(c *gin.Context) {
	resp, err := h.svc.LeadScores(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// GET /api/v1/stage-engine/deals/scores
func (h *Handler) DealScores(c *gin.Context) {
	resp, err := h.svc.DealScores(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// BulkRecalc realigns last_activity_at with recorded activities.
// POST /api/v1/admin/stage-engine/bulk-recalc
func (h *Handler) BulkRecalc(c *gin.Context) {
	var req transport.BulkRecalcRequest
	if c.Request.ContentLength > 0 && !h.bind(c, &req) {
		return
	}
	resp, err := h.svc.RecalculateLastActivity(c.Request.Context(), req.DryRun)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}
