package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/rules/transport"
	"pipeline_backend/platform/httpkit"
	"pipeline_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AdminService is the rules administration surface. Every mutation
// publishes a new ruleset version.
type AdminService interface {
	ListOverrideRules(ctx context.Context) (transport.OverrideRulesResponse, error)
	CreateOverrideRule(ctx context.Context, userID *uuid.UUID, req transport.OverrideRuleRequest) (transport.OverrideRuleResponse, error)
	UpdateOverrideRule(ctx context.Context, userID *uuid.UUID, id string, req transport.OverrideRuleRequest) (transport.OverrideRuleResponse, error)
	DeleteOverrideRule(ctx context.Context, userID *uuid.UUID, id string) (transport.DeleteResponse, error)

	ListSyncRules(ctx context.Context) (transport.SyncRulesResponse, error)
	CreateSyncRule(ctx context.Context, userID *uuid.UUID, req transport.SyncRuleRequest) (transport.SyncRuleResponse, error)
	UpdateSyncRule(ctx context.Context, userID *uuid.UUID, id string, req transport.SyncRuleRequest) (transport.SyncRuleResponse, error)
	DeleteSyncRule(ctx context.Context, userID *uuid.UUID, id string) (transport.DeleteResponse, error)

	ListStabilityLocks(ctx context.Context) (transport.StabilityLocksResponse, error)
	PutStabilityLock(ctx context.Context, userID *uuid.UUID, stage domain.Stage, req transport.StabilityLockRequest) (transport.StabilityLockResponse, error)
	DeleteStabilityLock(ctx context.Context, userID *uuid.UUID, stage domain.Stage) (transport.DeleteResponse, error)

	ListSettings(ctx context.Context) (transport.SettingsResponse, error)
	GetSetting(ctx context.Context, key string) (transport.SettingResponse, error)
	PutSetting(ctx context.Context, userID *uuid.UUID, key string, value json.RawMessage) (transport.SettingResponse, error)

	CurrentRuleset(ctx context.Context) (transport.RulesetResponse, error)
	RulesetVersion(ctx context.Context, version int) (transport.RulesetResponse, error)
	ArchivedRuleset(ctx context.Context, version int) (transport.RulesetResponse, error)
}

type Handler struct {
	svc AdminService
	val *validator.Validator
}

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidVersion   = "invalid version"
)

func New(svc AdminService, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes mounts rule administration on the admin group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/override-rules", h.ListOverrideRules)
	rg.POST("/override-rules", h.CreateOverrideRule)
	rg.PUT("/override-rules/:id", h.UpdateOverrideRule)
	rg.DELETE("/override-rules/:id", h.DeleteOverrideRule)

	rg.GET("/sync-rules", h.ListSyncRules)
	rg.POST("/sync-rules", h.CreateSyncRule)
	rg.PUT("/sync-rules/:id", h.UpdateSyncRule)
	rg.DELETE("/sync-rules/:id", h.DeleteSyncRule)

	rg.GET("/stability-locks", h.ListStabilityLocks)
	rg.PUT("/stability-locks/:stage", h.PutStabilityLock)
	rg.DELETE("/stability-locks/:stage", h.DeleteStabilityLock)

	rg.GET("/settings", h.ListSettings)
	rg.GET("/settings/:key", h.GetSetting)
	rg.PUT("/settings/:key", h.PutSetting)

	rg.GET("/ruleset", h.CurrentRuleset)
	rg.GET("/ruleset/:version", h.RulesetVersion)
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

// GET /api/v1/admin/stage-engine/override-rules
func (h *Handler) ListOverrideRules(c *gin.Context) {
	resp, err := h.svc.ListOverrideRules(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// POST /api/v1/admin/stage-engine/override-rules
func (h *Handler) CreateOverrideRule(c *gin.Context) {
	var req transport.OverrideRuleRequest
	if !h.bind(c, &req) {
		return
	}
	resp, err := h.svc.CreateOverrideRule(c.Request.Context(), httpkit.Actor(c), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, resp)
}

// PUT /api/v1/admin/stage-engine/override-rules/:id
func (h *Handler) UpdateOverrideRule(c *gin.Context) {
	var req transport.OverrideRuleRequest
	if !h.bind(c, &req) {
		return
	}
	resp, err := h.svc.UpdateOverrideRule(c.Request.Context(), httpkit.Actor(c), c.Param("id"), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// DELETE /api/v1/admin/stage-engine/override-rules/:id
func (h *Handler) DeleteOverrideRule(c *gin.Context) {
	resp, err := h.svc.DeleteOverrideRule(c.Request.Context(), httpkit.Actor(c), c.Param("id"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// GET /api/v1/admin/stage-engine/sync-rules
func (h *Handler) ListSyncRules(c *gin.Context) {
	resp, err := h.svc.ListSyncRules(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// POST /api/v1/admin/stage-engine/sync-rules
func (h *Handler) CreateSyncRule(c *gin.Context) {
	var req transport.SyncRuleRequest
	if !h.bind(c, &req) {
		return
	}
	resp, err := h.svc.CreateSyncRule(c.Request.Context(), httpkit.Actor(c), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, resp)
}

// UpdateSyncRule edits a sync rule. Built-in rules accept only priority,
// label and active changes.
// PUT /api/v1/admin/stage-engine/sync-rules/:id
func (h *Handler) UpdateSyncRule(c *gin.Context) {
	var req transport.SyncRuleRequest
	if !h.bind(c, &req) {
		return
	}
	resp, err := h.svc.UpdateSyncRule(c.Request.Context(), httpkit.Actor(c), c.Param("id"), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// DELETE /api/v1/admin/stage-engine/sync-rules/:id
func (h *Handler) DeleteSyncRule(c *gin.Context) {
	resp, err := h.svc.DeleteSyncRule(c.Request.Context(), httpkit.Actor(c), c.Param("id"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// GET /api/v1/admin/stage-engine/stability-locks
func (h *Handler) ListStabilityLocks(c *gin.Context) {
	resp, err := h.svc.ListStabilityLocks(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// PUT /api/v1/admin/stage-engine/stability-locks/:stage
func (h *Handler) PutStabilityLock(c *gin.Context) {
	var req transport.StabilityLockRequest
	if !h.bind(c, &req) {
		return
	}
	resp, err := h.svc.PutStabilityLock(c.Request.Context(), httpkit.Actor(c), domain.Stage(c.Param("stage")), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// DELETE /api/v1/admin/stage-engine/stability-locks/:stage
func (h *Handler) DeleteStabilityLock(c *gin.Context) {
	resp, err := h.svc.DeleteStabilityLock(c.Request.Context(), httpkit.Actor(c), domain.Stage(c.Param("stage")))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// GET /api/v1/admin/stage-engine/settings
func (h *Handler) ListSettings(c *gin.Context) {
	resp, err := h.svc.ListSettings(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// GET /api/v1/admin/stage-engine/settings/:key
func (h *Handler) GetSetting(c *gin.Context) {
	resp, err := h.svc.GetSetting(c.Request.Context(), c.Param("key"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// PUT /api/v1/admin/stage-engine/settings/:key
func (h *Handler) PutSetting(c *gin.Context) {
	var req transport.SettingRequest
	if !h.bind(c, &req) {
		return
	}
	resp, err := h.svc.PutSetting(c.Request.Context(), httpkit.Actor(c), c.Param("key"), req.Value)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// GET /api/v1/admin/stage-engine/ruleset
func (h *Handler) CurrentRuleset(c *gin.Context) {
	resp, err := h.svc.CurrentRuleset(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

// RulesetVersion returns a historical snapshot; ?source=archive reads the
// object storage copy instead of the database row.
// GET /api/v1/admin/stage-engine/ruleset/:version
func (h *Handler) RulesetVersion(c *gin.Context) {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version < 1 {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidVersion, nil)
		return
	}

	var resp transport.RulesetResponse
	if c.Query("source") == "archive" {
		resp, err = h.svc.ArchivedRuleset(c.Request.Context(), version)
	} else {
		resp, err = h.svc.RulesetVersion(c.Request.Context(), version)
	}
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}
