package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/pipeline/repository"
	"pipeline_backend/internal/pipeline/transport"
	"pipeline_backend/platform/apperr"
	"pipeline_backend/platform/httpkit"
	"pipeline_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	leadReq    *transport.RecordActivityRequest
	leadUser   *uuid.UUID
	classified *transport.ClassifyRequest
	entity     repository.EntityType
	thresholds [2]int
	dryRun     *bool
	trigger    repository.Trigger
	healthErr  error
}

func (f *fakeEngine) RecordLeadActivity(ctx context.Context, leadID uuid.UUID, userID *uuid.UUID, req transport.RecordActivityRequest) (transport.StageUpdateResponse, error) {
	f.leadReq = &req
	f.leadUser = userID
	return transport.StageUpdateResponse{
		Lead:           transport.LeadStageResponse{LeadID: leadID, Stage: domain.StageProspect, Changed: true, Saved: true},
		RulesetVersion: 2,
	}, nil
}

func (f *fakeEngine) RecordDealActivity(ctx context.Context, dealID uuid.UUID, userID *uuid.UUID, req transport.RecordDealActivityRequest) (transport.DealActivityResponse, error) {
	return transport.DealActivityResponse{Deal: transport.DealSyncResponse{DealID: dealID}}, nil
}

func (f *fakeEngine) ResyncDeal(ctx context.Context, dealID uuid.UUID, trigger repository.Trigger) (transport.DealSyncResponse, error) {
	f.trigger = trigger
	return transport.DealSyncResponse{DealID: dealID, Stage: domain.StageQualified}, nil
}

func (f *fakeEngine) GetHistory(ctx context.Context, entityType repository.EntityType, id uuid.UUID) (transport.HistoryResponse, error) {
	f.entity = entityType
	return transport.HistoryResponse{CurrentStage: domain.StageNew}, nil
}

func (f *fakeEngine) Classify(ctx context.Context, req transport.ClassifyRequest) (transport.ClassifyResponse, error) {
	f.classified = &req
	return transport.ClassifyResponse{Classification: domain.Classification{Stage: domain.StageQualified}}, nil
}

func (f *fakeEngine) DealHealth(ctx context.Context, dealID uuid.UUID) (transport.HealthResponse, error) {
	return transport.HealthResponse{DealID: dealID}, f.healthErr
}

func (f *fakeEngine) StalledDeals(ctx context.Context, stageDays, idleDays int) (transport.StalledListResponse, error) {
	f.thresholds = [2]int{stageDays, idleDays}
	return transport.StalledListResponse{Items: []transport.StalledDealResponse{}}, nil
}

func (f *fakeEngine) Density(ctx context.Context, entity repository.EntityType) (domain.DensityReport, error) {
	f.entity = entity
	return domain.DensityReport{}, nil
}

func (f *fakeEngine) Forecast(ctx context.Context) (transport.ForecastResponse, error) {
	return transport.ForecastResponse{}, nil
}

func (f *fakeEngine) LeadScores(ctx context.Context) (transport.ScoresResponse, error) {
	return transport.ScoresResponse{}, nil
}

func (f *fakeEngine) DealScores(ctx context.Context) (transport.ScoresResponse, error) {
	return transport.ScoresResponse{}, nil
}

func (f *fakeEngine) RecalculateLastActivity(ctx context.Context, dryRun bool) (transport.BulkRecalcResponse, error) {
	f.dryRun = &dryRun
	return transport.BulkRecalcResponse{DryRun: dryRun}, nil
}

func setup(t *testing.T, userID *uuid.UUID) (*gin.Engine, *fakeEngine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	val := validator.New()
	require.NoError(t, val.RegisterOneOf("stage", domain.IsKnownStage))

	fake := &fakeEngine{}
	h := New(fake, val)

	engine := gin.New()
	rg := engine.Group("/stage-engine")
	if userID != nil {
		rg.Use(func(c *gin.Context) {
			c.Set(httpkit.ContextUserIDKey, *userID)
			c.Next()
		})
	}
	h.RegisterRoutes(rg)
	h.RegisterAdminRoutes(rg)
	return engine, fake
}

func do(engine *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) httpkit.ErrorResponse {
	t.Helper()
	var resp httpkit.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestRecordLeadActivityCreated(t *testing.T) {
	user := uuid.New()
	engine, fake := setup(t, &user)
	leadID := uuid.New()

	w := do(engine, http.MethodPost, "/stage-engine/leads/"+leadID.String()+"/activities",
		`{"type":"Call","purpose":"Intro","outcome":"Connected","status":"Completed"}`)

	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, fake.leadReq)
	assert.Equal(t, "Call", fake.leadReq.Type)
	require.NotNil(t, fake.leadUser)
	assert.Equal(t, user, *fake.leadUser)

	var resp transport.StageUpdateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, leadID, resp.Lead.LeadID)
	assert.Equal(t, 2, resp.RulesetVersion)
}

func TestRecordLeadActivityRejections(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		msg  string
	}{
		{"bad id", "/stage-engine/leads/not-a-uuid/activities", `{"type":"Call","status":"Completed"}`, msgInvalidID},
		{"malformed json", "/stage-engine/leads/" + uuid.NewString() + "/activities", `{"type":`, msgInvalidRequest},
		{"missing status", "/stage-engine/leads/" + uuid.NewString() + "/activities", `{"type":"Call"}`, msgValidationFailed},
		{"unknown status", "/stage-engine/leads/" + uuid.NewString() + "/activities", `{"type":"Call","status":"Done"}`, msgValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, fake := setup(t, nil)
			w := do(engine, http.MethodPost, tt.path, tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.msg, decodeError(t, w).Error)
			assert.Nil(t, fake.leadReq)
		})
	}
}

func TestAnonymousActivityHasNoUser(t *testing.T) {
	engine, fake := setup(t, nil)
	w := do(engine, http.MethodPost, "/stage-engine/leads/"+uuid.NewString()+"/activities",
		`{"type":"Call","status":"Completed"}`)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Nil(t, fake.leadUser)
}

func TestClassifyValidatesStage(t *testing.T) {
	engine, fake := setup(t, nil)

	w := do(engine, http.MethodPost, "/stage-engine/classify", `{"activityType":"Call","currentStage":"Limbo"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, fake.classified)

	w = do(engine, http.MethodPost, "/stage-engine/classify", `{"activityType":"Call","currentStage":"Negotiation","activitiesInStage":2}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, fake.classified)
	assert.Equal(t, 2, fake.classified.ActivitiesInStage)
}

func TestSyncDealUsesResyncTrigger(t *testing.T) {
	engine, fake := setup(t, nil)

	w := do(engine, http.MethodPost, "/stage-engine/deals/"+uuid.NewString()+"/sync", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, repository.TriggerResync, fake.trigger)
}

func TestHistoryRoutesPickEntity(t *testing.T) {
	engine, fake := setup(t, nil)

	require.Equal(t, http.StatusOK, do(engine, http.MethodGet, "/stage-engine/deals/"+uuid.NewString()+"/history", "").Code)
	assert.Equal(t, repository.EntityDeal, fake.entity)

	require.Equal(t, http.StatusOK, do(engine, http.MethodGet, "/stage-engine/leads/"+uuid.NewString()+"/history", "").Code)
	assert.Equal(t, repository.EntityLead, fake.entity)
}

func TestDealHealthNotFound(t *testing.T) {
	engine, fake := setup(t, nil)
	fake.healthErr = apperr.NotFound("deal not found")

	w := do(engine, http.MethodGet, "/stage-engine/health/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "deal not found", decodeError(t, w).Error)
}

func TestDensityEntityParam(t *testing.T) {
	engine, fake := setup(t, nil)

	require.Equal(t, http.StatusOK, do(engine, http.MethodGet, "/stage-engine/density", "").Code)
	assert.Equal(t, repository.EntityLead, fake.entity)

	require.Equal(t, http.StatusOK, do(engine, http.MethodGet, "/stage-engine/density?entity=deal", "").Code)
	assert.Equal(t, repository.EntityDeal, fake.entity)

	assert.Equal(t, http.StatusBadRequest, do(engine, http.MethodGet, "/stage-engine/density?entity=account", "").Code)
}

func TestStalledThresholds(t *testing.T) {
	engine, fake := setup(t, nil)

	w := do(engine, http.MethodGet, "/stage-engine/stalled?daysSinceStageChange=30&daysNoActivity=7", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, [2]int{30, 7}, fake.thresholds)
}

func TestBulkRecalcBody(t *testing.T) {
	engine, fake := setup(t, nil)

	require.Equal(t, http.StatusOK, do(engine, http.MethodPost, "/stage-engine/bulk-recalc", "").Code)
	require.NotNil(t, fake.dryRun)
	assert.False(t, *fake.dryRun)

	require.Equal(t, http.StatusOK, do(engine, http.MethodPost, "/stage-engine/bulk-recalc", `{"dryRun":true}`).Code)
	assert.True(t, *fake.dryRun)
}
