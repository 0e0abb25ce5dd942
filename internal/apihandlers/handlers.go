package apihandlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"sift/internal/app"
	"sift/internal/batch"
	"sift/internal/chain"
	"sift/internal/evaluator"
	"sift/internal/keyword"
	"sift/internal/models"
	"sift/internal/store"
	"sift/internal/util"
)

// maxFilterArticles bounds one synchronous filter request.
const maxFilterArticles = 500

type APIHandler struct {
	App *app.App
}

func NewAPIHandler(app *app.App) *APIHandler {
	return &APIHandler{App: app}
}

// RegisterRoutes mounts the API under /api/v1 plus a /health probe.
func RegisterRoutes(r gin.IRouter, h *APIHandler) {
	r.GET("/health", h.HealthHandler)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/filter", h.FilterHandler)

		batches := v1.Group("/batches")
		{
			batches.POST("", h.EnqueueBatchHandler)
		}

		runs := v1.Group("/runs")
		{
			runs.GET("", h.ListRunsHandler)
			runs.GET("/:id", h.GetRunHandler)
		}

		v1.GET("/cache/stats", h.CacheStatsHandler)
	}
}

type FilterRequest struct {
	SourceID string            `json:"source_id"`
	Articles []*models.Article `json:"articles"`
}

type FilterResponse struct {
	SourceID             string                  `json:"source_id"`
	Stage                models.Stage            `json:"stage"`
	TotalArticles        int                     `json:"total_articles"`
	KeywordFilteredCount int                     `json:"keyword_filtered_count"`
	AIFilteredCount      int                     `json:"ai_filtered_count"`
	FinalSelectedCount   int                     `json:"final_selected_count"`
	ProcessingSeconds    float64                 `json:"processing_seconds"`
	Selected             []batch.SelectedArticle `json:"selected_articles"`
	TagStatistics        *models.TagStatistics   `json:"tag_statistics,omitempty"`
	Errors               []string                `json:"errors,omitempty"`
	Warnings             []string                `json:"warnings,omitempty"`
}

// FilterHandler runs the filter chain synchronously over the posted articles.
func (h *APIHandler) FilterHandler(c *gin.Context) {
	var req FilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if len(req.Articles) == 0 {
		BadRequest(c, "articles must not be empty")
		return
	}
	if len(req.Articles) > maxFilterArticles {
		BadRequest(c, fmt.Sprintf("at most %d articles per request", maxFilterArticles))
		return
	}
	if req.SourceID == "" {
		req.SourceID = "api"
	}
	articles := make([]*models.Article, 0, len(req.Articles))
	for i, a := range req.Articles {
		if a == nil {
			continue
		}
		util.CleanArticle(a)
		if a.Title == "" {
			BadRequest(c, fmt.Sprintf("article %d has no title", i))
			return
		}
		if a.SourceID == "" {
			a.SourceID = req.SourceID
		}
		articles = append(articles, a)
	}

	ch, err := h.App.NewChain()
	if err != nil {
		Internal(c, fmt.Sprintf("FilterHandler: failed to build filter chain: %v", err))
		return
	}
	res := ch.Process(c.Request.Context(), req.SourceID, articles, chain.NopObserver{})
	if res.Stage == models.StageFailed {
		Internal(c, fmt.Sprintf("filter chain failed: %v", res.Errors))
		return
	}
	log.Debugf("API filter: source=%s total=%d selected=%d", req.SourceID, res.TotalArticles, res.FinalSelectedCount)

	resp := FilterResponse{
		SourceID:             res.SourceID,
		Stage:                res.Stage,
		TotalArticles:        res.TotalArticles,
		KeywordFilteredCount: res.KeywordFilteredCount,
		AIFilteredCount:      res.AIFilteredCount,
		FinalSelectedCount:   res.FinalSelectedCount,
		ProcessingSeconds:    res.TotalProcessingTime.Seconds(),
		Selected:             make([]batch.SelectedArticle, 0, len(res.Selected)),
		TagStatistics:        res.TagStatistics,
		Errors:               res.Errors,
		Warnings:             res.Warnings,
	}
	for _, cr := range res.Selected {
		resp.Selected = append(resp.Selected, batch.ExportArticle(cr))
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type EnqueueBatchRequest struct {
	Sources []string `json:"sources" binding:"required"`
}

// EnqueueBatchHandler queues a batch run for the worker.
func (h *APIHandler) EnqueueBatchHandler(c *gin.Context) {
	if h.App.JobClient == nil {
		Unavailable(c, "batch queue is not configured")
		return
	}
	var req EnqueueBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if len(req.Sources) == 0 {
		BadRequest(c, "sources must not be empty")
		return
	}
	run, err := h.App.JobClient.EnqueueBatchRun(c.Request.Context(), req.Sources)
	if err != nil {
		Internal(c, fmt.Sprintf("EnqueueBatchHandler: failed to enqueue batch run: %v", err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": run})
}

func (h *APIHandler) ListRunsHandler(c *gin.Context) {
	if h.App.RunStore == nil {
		Unavailable(c, "run history is not configured")
		return
	}
	limit, offset, err := parsePagination(c)
	if err != nil {
		BadRequest(c, "Invalid query parameters: "+err.Error())
		return
	}
	runs, err := h.App.RunStore.ListRuns(c.Request.Context(), limit, offset)
	if err != nil {
		Internal(c, fmt.Sprintf("ListRunsHandler: failed to list runs: %v", err))
		return
	}
	if runs == nil {
		runs = []*models.BatchRun{}
	}
	c.JSON(http.StatusOK, gin.H{"items": runs})
}

func (h *APIHandler) GetRunHandler(c *gin.Context) {
	if h.App.RunStore == nil {
		Unavailable(c, "run history is not configured")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequest(c, "invalid run id: "+c.Param("id"))
		return
	}
	run, err := h.App.RunStore.GetRun(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			NotFound(c, fmt.Sprintf("Run not found with ID: %s", id))
			return
		}
		Internal(c, fmt.Sprintf("GetRunHandler: failed to retrieve run: %v", err))
		return
	}
	sources, err := h.App.RunStore.ListRunSources(c.Request.Context(), id)
	if err != nil {
		Internal(c, fmt.Sprintf("GetRunHandler: failed to retrieve run sources: %v", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"run": run, "sources": sources}})
}

type CacheStatsResponse struct {
	Enabled bool               `json:"enabled"`
	Metrics *evaluator.Metrics `json:"metrics,omitempty"`
	Keyword *keyword.Metrics   `json:"keyword,omitempty"`
}

func (h *APIHandler) CacheStatsHandler(c *gin.Context) {
	resp := CacheStatsResponse{Enabled: h.App.Cache != nil}
	if h.App.Evaluator != nil {
		m := h.App.Evaluator.Metrics()
		resp.Metrics = &m
	}
	if h.App.Scorer != nil {
		km := h.App.Scorer.Metrics()
		resp.Keyword = &km
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (h *APIHandler) HealthHandler(c *gin.Context) {
	status := gin.H{"status": "ok"}
	if h.App.Store != nil {
		if err := h.App.Store.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
			return
		}
		status["database"] = "ok"
	}
	c.JSON(http.StatusOK, status)
}

func parsePagination(c *gin.Context) (limit, offset int, err error) {
	limit, offset = 20, 0
	if l := c.Query("limit"); l != "" {
		parsed, perr := strconv.Atoi(l)
		if perr != nil || parsed <= 0 {
			return 0, 0, fmt.Errorf("invalid limit: %s", l)
		}
		limit = parsed
	}
	if o := c.Query("offset"); o != "" {
		parsed, perr := strconv.Atoi(o)
		if perr != nil || parsed < 0 {
			return 0, 0, fmt.Errorf("invalid offset: %s", o)
		}
		offset = parsed
	}
	return limit, offset, nil
}
