package runs

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pevans/newscrawl/newsfeed"
)

// APIServer serves the run ledger and stored batches read-only.
type APIServer struct {
	runs    *Store
	batches *newsfeed.Store
}

// NewAPIServer creates a new API server.
func NewAPIServer(runs *Store, batches *newsfeed.Store) *APIServer {
	return &APIServer{
		runs:    runs,
		batches: batches,
	}
}

// SetupRouter configures the Gin router with all routes.
func (s *APIServer) SetupRouter() *gin.Engine {
	router := gin.Default()

	// Add CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	api := router.Group("/api/v1")
	api.GET("/runs", s.HandleListRuns)
	api.GET("/runs/:id", s.HandleGetRun)
	api.GET("/batches", s.HandleListBatches)
	api.GET("/batches/:name", s.HandleGetBatch)

	return router
}

// ListRunsResponse represents the response for GET /api/v1/runs.
type ListRunsResponse struct {
	Runs  []Run `json:"runs"`
	Total int   `json:"total"`
}

// ListBatchesResponse represents the response for GET /api/v1/batches.
type ListBatchesResponse struct {
	Batches []newsfeed.BatchInfo `json:"batches"`
	Total   int                  `json:"total"`
	Errors  []string             `json:"errors,omitempty"`
}

// BatchResponse represents the response for GET /api/v1/batches/{name}.
type BatchResponse struct {
	Name     string             `json:"name"`
	Articles []newsfeed.Article `json:"articles"`
}

// errorResponse creates a standardized error response.
func errorResponse(code, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// handleError maps domain errors to HTTP responses.
func (s *APIServer) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrRunNotFound), errors.Is(err, newsfeed.ErrBatchNotFound):
		c.JSON(http.StatusNotFound, errorResponse("not_found", err.Error()))
	case errors.Is(err, newsfeed.ErrInvalidBatchName):
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, errorResponse("internal_error", "Failed to process request"))
	}
}

// HandleListRuns handles GET /api/v1/runs.
func (s *APIServer) HandleListRuns(c *gin.Context) {
	limit := 0
	if limitParam := c.Query("limit"); limitParam != "" {
		n, err := strconv.Atoi(limitParam)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, errorResponse("bad_request", "limit must be a positive integer"))
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListRunsResponse{Runs: runs, Total: len(runs)})
}

// HandleGetRun handles GET /api/v1/runs/{id}.
func (s *APIServer) HandleGetRun(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", "Invalid run ID"))
		return
	}

	run, err := s.runs.GetRun(c.Request.Context(), id)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, run)
}

// HandleListBatches handles GET /api/v1/batches.
func (s *APIServer) HandleListBatches(c *gin.Context) {
	result, err := s.batches.ListBatches()
	if err != nil {
		s.handleError(c, err)
		return
	}

	resp := ListBatchesResponse{Batches: result.Batches, Total: len(result.Batches)}
	for _, readErr := range result.Errors {
		resp.Errors = append(resp.Errors, readErr.Error())
	}

	c.JSON(http.StatusOK, resp)
}

// HandleGetBatch handles GET /api/v1/batches/{name}.
func (s *APIServer) HandleGetBatch(c *gin.Context) {
	name := c.Param("name")

	articles, err := s.batches.ReadBatch(name)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, BatchResponse{Name: name, Articles: articles})
}
