package pipeline

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ShahiTechnovation/proofScore/internal/activity"
	"github.com/ShahiTechnovation/proofScore/internal/validation"
)

// Handler provides HTTP endpoints for the assessment pipeline.
type Handler struct {
	orchestrator *Orchestrator
	store        *activity.Store
	signingKey   string
}

// NewHandler creates a new pipeline handler. signingKey is the server's
// default ledger key, used when a request does not carry its own.
func NewHandler(orchestrator *Orchestrator, store *activity.Store, signingKey string) *Handler {
	return &Handler{orchestrator: orchestrator, store: store, signingKey: signingKey}
}

// RegisterRoutes sets up public pipeline routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/accounts/:address/metrics", h.GetMetrics)
	r.GET("/accounts/:address/assessment", h.GetAssessment)
	r.GET("/accounts/:address/score", h.GetScore)
	r.POST("/accounts/:address/attest", h.Attest)
	r.GET("/transactions/:id", h.AwaitTransaction)
}

// RegisterAdminRoutes sets up the operational cache routes. Deployments
// that expose them publicly should wrap the group with auth middleware.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/cache/stats", h.CacheStats)
	r.DELETE("/cache", h.ClearCache)
	r.DELETE("/cache/:address", h.InvalidateAccount)
}

// statusForCode maps pipeline failure codes onto HTTP statuses.
func statusForCode(code Code) int {
	switch code {
	case CodeAddressFormat:
		return http.StatusBadRequest
	case CodeValidation, CodeOnchainExecution:
		return http.StatusUnprocessableEntity
	case CodeMetricsFetch, CodeSubmissionBroadcast:
		return http.StatusBadGateway
	case CodeConfirmationTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the uniform failure envelope: the taxonomy code, a
// human message, and the retry class the caller should follow.
func respondError(c *gin.Context, err error) {
	perr := classify(err)
	c.JSON(statusForCode(perr.Code), gin.H{
		"error":       string(perr.Code),
		"message":     perr.Err.Error(),
		"retrySafety": string(perr.Code.RetrySafety()),
	})
}

// GetMetrics handles GET /v1/accounts/:address/metrics
func (h *Handler) GetMetrics(c *gin.Context) {
	address := c.Param("address")

	m, fallbacks, err := h.orchestrator.MetricsFor(c.Request.Context(), address)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address":   validation.SanitizeAddress(address),
		"metrics":   m,
		"fallbacks": fallbacks,
	})
}

// GetAssessment handles GET /v1/accounts/:address/assessment
func (h *Handler) GetAssessment(c *gin.Context) {
	address := c.Param("address")

	a, breakdown, fallbacks, err := h.orchestrator.AssessAccount(c.Request.Context(), address)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"assessment": a,
		"breakdown":  breakdown,
		"fallbacks":  fallbacks,
	})
}

// GetScore handles GET /v1/accounts/:address/score
func (h *Handler) GetScore(c *gin.Context) {
	address := c.Param("address")

	score, ok, err := h.orchestrator.ScoreFor(c.Request.Context(), address)
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "NOT_FOUND",
			"message": "no score has been issued for this account",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"address": address, "score": score})
}

// Attest handles POST /v1/accounts/:address/attest
func (h *Handler) Attest(c *gin.Context) {
	address := c.Param("address")

	var req struct {
		SigningKey string `json:"signingKey"`
	}
	_ = c.ShouldBindJSON(&req)

	signingKey := req.SigningKey
	if signingKey == "" {
		signingKey = h.signingKey
	}
	if signingKey == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":       string(CodeValidation),
			"message":     "a ledger signing key is required",
			"retrySafety": string(SafetyFixInput),
		})
		return
	}

	result := h.orchestrator.AttestAccount(c.Request.Context(), address, signingKey)
	if result.Err != nil {
		resp := gin.H{
			"error":       string(result.Err.Code),
			"message":     result.Err.Err.Error(),
			"retrySafety": string(result.Err.Code.RetrySafety()),
		}
		// Surface whatever the flow produced before failing, so the caller
		// can poll an in-flight transaction instead of resubmitting.
		if result.Assessment != nil {
			resp["assessment"] = result.Assessment
		}
		if result.TransactionID != "" {
			resp["transactionId"] = result.TransactionID
		}
		c.JSON(statusForCode(result.Err.Code), resp)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// AwaitTransaction handles GET /v1/transactions/:id
func (h *Handler) AwaitTransaction(c *gin.Context) {
	txID := c.Param("id")

	record, err := h.orchestrator.AwaitTransaction(c.Request.Context(), txID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactionId": txID,
		"record":        record,
	})
}

// CacheStats handles GET /v1/cache/stats
func (h *Handler) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cache": h.store.CacheStats()})
}

// ClearCache handles DELETE /v1/cache
func (h *Handler) ClearCache(c *gin.Context) {
	n := h.store.InvalidateAll()
	c.JSON(http.StatusOK, gin.H{
		"invalidated": n,
		"message":     "metrics cache cleared",
	})
}

// InvalidateAccount handles DELETE /v1/cache/:address
func (h *Handler) InvalidateAccount(c *gin.Context) {
	address := c.Param("address")

	if !h.store.Invalidate(address) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "NOT_FOUND",
			"message": "no cached metrics for this account",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "cache entry invalidated"})
}
