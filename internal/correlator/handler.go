package correlator

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"cv-processing-backend/internal/jobs"
	"cv-processing-backend/internal/processor"
	"cv-processing-backend/internal/shared/server/middleware"
	"cv-processing-backend/internal/shared/server/respond"
)

// Handler receives processor result webhooks.
type Handler struct {
	Correlator *Correlator
}

// NewHandler constructs a Handler.
func NewHandler(c *Correlator) *Handler {
	return &Handler{Correlator: c}
}

// RegisterRoutes attaches the webhook route. The group must already enforce webhook auth.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/webhooks/processing/result", h.result)
}

type resultPayload struct {
	DocumentID      string          `json:"documentID"`
	Status          string          `json:"status"`
	FormattedFile   string          `json:"formattedFile"`
	FormattedResume string          `json:"formattedResume"`
	CoverLetter     string          `json:"coverLetter"`
	Feedback        json.RawMessage `json:"feedback"`
	Error           string          `json:"error"`
}

func (h *Handler) result(c *gin.Context) {
	var req resultPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	req.DocumentID = strings.TrimSpace(req.DocumentID)
	if _, err := uuid.Parse(req.DocumentID); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "documentID must be a UUID", nil)
		return
	}
	status := jobs.Status(strings.ToUpper(strings.TrimSpace(req.Status)))
	if status != jobs.StatusCompleted && status != jobs.StatusFailed {
		respond.Error(c, http.StatusBadRequest, "validation_error", "status must be COMPLETED or FAILED", nil)
		return
	}
	c.Set(middleware.JobIDKey, req.DocumentID)

	formatted := req.FormattedFile
	if formatted == "" {
		formatted = req.FormattedResume
	}
	outcome, job, err := h.Correlator.Apply(c.Request.Context(), Delivery{
		JobID:  req.DocumentID,
		Status: status,
		Result: jobs.Result{
			FormattedFile: formatted,
			CoverLetter:   req.CoverLetter,
			Feedback:      processor.FeedbackText(req.Feedback),
		},
		FailureReason: req.Error,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidStatus) {
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
			return
		}
		if errors.Is(err, jobs.ErrRollbackFailed) {
			respond.Error(c, http.StatusServiceUnavailable, "rollback_pending", "processing result recorded; quota rollback pending, retry delivery", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to apply processing result", nil)
		return
	}
	if outcome == OutcomeNotFound {
		respond.Error(c, http.StatusNotFound, "not_found", "job not found", nil)
		return
	}
	if outcome == OutcomeApplied {
		from := string(jobs.StatusPending)
		if job.DispatchedAt != nil {
			from = string(jobs.StatusProcessing)
		}
		c.Set(middleware.StatusTransitionKey, from+"->"+string(job.Status))
	}
	respond.OK(c, gin.H{
		"message": "Webhook processed successfully",
		"outcome": outcome,
		"status":  job.Status,
	})
}
