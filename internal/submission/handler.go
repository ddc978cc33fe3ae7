package submission

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"cv-processing-backend/internal/documents"
	"cv-processing-backend/internal/jobs"
	"cv-processing-backend/internal/processor"
	"cv-processing-backend/internal/shared/server/middleware"
	"cv-processing-backend/internal/shared/server/respond"
)

// DefaultMaxUploadBytes caps the multipart body.
const DefaultMaxUploadBytes int64 = 10 << 20

// Handler serves the CV upload endpoint.
type Handler struct {
	Svc      *Service
	MaxBytes int64
}

// NewHandler constructs a Handler. A non-positive maxBytes uses DefaultMaxUploadBytes.
func NewHandler(svc *Service, maxBytes int64) *Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &Handler{Svc: svc, MaxBytes: maxBytes}
}

// RegisterRoutes attaches the upload route to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/documents/upload", h.upload)
}

type submitResponse struct {
	Allowed   bool      `json:"allowed"`
	Job       jobs.Job  `json:"job"`
	Remaining int       `json:"remaining"`
	ResetsAt  time.Time `json:"resetsAt"`
}

func (h *Handler) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxBytes)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			respond.Error(c, http.StatusRequestEntityTooLarge, "validation_error",
				fmt.Sprintf("File exceeds the %dMB upload limit", h.MaxBytes>>20), nil)
			return
		}
		respond.Error(c, http.StatusBadRequest, "validation_error", "No CV file uploaded", nil)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}

	contentType := documents.NormalizeMime(mimetype.Detect(data).String(), fileHeader.Filename, data)
	if contentType != documents.MimePDF && contentType != documents.MimeDOCX {
		respond.Error(c, http.StatusBadRequest, "validation_error", "Only PDF and DOCX files are allowed", nil)
		return
	}

	out, err := h.Svc.Submit(c.Request.Context(), Input{
		UserID:         middleware.UserIDFromContext(c),
		FileName:       fileHeader.Filename,
		ContentType:    contentType,
		Content:        data,
		Mode:           c.PostForm("mode"),
		JobDescription: c.PostForm("jobDescription"),
	})
	if out.Job.ID != "" {
		c.Set(middleware.JobIDKey, out.Job.ID)
		c.Set(middleware.StatusTransitionKey, "->"+string(out.Job.Status))
	}
	if err != nil {
		writeError(c, out, err)
		return
	}
	if !out.Allowed {
		respond.Error(c, http.StatusTooManyRequests, "quota_exceeded", out.QuotaMessage, gin.H{
			"remaining": out.Remaining,
			"resetsAt":  out.ResetsAt,
		})
		return
	}

	resp := submitResponse{Allowed: true, Job: out.Job, Remaining: out.Remaining, ResetsAt: out.ResetsAt}
	if out.Job.Status == jobs.StatusProcessing {
		respond.Accepted(c, resp)
		return
	}
	respond.OK(c, resp)
}

func writeError(c *gin.Context, out Outcome, err error) {
	var details any
	if out.Job.ID != "" {
		details = gin.H{"jobId": out.Job.ID, "status": out.Job.Status}
	}

	var verr *ValidationError
	var rej *processor.RemoteRejection
	switch {
	case errors.As(err, &verr):
		respond.Error(c, http.StatusBadRequest, "validation_error", verr.Message, nil)
	case processor.IsConfiguration(err):
		respond.Error(c, http.StatusServiceUnavailable, "configuration_error", "Processing service is not configured", details)
	case processor.IsTimeout(err):
		respond.Error(c, http.StatusGatewayTimeout, "transport_error", "Processing service timed out", details)
	case processor.IsTransport(err):
		respond.Error(c, http.StatusBadGateway, "transport_error", "Processing service is unavailable", details)
	case errors.As(err, &rej):
		msg := strings.TrimSpace(rej.Message)
		if msg == "" {
			msg = "Processing service rejected the document"
		}
		respond.Error(c, http.StatusUnprocessableEntity, "remote_rejection", msg, details)
	case errors.Is(err, ErrStorage):
		respond.Error(c, http.StatusInternalServerError, "storage_error", "Failed to store uploaded CV", details)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "Failed to process CV", details)
	}
}
