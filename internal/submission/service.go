package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"cv-processing-backend/internal/documents"
	"cv-processing-backend/internal/jobs"
	"cv-processing-backend/internal/processor"
	"cv-processing-backend/internal/quota"
	"cv-processing-backend/internal/shared/storage/object"
	"cv-processing-backend/internal/shared/telemetry"
	"cv-processing-backend/internal/shared/util"
)

// Input is one CV upload.
type Input struct {
	UserID         string
	FileName       string
	ContentType    string
	Content        []byte
	Mode           string
	JobDescription string
}

// Outcome reports what Submit did. When Allowed is false only the quota
// fields are set.
type Outcome struct {
	Allowed      bool
	Job          jobs.Job
	QuotaMessage string
	Remaining    int
	ResetsAt     time.Time
}

// Service runs the admit, record, process and compensate flow.
type Service struct {
	ledger      *quota.Ledger
	machine     *jobs.Machine
	docs        *documents.Service
	proc        processor.Processor
	callbackURL string
	newID       func() string
}

// Option configures a Service.
type Option func(*Service)

// WithCallbackURL sets the webhook URL sent with deferred submissions.
func WithCallbackURL(u string) Option {
	return func(s *Service) {
		s.callbackURL = strings.TrimSpace(u)
	}
}

// WithIDGenerator overrides job id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewService constructs a Service.
func NewService(ledger *quota.Ledger, machine *jobs.Machine, docs *documents.Service, proc processor.Processor, opts ...Option) *Service {
	s := &Service{
		ledger:  ledger,
		machine: machine,
		docs:    docs,
		proc:    proc,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Delivery reports whether submissions complete inline or through the webhook.
func (s *Service) Delivery() processor.Delivery {
	return s.proc.Delivery()
}

// Submit validates the upload, admits one unit of quota and hands the CV to
// the processor. Any failure after admission is compensated exactly once.
// A failed inline job is returned alongside the error.
func (s *Service) Submit(ctx context.Context, in Input) (Outcome, error) {
	mode, inspection, err := validate(in)
	if err != nil {
		return Outcome{}, err
	}

	decision, err := s.ledger.Admit(ctx, in.UserID)
	if err != nil {
		return Outcome{}, fmt.Errorf("admit: %w", err)
	}
	if !decision.Allowed {
		return Outcome{
			Allowed:      false,
			QuotaMessage: decision.Message,
			Remaining:    decision.Remaining,
			ResetsAt:     decision.ResetsAt,
		}, nil
	}
	admitted := Outcome{Allowed: true, Remaining: decision.Remaining, ResetsAt: decision.ResetsAt}

	id := s.newID()
	storageKey, err := object.Key(in.UserID, id, in.FileName)
	if err != nil {
		s.rollback(ctx, in.UserID)
		return Outcome{}, invalid("Invalid file name")
	}
	job, err := s.machine.Submit(ctx, jobs.Job{
		ID:             id,
		UserID:         in.UserID,
		Mode:           mode,
		JobDescription: strings.TrimSpace(in.JobDescription),
		FileName:       in.FileName,
		ContentType:    inspection.MimeType,
		StorageKey:     storageKey,
	})
	if err != nil {
		// No job exists yet, so the unit goes back directly.
		s.rollback(ctx, in.UserID)
		return Outcome{}, err
	}

	doc, err := s.docs.Store(ctx, documents.Upload{
		ID:        id,
		UserID:    in.UserID,
		FileName:  in.FileName,
		MimeType:  inspection.MimeType,
		PageCount: inspection.PageCount,
		Data:      in.Content,
	})
	if err != nil {
		failed := s.fail(ctx, id, "failed to store uploaded CV")
		admitted.Job = failed
		return admitted, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	sub := processor.Submission{
		JobID:          id,
		FileName:       in.FileName,
		ContentType:    inspection.MimeType,
		Content:        in.Content,
		StorageKey:     doc.StorageKey,
		Mode:           string(mode),
		JobDescription: job.JobDescription,
	}

	if s.proc.Delivery() == processor.DeliveryDeferred {
		return s.submitDeferred(ctx, admitted, sub)
	}
	return s.submitInline(ctx, admitted, sub)
}

func (s *Service) submitInline(ctx context.Context, out Outcome, sub processor.Submission) (Outcome, error) {
	res, err := s.proc.Submit(ctx, sub)
	if err != nil {
		out.Job = s.fail(ctx, sub.JobID, processor.Reason(err))
		return out, err
	}
	job, err := s.machine.Resolve(ctx, sub.JobID, jobs.Result{
		FormattedFile: res.FormattedFile,
		CoverLetter:   res.CoverLetter,
		Feedback:      res.Feedback,
	})
	if errors.Is(err, jobs.ErrAlreadyTerminal) {
		out.Job = job
		return out, fmt.Errorf("resolve job: %w", err)
	}
	if err != nil {
		out.Job = s.fail(ctx, sub.JobID, "failed to record processing result")
		return out, fmt.Errorf("resolve job: %w", err)
	}
	out.Job = job
	return out, nil
}

func (s *Service) submitDeferred(ctx context.Context, out Outcome, sub processor.Submission) (Outcome, error) {
	job, err := s.machine.Dispatch(ctx, sub.JobID)
	if err != nil {
		out.Job = s.fail(ctx, sub.JobID, "failed to dispatch job")
		return out, fmt.Errorf("dispatch job: %w", err)
	}
	sub.CallbackURL = s.callbackURL
	if _, err := s.proc.Submit(ctx, sub); err != nil {
		out.Job = s.fail(ctx, sub.JobID, processor.Reason(err))
		return out, err
	}
	out.Job = job
	return out, nil
}

func (s *Service) rollback(ctx context.Context, userID string) {
	if err := s.ledger.Rollback(context.WithoutCancel(ctx), userID); err != nil {
		telemetry.Error("quota.rollback_failed", map[string]any{
			"user_id":    userID,
			"error":      err.Error(),
			"request_id": telemetry.RequestIDFromContext(ctx),
		})
	}
}

// fail moves the job to FAILED, which returns its quota unit. A job the
// correlator already finished is left alone.
func (s *Service) fail(ctx context.Context, id, reason string) jobs.Job {
	job, err := s.machine.Fail(context.WithoutCancel(ctx), id, reason)
	if err != nil && !errors.Is(err, jobs.ErrAlreadyTerminal) {
		telemetry.Error("job.fail_failed", map[string]any{
			"job_id":     id,
			"error":      err.Error(),
			"request_id": telemetry.RequestIDFromContext(ctx),
		})
	}
	return job
}

func validate(in Input) (jobs.Mode, documents.Inspection, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return "", documents.Inspection{}, invalid("User is required")
	}
	mode, ok := jobs.ParseMode(in.Mode)
	if !ok {
		return "", documents.Inspection{}, invalid("Mode must be one of FORMAT, FEEDBACK or LETTER")
	}
	if mode.RequiresJobDescription() && strings.TrimSpace(in.JobDescription) == "" {
		switch mode {
		case jobs.ModeLetter:
			return "", documents.Inspection{}, invalid("Job description is required for cover letter mode")
		default:
			return "", documents.Inspection{}, invalid("Job description is required for formatting mode")
		}
	}
	if len(in.Content) == 0 {
		return "", documents.Inspection{}, invalid("No CV file uploaded")
	}
	if _, err := util.SanitizeFileName(in.FileName); err != nil {
		return "", documents.Inspection{}, invalid("Invalid file name")
	}

	mime := documents.NormalizeMime(in.ContentType, in.FileName, in.Content)
	if mime != documents.MimePDF && mime != documents.MimeDOCX {
		return "", documents.Inspection{}, invalid("Only PDF and DOCX files are allowed")
	}
	inspection, err := documents.Inspect(in.Content, mime)
	if err != nil {
		return "", documents.Inspection{}, invalid("The uploaded CV could not be read")
	}
	return mode, inspection, nil
}
