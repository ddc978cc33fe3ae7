package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"cv-processing-backend/internal/shared/metrics"
	"cv-processing-backend/internal/shared/telemetry"
)

const (
	// DefaultTimeout bounds one outbound processor call.
	DefaultTimeout   = 30 * time.Second
	maxResponseBytes = 50 << 20
)

// HTTPClient calls POST {baseURL}/process with a multipart body.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	delivery   Delivery
	httpClient *http.Client
	metrics    *metrics.Registry
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPDoer replaces the underlying *http.Client.
func WithHTTPDoer(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		if c != nil {
			h.httpClient = c
		}
	}
}

// WithDelivery sets the delivery mode.
func WithDelivery(d Delivery) HTTPOption {
	return func(h *HTTPClient) {
		h.delivery = d
	}
}

// WithMetrics records call latency and outcome.
func WithMetrics(m *metrics.Registry) HTTPOption {
	return func(h *HTTPClient) {
		h.metrics = m
	}
}

// NewHTTPClient constructs an HTTPClient. A non-positive timeout uses DefaultTimeout.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, opts ...HTTPOption) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &HTTPClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		delivery:   DeliveryInline,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) Delivery() Delivery {
	return c.delivery
}

type processResponse struct {
	Status          string          `json:"status"`
	Message         json.RawMessage `json:"message"`
	FormattedFile   string          `json:"formattedFile"`
	FormattedResume string          `json:"formattedResume"`
	CoverLetter     string          `json:"coverLetter"`
	Feedback        json.RawMessage `json:"feedback"`
}

// Submit sends the CV. Inline delivery returns the parsed result; deferred
// delivery returns an empty Result once the processor accepts the job.
func (c *HTTPClient) Submit(ctx context.Context, sub Submission) (Result, error) {
	start := time.Now()
	res, err := c.submit(ctx, sub)
	c.metrics.ObserveProcessorCall(string(c.delivery), outcomeLabel(err), time.Since(start))
	if err != nil {
		telemetry.Error("processor.submit_failed", map[string]any{
			"job_id":     sub.JobID,
			"mode":       sub.Mode,
			"delivery":   string(c.delivery),
			"error":      err,
			"request_id": telemetry.RequestIDFromContext(ctx),
		})
	}
	return res, err
}

func (c *HTTPClient) submit(ctx context.Context, sub Submission) (Result, error) {
	if c.baseURL == "" {
		return Result{}, &ConfigurationError{Msg: "Microservice URL not configured"}
	}
	if c.apiKey == "" {
		return Result{}, &ConfigurationError{Msg: "Microservice API key not configured"}
	}

	body, contentType, err := c.buildForm(sub)
	if err != nil {
		return Result{}, fmt.Errorf("build processor request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process", body)
	if err != nil {
		return Result{}, &ConfigurationError{Msg: fmt.Sprintf("invalid microservice URL: %v", err)}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if reqID := telemetry.RequestIDFromContext(ctx); reqID != "" {
		req.Header.Set("X-Request-Id", reqID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, &TransportError{Err: err, timeout: isTimeout(ctx, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, &TransportError{StatusCode: resp.StatusCode, Err: err, timeout: isTimeout(ctx, err)}
	}

	if err := classifyStatus(resp.StatusCode, raw); err != nil {
		return Result{}, err
	}
	if c.delivery == DeliveryDeferred {
		return Result{}, nil
	}

	var parsed processResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, &RemoteRejection{StatusCode: resp.StatusCode, Message: "malformed processor response"}
	}
	if strings.EqualFold(parsed.Status, "FAILED") {
		return Result{}, &RemoteRejection{StatusCode: resp.StatusCode, Message: messageText(parsed.Message)}
	}
	formatted := parsed.FormattedFile
	if formatted == "" {
		formatted = parsed.FormattedResume
	}
	return Result{
		FormattedFile: formatted,
		CoverLetter:   parsed.CoverLetter,
		Feedback:      FeedbackText(parsed.Feedback),
	}, nil
}

func (c *HTTPClient) buildForm(sub Submission) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, sub.FileName))
	ct := sub.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	header.Set("Content-Type", ct)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(sub.Content); err != nil {
		return nil, "", err
	}

	fields := [][2]string{{"mode", sub.Mode}}
	if sub.JobDescription != "" && includesJobDescription(sub.Mode) {
		fields = append(fields, [2]string{"jobDescription", sub.JobDescription})
	}
	if c.delivery == DeliveryDeferred {
		fields = append(fields, [2]string{"documentID", sub.JobID})
		if sub.CallbackURL != "" {
			fields = append(fields, [2]string{"callbackUrl", sub.CallbackURL})
		}
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 500, status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return &TransportError{StatusCode: status, Err: errors.New(errorMessage(status, body))}
	default:
		return &RemoteRejection{StatusCode: status, Message: errorMessage(status, body)}
	}
}

func errorMessage(status int, body []byte) string {
	var parsed struct {
		Message json.RawMessage `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if msg := messageText(parsed.Message); msg != "" {
			return msg
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	return http.StatusText(status)
}

// messageText accepts a string or a list of strings.
func messageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}
	return ""
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsConfiguration(err):
		return "configuration_error"
	case IsTimeout(err):
		return "timeout"
	case IsTransport(err):
		return "transport_error"
	case IsRejection(err):
		return "rejected"
	default:
		return "error"
	}
}

var _ Processor = (*HTTPClient)(nil)
