package processor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type capturedRequest struct {
	path           string
	auth           string
	mode           string
	jobDescription string
	documentID     string
	callbackURL    string
	fileName       string
	fileType       string
	fileBody       string
}

func captureServer(t *testing.T, status int, body string, got *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		got.path = r.URL.Path
		got.auth = r.Header.Get("Authorization")
		got.mode = r.FormValue("mode")
		got.jobDescription = r.FormValue("jobDescription")
		got.documentID = r.FormValue("documentID")
		got.callbackURL = r.FormValue("callbackUrl")
		if f, hdr, err := r.FormFile("file"); err == nil {
			b, _ := io.ReadAll(f)
			got.fileName = hdr.Filename
			got.fileType = hdr.Header.Get("Content-Type")
			got.fileBody = string(b)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func sampleSubmission(mode string) Submission {
	return Submission{
		JobID:          "3f8a0a8e-7f5c-4b8e-9c1e-0c7b1a2d3e4f",
		FileName:       "cv.pdf",
		ContentType:    "application/pdf",
		Content:        []byte("%PDF-1.4 test"),
		Mode:           mode,
		JobDescription: "Senior Go engineer",
		CallbackURL:    "https://api.example.com/api/v1/webhooks/processing/result",
	}
}

func TestHTTPClientInlineSendsMultipartAndParsesResult(t *testing.T) {
	var got capturedRequest
	srv := captureServer(t, http.StatusOK, `{"formattedResume":"ZG9jeA==","feedback":{"score":7,"notes":["tighten summary"]}}`, &got)
	client := NewHTTPClient(srv.URL+"/", "k3y", time.Second)

	res, err := client.Submit(context.Background(), sampleSubmission("FORMAT"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got.path != "/process" || got.auth != "Bearer k3y" {
		t.Fatalf("unexpected request path=%q auth=%q", got.path, got.auth)
	}
	if got.mode != "FORMAT" || got.jobDescription != "Senior Go engineer" {
		t.Fatalf("unexpected form fields %+v", got)
	}
	if got.fileName != "cv.pdf" || got.fileType != "application/pdf" || got.fileBody != "%PDF-1.4 test" {
		t.Fatalf("unexpected file part %+v", got)
	}
	if got.documentID != "" || got.callbackURL != "" {
		t.Fatalf("inline delivery must not send callback fields")
	}
	if res.FormattedFile != "ZG9jeA==" {
		t.Fatalf("expected formattedResume fallback, got %q", res.FormattedFile)
	}
	var feedback map[string]any
	if err := json.Unmarshal([]byte(res.Feedback), &feedback); err != nil {
		t.Fatalf("feedback should be JSON text, got %q", res.Feedback)
	}
	if feedback["score"] != float64(7) {
		t.Fatalf("unexpected feedback %v", feedback)
	}
}

func TestHTTPClientFeedbackModeOmitsJobDescription(t *testing.T) {
	var got capturedRequest
	srv := captureServer(t, http.StatusOK, `{"feedback":"Strong profile"}`, &got)
	client := NewHTTPClient(srv.URL, "k3y", time.Second)

	res, err := client.Submit(context.Background(), sampleSubmission("FEEDBACK"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got.jobDescription != "" {
		t.Fatalf("feedback mode must not send jobDescription")
	}
	if res.Feedback != "Strong profile" {
		t.Fatalf("unexpected feedback %q", res.Feedback)
	}
}

func TestHTTPClientDeferredSendsCallbackFields(t *testing.T) {
	var got capturedRequest
	srv := captureServer(t, http.StatusAccepted, `{"accepted":true}`, &got)
	client := NewHTTPClient(srv.URL, "k3y", time.Second, WithDelivery(DeliveryDeferred))

	res, err := client.Submit(context.Background(), sampleSubmission("LETTER"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res != (Result{}) {
		t.Fatalf("deferred delivery returns no result, got %+v", res)
	}
	if got.documentID != "3f8a0a8e-7f5c-4b8e-9c1e-0c7b1a2d3e4f" || !strings.HasSuffix(got.callbackURL, "/webhooks/processing/result") {
		t.Fatalf("unexpected callback fields %+v", got)
	}
	if client.Delivery() != DeliveryDeferred {
		t.Fatalf("expected deferred delivery")
	}
}

func TestHTTPClientConfigurationErrors(t *testing.T) {
	cases := []struct {
		url, key, msg string
	}{
		{"", "k", "Microservice URL not configured"},
		{"http://processor", "", "Microservice API key not configured"},
	}
	for _, tc := range cases {
		_, err := NewHTTPClient(tc.url, tc.key, time.Second).Submit(context.Background(), sampleSubmission("FEEDBACK"))
		var cfgErr *ConfigurationError
		if !errors.As(err, &cfgErr) || cfgErr.Msg != tc.msg {
			t.Fatalf("expected ConfigurationError %q, got %v", tc.msg, err)
		}
	}
}

func TestHTTPClientClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		name       string
		status     int
		body       string
		transport  bool
		rejection  bool
		wantReason string
	}{
		{"server error", http.StatusBadGateway, `{"message":"upstream down"}`, true, false, ""},
		{"throttled", http.StatusTooManyRequests, `{}`, true, false, ""},
		{"bad request", http.StatusBadRequest, `{"message":["file is not a CV"]}`, false, true, "file is not a CV"},
		{"unprocessable", http.StatusUnprocessableEntity, `{"message":"unsupported language"}`, false, true, "unsupported language"},
		{"failed body", http.StatusOK, `{"status":"FAILED","message":"could not parse CV"}`, false, true, "could not parse CV"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got capturedRequest
			srv := captureServer(t, tc.status, tc.body, &got)
			_, err := NewHTTPClient(srv.URL, "k3y", time.Second).Submit(context.Background(), sampleSubmission("FEEDBACK"))
			if IsTransport(err) != tc.transport || IsRejection(err) != tc.rejection {
				t.Fatalf("unexpected classification for %v", err)
			}
			if tc.wantReason != "" && Reason(err) != tc.wantReason {
				t.Fatalf("expected reason %q, got %q", tc.wantReason, Reason(err))
			}
		})
	}
}

func TestHTTPClientTimeoutIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	_, err := NewHTTPClient(srv.URL, "k3y", 50*time.Millisecond).Submit(context.Background(), sampleSubmission("FEEDBACK"))
	if !IsTransport(err) || !IsTimeout(err) {
		t.Fatalf("expected timeout TransportError, got %v", err)
	}
	if Reason(err) != "processing timed out" {
		t.Fatalf("unexpected reason %q", Reason(err))
	}
}

func TestFeedbackText(t *testing.T) {
	cases := map[string]string{
		``:                  "",
		`null`:              "",
		`"plain"`:           "plain",
		`{"a": 1,  "b":[2]}`: `{"a":1,"b":[2]}`,
	}
	for in, want := range cases {
		if got := FeedbackText(json.RawMessage(in)); got != want {
			t.Fatalf("FeedbackText(%q) = %q, want %q", in, got, want)
		}
	}
}
