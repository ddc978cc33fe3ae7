package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"cv-processing-backend/internal/shared/server/middleware"
)

func newJobsRouter(t *testing.T, repo Repo) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api/v1", middleware.Auth("dev"))
	NewHandler(repo).RegisterRoutes(api)
	return r
}

const ownedJobID = "0f8b3c52-6d1e-4a7b-9c2d-5e4f3a2b1c0d"

func TestGetJobOwnerOnly(t *testing.T) {
	repo := NewMemoryRepo()
	if err := repo.Create(context.Background(), Job{
		ID: ownedJobID, UserID: "guest:alice", Mode: ModeFeedback, Status: StatusPending,
		SubmittedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	router := newJobsRouter(t, repo)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+ownedJobID, nil)
	req.Header.Set("X-Guest-Id", "alice")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var got Job
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != ownedJobID || got.Status != StatusPending {
		t.Fatalf("unexpected job %+v", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+ownedJobID, nil)
	req.Header.Set("X-Guest-Id", "mallory")
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for non-owner, got %d", resp.Code)
	}
}

func TestListJobsPaginates(t *testing.T) {
	repo := NewMemoryRepo()
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := repo.Create(context.Background(), Job{
			ID: id, UserID: "guest:alice", Mode: ModeFeedback, Status: StatusPending,
			SubmittedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	router := newJobsRouter(t, repo)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?limit=2&offset=0", nil)
	req.Header.Set("X-Guest-Id", "alice")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var page struct {
		Items []Job `json:"items"`
		Limit int   `json:"limit"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Items) != 2 || page.Items[0].ID != "c" || page.Limit != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
}

// failingGetRepo errors like Postgres does when a non-UUID reaches a uuid column.
type failingGetRepo struct {
	*MemoryRepo
}

func (failingGetRepo) GetByID(context.Context, string) (Job, error) {
	return Job{}, errors.New(`invalid input syntax for type uuid: "not-a-uuid"`)
}

func TestGetJobRejectsNonUUIDWithoutQuerying(t *testing.T) {
	router := newJobsRouter(t, failingGetRepo{MemoryRepo: NewMemoryRepo()})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/not-a-uuid", nil)
	req.Header.Set("X-Guest-Id", "alice")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", resp.Code, resp.Body.String())
	}
}
