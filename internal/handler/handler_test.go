package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dandantas/lms-worker/internal/model"
)

type fakeJobs struct {
	jobs map[string]*model.BulkUpload
	err  error
}

func (f *fakeJobs) Get(_ context.Context, id string) (*model.BulkUpload, error) {
	if f.err != nil {
		return nil, f.err
	}
	job, ok := f.jobs[id]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	return job, nil
}

type fakePublisher struct {
	subjects []string
	messages []model.TriggerMessage
	err      error
}

func (f *fakePublisher) PublishJSON(subject string, v any) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.messages = append(f.messages, v.(model.TriggerMessage))
	return nil
}

type queueStats int

func (q queueStats) QueueLength() int { return int(q) }

func newTestRouter(jobs *fakeJobs, pub *fakePublisher, deps map[string]Pinger) http.Handler {
	return NewRouter(
		NewBulkUploadHandler(jobs, pub, "lms.bulkupload.location"),
		NewHealthHandler(deps, queueStats(3), "test"),
	).Handler()
}

func serve(h http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func sampleJobs() *fakeJobs {
	return &fakeJobs{jobs: map[string]*model.BulkUpload{
		"J1": {
			ID:          "J1",
			ObjectType:  model.ObjectTypeLocation,
			Status:      model.JobStatusCompletedWithErrors,
			Payload:     []model.Row{{"code": "A1"}, {"code": "A2"}},
			SuccessRows: []model.Row{{"code": "A1"}},
			FailureRows: []model.Row{{"code": "A2"}},
		},
		"J2": {ID: "J2", ObjectType: model.ObjectTypeLocation, Status: model.JobStatusCreated},
	}}
}

func TestGetBulkUploadStatus(t *testing.T) {
	rec := serve(newTestRouter(sampleJobs(), &fakePublisher{}, nil), http.MethodGet, "/api/v1/bulk-uploads/J1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var status model.BulkUploadStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "J1", status.ID)
	assert.Equal(t, 2, status.TotalRows)
	assert.Equal(t, 1, status.SuccessCount)
	assert.Equal(t, 1, status.FailureCount)
}

func TestGetBulkUploadNotFound(t *testing.T) {
	header := http.Header{"X-Correlation-Id": []string{"corr-7"}}
	rec := serve(newTestRouter(sampleJobs(), &fakePublisher{}, nil), http.MethodGet, "/api/v1/bulk-uploads/missing", header)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, APIError{Code: CodeJobNotFound, Message: "Bulk upload not found", CorrelationID: "corr-7"}, resp.Error)
}

func TestGetBulkUploadStoreFailure(t *testing.T) {
	jobs := &fakeJobs{err: errors.New("connection reset")}
	rec := serve(newTestRouter(jobs, &fakePublisher{}, nil), http.MethodGet, "/api/v1/bulk-uploads/J1", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestTriggerPublishesWithCorrelationID(t *testing.T) {
	pub := &fakePublisher{}
	header := http.Header{"X-Correlation-Id": []string{"corr-42"}}

	rec := serve(newTestRouter(sampleJobs(), pub, nil), http.MethodPost, "/api/v1/bulk-uploads/J2/trigger", header)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, pub.messages, 1)
	assert.Equal(t, "lms.bulkupload.location", pub.subjects[0])
	assert.Equal(t, model.TriggerMessage{JobID: "J2", CorrelationID: "corr-42"}, pub.messages[0])

	var resp TriggerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, "corr-42", resp.CorrelationID)
}

func TestTriggerRejectsFinishedJob(t *testing.T) {
	pub := &fakePublisher{}
	rec := serve(newTestRouter(sampleJobs(), pub, nil), http.MethodPost, "/api/v1/bulk-uploads/J1/trigger", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"JOB_ALREADY_FINISHED"`)
	assert.Empty(t, pub.messages)
}

func TestTriggerPublishFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	rec := serve(newTestRouter(sampleJobs(), pub, nil), http.MethodPost, "/api/v1/bulk-uploads/J2/trigger", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBulkUploadRouting(t *testing.T) {
	h := newTestRouter(sampleJobs(), &fakePublisher{}, nil)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodDelete, "/api/v1/bulk-uploads/J1", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/bulk-uploads/J2/trigger", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/bulk-uploads/J1/rows", http.StatusNotFound},
		{http.MethodGet, "/api/v1/bulk-uploads/", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, serve(h, tt.method, tt.path, nil).Code)
		})
	}
}

func TestSplitJobPath(t *testing.T) {
	id, action := splitJobPath("/api/v1/bulk-uploads/J1/trigger")
	assert.Equal(t, "J1", id)
	assert.Equal(t, "trigger", action)

	id, action = splitJobPath("/api/v1/bulk-uploads/J1/")
	assert.Equal(t, "J1", id)
	assert.Empty(t, action)
}

func TestHealthReportsDependencies(t *testing.T) {
	deps := map[string]Pinger{
		"job_store": PingFunc(func(context.Context) error { return nil }),
		"nats":      PingFunc(func(context.Context) error { return errors.New("down") }),
	}

	rec := serve(newTestRouter(sampleJobs(), &fakePublisher{}, deps), http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, 3, resp.QueueLength)
	assert.Equal(t, map[string]string{"job_store": "connected", "nats": "disconnected"}, resp.Dependencies)
}

func TestReady(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("down") })

	rec := serve(newTestRouter(sampleJobs(), &fakePublisher{}, map[string]Pinger{"job_store": ok}), http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"ready":true`))

	rec = serve(newTestRouter(sampleJobs(), &fakePublisher{}, map[string]Pinger{"job_store": ok, "nats": down}), http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
