package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/vista/internal/api/handler"
	"github.com/kiranshivaraju/vista/internal/events"
	"github.com/kiranshivaraju/vista/internal/jobs"
	"github.com/kiranshivaraju/vista/internal/store"
	"github.com/kiranshivaraju/vista/pkg/models"
	"github.com/stretchr/testify/require"
)

// fakeJobService implements handler.JobService with overridable funcs.
type fakeJobService struct {
	StartJobFunc   func(ctx context.Context, req jobs.StartRequest) (*models.Job, error)
	GetJobFunc     func(ctx context.Context, id string) (*models.Job, error)
	ListJobsFunc   func(ctx context.Context, filter store.ListFilter) ([]*models.Job, error)
	RefreshJobFunc func(ctx context.Context, id string) (*models.Job, error)
	CancelJobFunc  func(ctx context.Context, id string) (*models.Job, error)
	DeleteJobFunc  func(ctx context.Context, id string) error
	WatchFunc      func(id string) (<-chan events.Event, func(), error)
}

func (f *fakeJobService) StartJob(ctx context.Context, req jobs.StartRequest) (*models.Job, error) {
	return f.StartJobFunc(ctx, req)
}

func (f *fakeJobService) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return f.GetJobFunc(ctx, id)
}

func (f *fakeJobService) ListJobs(ctx context.Context, filter store.ListFilter) ([]*models.Job, error) {
	return f.ListJobsFunc(ctx, filter)
}

func (f *fakeJobService) RefreshJob(ctx context.Context, id string) (*models.Job, error) {
	return f.RefreshJobFunc(ctx, id)
}

func (f *fakeJobService) CancelJob(ctx context.Context, id string) (*models.Job, error) {
	return f.CancelJobFunc(ctx, id)
}

func (f *fakeJobService) DeleteJob(ctx context.Context, id string) error {
	return f.DeleteJobFunc(ctx, id)
}

func (f *fakeJobService) Watch(id string) (<-chan events.Event, func(), error) {
	return f.WatchFunc(id)
}

var _ handler.JobService = (*fakeJobService)(nil)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Meta  map[string]any  `json:"meta"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details any    `json:"details"`
	} `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

// withJobID routes the request through chi so {jobID} resolves.
func withJobID(method, pattern string, h http.HandlerFunc, path string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Method(method, pattern, h)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

type formFile struct {
	name        string
	contentType string
	data        []byte
}

func multipartBody(t *testing.T, templateID string, file *formFile) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if templateID != "" {
		require.NoError(t, mw.WriteField("template_id", templateID))
	}
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+file.name+`"`)
		h.Set("Content-Type", file.contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(file.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}
