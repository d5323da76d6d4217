package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/kiranshivaraju/vista/internal/api/response"
	"github.com/kiranshivaraju/vista/internal/events"
	"github.com/kiranshivaraju/vista/internal/jobs"
	"github.com/kiranshivaraju/vista/internal/store"
	"github.com/kiranshivaraju/vista/pkg/models"
)

const (
	defaultListLimit = 50
	// multipart overhead allowed on top of the largest accepted media file
	formOverhead = 1 << 20
)

// JobService defines the interface the job handlers depend on.
type JobService interface {
	StartJob(ctx context.Context, req jobs.StartRequest) (*models.Job, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, filter store.ListFilter) ([]*models.Job, error)
	RefreshJob(ctx context.Context, id string) (*models.Job, error)
	CancelJob(ctx context.Context, id string) (*models.Job, error)
	DeleteJob(ctx context.Context, id string) error
	Watch(id string) (<-chan events.Event, func(), error)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

type startJobForm struct {
	TemplateID string `validate:"required,max=128"`
}

type listJobsQuery struct {
	States []string `validate:"dive,oneof=PENDING UPLOADING SUBMITTING IN_QUEUE IN_PROGRESS COMPLETED FAILED"`
	Limit  int      `validate:"min=0,max=500"`
}

// NewStartJobHandler returns the handler for POST /api/v1/jobs. The body is multipart with
// a template_id field and a file part; maxBytes bounds the file.
func NewStartJobHandler(svc JobService, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+formOverhead)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, "MEDIA_TOO_LARGE", "Upload exceeds the size limit", nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Body must be multipart/form-data", nil)
			return
		}
		defer r.MultipartForm.RemoveAll()

		form := startJobForm{TemplateID: strings.TrimSpace(r.FormValue("template_id"))}
		if err := validate.Struct(form); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "template_id is required", nil)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "file is required", nil)
			return
		}
		defer file.Close()

		media, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Could not read file", nil)
			return
		}
		if int64(len(media)) > maxBytes {
			response.Error(w, http.StatusRequestEntityTooLarge, "MEDIA_TOO_LARGE", "Upload exceeds the size limit", nil)
			return
		}

		job, err := svc.StartJob(r.Context(), jobs.StartRequest{
			TemplateID: form.TemplateID,
			Media:      media,
			MimeType:   header.Header.Get("Content-Type"),
			FileName:   header.Filename,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		response.Accepted(w, job)
	}
}

// NewListJobsHandler returns the handler for GET /api/v1/jobs.
// Query parameters: state (repeatable or comma separated), limit.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := listJobsQuery{Limit: defaultListLimit}
		for _, v := range r.URL.Query()["state"] {
			for _, s := range strings.Split(v, ",") {
				if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
					q.States = append(q.States, s)
				}
			}
		}
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a number", nil)
				return
			}
			q.Limit = n
		}
		if err := validate.Struct(q); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid state or limit", nil)
			return
		}

		filter := store.ListFilter{Limit: q.Limit}
		for _, s := range q.States {
			filter.States = append(filter.States, models.JobState(s))
		}

		list, err := svc.ListJobs(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}
		if list == nil {
			list = []*models.Job{}
		}
		response.Collection(w, list, response.ListMeta{Count: len(list), Limit: q.Limit})
	}
}

// NewGetJobHandler returns the handler for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return jobAction(svc.GetJob)
}

// NewRefreshJobHandler returns the handler for POST /api/v1/jobs/{jobID}/refresh.
func NewRefreshJobHandler(svc JobService) http.HandlerFunc {
	return jobAction(svc.RefreshJob)
}

// NewCancelJobHandler returns the handler for POST /api/v1/jobs/{jobID}/cancel.
func NewCancelJobHandler(svc JobService) http.HandlerFunc {
	return jobAction(svc.CancelJob)
}

// NewDeleteJobHandler returns the handler for DELETE /api/v1/jobs/{jobID}.
func NewDeleteJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.DeleteJob(r.Context(), chi.URLParam(r, "jobID")); err != nil {
			writeError(w, err)
			return
		}
		response.NoContent(w)
	}
}

func jobAction(fn func(ctx context.Context, id string) (*models.Job, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := fn(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, job)
	}
}
