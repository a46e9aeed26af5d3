package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"trendtide/internal/domain"
	"trendtide/internal/jobs"
	"trendtide/internal/middleware"
)

// multipart bodies carry two attachments plus the text fields
const (
	maxThumbnailBody = 2*jobs.MaxAttachmentBytes + 1<<20
	maxContentBody   = 64 << 10
	multipartMemory  = 1 << 20
)

type contentRequest struct {
	Title string `json:"title"`
}

// SubmitThumbnail accepts multipart content, referenceImage and faceImage and
// dispatches a thumbnail generation run.
func (a *App) SubmitThumbnail(w http.ResponseWriter, r *http.Request) {
	id, ok := a.requireIdentity(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxThumbnailBody)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	req := domain.JobRequest{
		Kind:              domain.JobKindThumbnail,
		RequesterIdentity: id.Email,
		Plan:              id.Plan,
		Locale:            middleware.LocaleFromContext(r.Context()),
		Content:           r.FormValue("content"),
	}
	var err error
	if req.ReferenceImage, err = formAttachment(r.MultipartForm, "referenceImage"); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.FaceImage, err = formAttachment(r.MultipartForm, "faceImage"); err != nil {
		a.fail(w, r, err)
		return
	}
	a.dispatch(w, r, req)
}

// SubmitContent accepts {"title": "..."} and dispatches a content generation run.
func (a *App) SubmitContent(w http.ResponseWriter, r *http.Request) {
	id, ok := a.requireIdentity(w, r)
	if !ok {
		return
	}
	var body contentRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxContentBody))
	if err := dec.Decode(&body); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	a.dispatch(w, r, domain.JobRequest{
		Kind:              domain.JobKindContent,
		RequesterIdentity: id.Email,
		Plan:              id.Plan,
		Locale:            middleware.LocaleFromContext(r.Context()),
		Content:           body.Title,
	})
}

// dispatch validates, applies plan gating and emits the event. Nothing is
// emitted unless every check passes.
func (a *App) dispatch(w http.ResponseWriter, r *http.Request, req domain.JobRequest) {
	evt, err := jobs.NewEvent(req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !a.Plans.Allows(req.Plan, req.Kind) {
		a.error(w, http.StatusForbidden, "plan_required", "your plan does not include "+string(req.Kind))
		return
	}
	ids, err := a.Engine.Send(r.Context(), evt)
	if err != nil {
		a.fail(w, r, fmt.Errorf("dispatch %s: %w", evt.Name, err))
		return
	}
	if len(ids) == 0 {
		a.fail(w, r, fmt.Errorf("dispatch %s: no run created", evt.Name))
		return
	}
	a.logger(r).Info().Str("run_id", ids[0]).Str("event", evt.Name).Msg("job dispatched")
	a.json(w, http.StatusAccepted, domain.RunHandle{RunID: ids[0]})
}

func formAttachment(form *multipart.Form, field string) (*domain.Attachment, error) {
	if form == nil || len(form.File[field]) == 0 {
		return nil, nil
	}
	fh := form.File[field][0]
	if fh.Size > jobs.MaxAttachmentBytes {
		return nil, domain.NewValidationError(field, fmt.Sprintf("file exceeds %d bytes", jobs.MaxAttachmentBytes))
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", field, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, jobs.MaxAttachmentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return &domain.Attachment{
		Filename: fh.Filename,
		MIME:     strings.TrimSpace(fh.Header.Get("Content-Type")),
		Data:     data,
	}, nil
}

type contentItem struct {
	ID          int64                    `json:"id"`
	UserInput   string                   `json:"userInput"`
	Titles      []domain.TitleSuggestion `json:"titles"`
	Description string                   `json:"description"`
	Tags        []string                 `json:"tags"`
	Thumbnails  []domain.ThumbnailEntry  `json:"thumbnails"`
	UserEmail   string                   `json:"userEmail"`
	CreatedAt   int64                    `json:"createdAt"`
	UpdatedAt   int64                    `json:"updatedAt"`
}

// ListThumbnails returns the owner's thumbnail history as a JSON array,
// newest first.
func (a *App) ListThumbnails(w http.ResponseWriter, r *http.Request) {
	owner, ok := a.historyOwner(w, r)
	if !ok {
		return
	}
	items, err := a.Thumbnails.ListByOwner(r.Context(), owner)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if items == nil {
		items = []domain.ThumbnailRecord{}
	}
	a.json(w, http.StatusOK, items)
}

// ListContents returns the owner's content packages, newest first.
func (a *App) ListContents(w http.ResponseWriter, r *http.Request) {
	owner, ok := a.historyOwner(w, r)
	if !ok {
		return
	}
	recs, err := a.Contents.ListByOwner(r.Context(), owner)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items := make([]contentItem, 0, len(recs))
	for _, rec := range recs {
		pkg, err := rec.Package()
		if err != nil {
			a.logger(r).Warn().Err(err).Int64("id", rec.ID).Msg("skipping undecodable content package")
			continue
		}
		items = append(items, contentItem{
			ID:          rec.ID,
			UserInput:   rec.UserInput,
			Titles:      pkg.Titles,
			Description: pkg.Description,
			Tags:        pkg.Tags,
			Thumbnails:  pkg.Thumbnails,
			UserEmail:   rec.UserEmail,
			CreatedAt:   rec.CreatedAt,
			UpdatedAt:   rec.UpdatedAt,
		})
	}
	a.json(w, http.StatusOK, items)
}

// historyOwner resolves ?owner=, which defaults to and must equal the caller.
func (a *App) historyOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := a.requireIdentity(w, r)
	if !ok {
		return "", false
	}
	owner := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("owner")))
	if owner == "" {
		return id.Email, true
	}
	if owner != id.Email {
		a.error(w, http.StatusForbidden, "forbidden", "history belongs to another user")
		return "", false
	}
	return owner, true
}
