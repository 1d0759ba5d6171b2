package handlers

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"weaver/internal/httpkit"
	"weaver/internal/models"
	"weaver/internal/pkg/errors"
)

const maxSubmitBody = 1 << 20

type CreateRenderRequest struct {
	CompositionID string        `json:"compositionId"`
	Parameters    models.Params `json:"parameters"`
}

type CreateRenderResponse struct {
	JobID string `json:"jobId"`
}

func (h *Handler) PostRender(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBody)

	var req CreateRenderRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		return errors.WrapWithCode(err, errors.CodeValidation, "handlers.PostRender", "invalid json body")
	}

	if err := h.renders.Validate(req.CompositionID, req.Parameters); err != nil {
		return err
	}

	id, err := h.renders.Submit(r.Context(), req.CompositionID, req.Parameters)
	if err != nil {
		if id != "" {
			w.Header().Set("X-Render-Job-ID", id)
		}
		return err
	}

	w.Header().Set("Location", "/renders/"+id)
	httpkit.WriteJSON(w, http.StatusAccepted, CreateRenderResponse{JobID: id})
	return nil
}

func (h *Handler) GetRender(w http.ResponseWriter, r *http.Request) error {
	job, err := h.renders.Progress(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, job)
	return nil
}

func (h *Handler) CancelRender(w http.ResponseWriter, r *http.Request) error {
	job, err := h.renders.Cancel(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, job)
	return nil
}

func (h *Handler) ListRenders(w http.ResponseWriter, r *http.Request) error {
	limit := 0
	if s := strings.TrimSpace(r.URL.Query().Get("limit")); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			return errors.ValidationField("limit", "limit must be a positive integer")
		}
		limit = v
	}

	jobs, err := h.renders.List(r.Context(), limit)
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"items": jobs, "count": len(jobs)})
	return nil
}

func (h *Handler) DownloadRender(w http.ResponseWriter, r *http.Request) error {
	a, err := h.renders.OpenArtifact(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		return err
	}
	defer a.Body.Close()

	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+a.Filename+`"`)
	if a.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(a.Size, 10))
	}
	if _, err := io.Copy(w, a.Body); err != nil {
		h.log.FromContext(r.Context()).Warn("artifact download interrupted", "error", err.Error())
	}
	return nil
}
