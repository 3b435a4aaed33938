package httpapi

import (
	"errors"
	"net/http"

	"github.com/nightstudio/paywall/internal/app/services/access"
	"github.com/nightstudio/paywall/internal/app/services/media"
	"github.com/nightstudio/paywall/internal/app/services/posts"
	"github.com/nightstudio/paywall/internal/app/services/unlock"
	apperrors "github.com/nightstudio/paywall/internal/errors"
	"github.com/nightstudio/paywall/internal/httputil"
)

func (h *handler) listPosts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views, err := h.app.Posts.Feed(r.Context(), posts.FeedQuery{
		CreatorID: r.URL.Query().Get("creator"),
		Limit:     limit,
		Offset:    offset,
	}, viewerID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handler) createPost(w http.ResponseWriter, r *http.Request) {
	var draft posts.Draft
	if err := httputil.DecodeJSON(w, r, &draft); err != nil {
		h.writeError(w, r, err)
		return
	}
	created, err := h.app.Posts.Create(r.Context(), viewerID(r), draft)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	// the creator always sees their own post in full
	view, err := h.app.Access.View(r.Context(), created, viewerID(r))
	if err != nil {
		h.writeError(w, r, apperrors.Internal("resolve access", err))
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *handler) getPost(w http.ResponseWriter, r *http.Request) {
	view, err := h.app.Posts.Get(r.Context(), pathVar(r, "id"), viewerID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) postAccess(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Posts.Load(r.Context(), pathVar(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.app.Access.ResolveVisibility(r.Context(), p, viewerID(r))
	if err != nil {
		h.writeError(w, r, apperrors.Internal("resolve access", err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type unlockResponse struct {
	Outcome unlock.Outcome  `json:"outcome"`
	Post    access.PostView `json:"post"`
}

func (h *handler) unlock(w http.ResponseWriter, r *http.Request) {
	viewer := viewerID(r)
	p, err := h.app.Posts.Load(r.Context(), pathVar(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	outcome, err := h.app.Unlock.Unlock(r.Context(), viewer, p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := outcome.Err(); err != nil {
		if errors.Is(err, apperrors.ErrRecordWriteFailed) {
			h.log.WithContext(r.Context()).
				WithField("post_id", p.ID).
				WithField("reference", outcome.Reference).
				Error("payment settled but unlock not recorded")
		}
		httputil.WriteError(w, r, err)
		return
	}

	view, err := h.app.Access.View(r.Context(), p, viewer)
	if err != nil {
		h.writeError(w, r, apperrors.Internal("resolve access", err))
		return
	}
	writeJSON(w, http.StatusOK, unlockResponse{Outcome: outcome, Post: view})
}

func (h *handler) like(w http.ResponseWriter, r *http.Request) {
	state, err := h.app.Posts.ToggleLike(r.Context(), viewerID(r), pathVar(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// multipart overhead allowed on top of the file itself
const multipartSlack = 1 << 20

func (h *handler) uploadMedia(w http.ResponseWriter, r *http.Request) {
	if h.app.Media == nil {
		h.writeError(w, r, apperrors.Unavailable("media upload"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, media.MaxUploadBytes+multipartSlack)
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(w, r, apperrors.Validation("file too large"))
			return
		}
		h.writeError(w, r, apperrors.Validation("multipart field \"file\" required"))
		return
	}
	defer file.Close()

	obj, err := h.app.Media.Store(r.Context(), viewerID(r), media.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, obj)
}
