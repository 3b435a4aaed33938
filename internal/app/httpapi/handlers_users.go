package httpapi

import (
	"net/http"

	"github.com/nightstudio/paywall/internal/app/domain/user"
	"github.com/nightstudio/paywall/internal/app/services/users"
	apperrors "github.com/nightstudio/paywall/internal/errors"
	"github.com/nightstudio/paywall/internal/httputil"
)

type profileResponse struct {
	User        user.User `json:"user"`
	IsFollowing bool      `json:"is_following"`
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	u, err := h.app.Users.Get(r.Context(), viewerID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *handler) updateMe(w http.ResponseWriter, r *http.Request) {
	var upd users.ProfileUpdate
	if err := httputil.DecodeJSON(w, r, &upd); err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := h.app.Users.UpdateProfile(r.Context(), viewerID(r), upd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *handler) myPurchases(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Purchases.ListPurchasesByUser(r.Context(), viewerID(r))
	if err != nil {
		h.writeError(w, r, apperrors.Internal("list purchases", err))
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) user(w http.ResponseWriter, r *http.Request) {
	u, err := h.app.Users.Get(r.Context(), pathVar(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeProfile(w, r, u)
}

func (h *handler) userByUsername(w http.ResponseWriter, r *http.Request) {
	u, err := h.app.Users.GetByUsername(r.Context(), pathVar(r, "username"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeProfile(w, r, u)
}

func (h *handler) writeProfile(w http.ResponseWriter, r *http.Request, u user.User) {
	following, err := h.app.Users.IsFollowing(r.Context(), viewerID(r), u.ID)
	if err != nil {
		h.writeError(w, r, apperrors.Internal("follow lookup", err))
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{User: u, IsFollowing: following})
}

func (h *handler) follow(w http.ResponseWriter, r *http.Request) {
	f, err := h.app.Users.Follow(r.Context(), viewerID(r), pathVar(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (h *handler) unfollow(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Users.Unfollow(r.Context(), viewerID(r), pathVar(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) followers(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Users.Followers(r.Context(), pathVar(r, "id"))
	if err != nil {
		h.writeError(w, r, apperrors.Internal("list followers", err))
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) following(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Users.Following(r.Context(), pathVar(r, "id"))
	if err != nil {
		h.writeError(w, r, apperrors.Internal("list following", err))
		return
	}
	writeJSON(w, http.StatusOK, list)
}
