package httpapi

import (
	"net/http"

	"github.com/nightstudio/paywall/internal/app/services/auth"
	"github.com/nightstudio/paywall/internal/httputil"
)

func (h *handler) authNonce(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wallet string `json:"wallet_address"`
	}
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	challenge, err := h.app.Auth.Challenge(r.Context(), req.Wallet)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, challenge)
}

func (h *handler) authWallet(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	session, err := h.app.Auth.Login(r.Context(), req)
	if err != nil {
		h.log.LogSecurityEvent(r.Context(), "wallet_login_failed", map[string]interface{}{
			"wallet": req.Wallet,
			"error":  err.Error(),
		})
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}
