package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"outsy/services/auth/internal/apperr"
	"outsy/services/auth/internal/session"
	"outsy/services/auth/internal/users"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken *string `json:"refreshToken"`
}

type roleRequest struct {
	Role string `json:"role"`
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in session.SignupInput
	if err := decodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}

	sess, err := h.svc.Signup(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, sess)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	sess, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.RefreshToken == nil {
		h.fail(w, r, apperr.BadRequest("refreshToken is required"))
		return
	}

	pair, err := h.svc.Refresh(r.Context(), *req.RefreshToken)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, pair)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.RefreshToken == nil {
		h.fail(w, r, apperr.BadRequest("refreshToken is required"))
		return
	}

	h.svc.Logout(r.Context(), *req.RefreshToken)
	respondJSON(w, http.StatusOK, map[string]any{"message": "Successfully logged out"})
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	n := h.svc.LogoutAll(r.Context(), id.UserID)
	respondJSON(w, http.StatusOK, map[string]any{"message": "Successfully logged out", "revoked": n})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	respondJSON(w, http.StatusOK, id)
}

func (h *Handler) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	target, err := uuid.Parse(chi.URLParam(r, "userId"))
	if err != nil {
		h.fail(w, r, apperr.NotFound("user not found"))
		return
	}

	var req roleRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	role, ok := users.ParseRole(req.Role)
	if !ok {
		h.fail(w, r, apperr.BadRequest("role must be USER or ADMIN"))
		return
	}

	actor, _ := IdentityFrom(r.Context())
	user, err := h.svc.ChangeRole(r.Context(), actor.UserID, target, role)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}
