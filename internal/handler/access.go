package handler

import (
	"net/http"
	"strconv"

	"github.com/dukerupert/bookshelf/internal/access"
	"github.com/dukerupert/bookshelf/internal/auth"
)

type AccessHandler struct {
	access *access.Service
}

func NewAccessHandler(a *access.Service) *AccessHandler {
	return &AccessHandler{access: a}
}

type accessDecision struct {
	Feature string `json:"feature"`
	Allowed bool   `json:"allowed"`
}

// Check answers the gating questions other parts of the library ask:
// reading a book, auto-approving a review, saving reading progress.
func (h *AccessHandler) Check(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	p := principal(ac)
	feature := r.URL.Query().Get("feature")

	premium := true
	if v := r.URL.Query().Get("premium"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "premium must be true or false"})
			return
		}
		premium = b
	}

	var allowed bool
	switch feature {
	case "book":
		allowed = h.access.CanReadBook(r.Context(), p, premium)
	case "review":
		allowed = h.access.AutoApproveReview(r.Context(), p)
	case "progress":
		allowed = h.access.CanSaveProgress(r.Context(), p, premium)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "feature must be book, review, or progress"})
		return
	}
	writeJSON(w, http.StatusOK, accessDecision{Feature: feature, Allowed: allowed})
}
