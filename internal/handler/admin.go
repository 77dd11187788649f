package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/bookshelf/internal/auth"
	"github.com/dukerupert/bookshelf/internal/intake"
	"github.com/dukerupert/bookshelf/internal/subscription"
)

type AdminHandler struct {
	engine *subscription.Engine
	admin  intake.Admin
	logger *slog.Logger
}

func NewAdminHandler(e *subscription.Engine, admin intake.Admin, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{engine: e, admin: admin, logger: logger}
}

type accountRequest struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// RegisterAccount is called by the auth service when an account is created.
func (h *AdminHandler) RegisterAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	acct, err := h.engine.RegisterAccount(r.Context(), req.ID, req.Email)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

type adminGrantRequest struct {
	AccountID     string `json:"account_id"`
	Plan          string `json:"plan"`
	Amount        int64  `json:"amount"`
	Email         string `json:"email"`
	AutoProvision bool   `json:"auto_provision"`
}

func (h *AdminHandler) Grant(w http.ResponseWriter, r *http.Request) {
	var req adminGrantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	grant, err := h.admin.Grant(intake.AdminGrant{
		AccountID:     req.AccountID,
		PlanID:        req.Plan,
		Amount:        req.Amount,
		GrantedBy:     auth.AccountID(r.Context()),
		ContactEmail:  req.Email,
		AutoProvision: req.AutoProvision,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	snap, err := h.engine.Grant(r.Context(), grant)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.logger.Info("admin grant", "admin_id", auth.AccountID(r.Context()), "account_id", req.AccountID, "plan", req.Plan)
	writeJSON(w, http.StatusOK, snap)
}

func (h *AdminHandler) Get(w http.ResponseWriter, r *http.Request) {
	ent, err := h.engine.Entitlement(r.Context(), r.PathValue("accountID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newSubscriptionResponse(ent, h.engine.Now()))
}

func (h *AdminHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("accountID")
	snap, err := h.engine.Cancel(r.Context(), accountID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.logger.Info("admin cancel", "admin_id", auth.AccountID(r.Context()), "account_id", accountID)
	writeJSON(w, http.StatusOK, snap)
}
