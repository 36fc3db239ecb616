package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"barpos/backend/internal/domain"
)

func (a *API) handleSalesByStaff(w http.ResponseWriter, r *http.Request) {
	rows, err := a.service.SalesByStaff(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": rows})
}

func (a *API) handlePaymentMethods(w http.ResponseWriter, r *http.Request) {
	rows, err := a.service.RevenueByPaymentMethod(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"methods": rows})
}

func (a *API) handleStaffStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.service.StaffStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, domain.AuditRetention)
	entries, err := a.service.ListAudit(r.Context(), limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) handleNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := a.service.ListNotifications(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	unread := 0
	for _, n := range list {
		if !n.Read {
			unread++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list, "unread": unread})
}

func (a *API) handleNotificationsRead(w http.ResponseWriter, r *http.Request) {
	if err := a.service.MarkNotificationsRead(r.Context()); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListStaff(w http.ResponseWriter, r *http.Request) {
	staff, err := a.service.ListStaff(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"staff": staff})
}

func (a *API) handleCreateStaff(w http.ResponseWriter, r *http.Request) {
	var req domain.StaffCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	staff, err := a.service.CreateStaff(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"staff": staff})
}

func (a *API) handleDeactivateStaff(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeactivateStaff(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleChangePIN(w http.ResponseWriter, r *http.Request) {
	var req domain.PINChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.service.ChangePIN(r.Context(), chi.URLParam(r, "id"), req.PIN); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
