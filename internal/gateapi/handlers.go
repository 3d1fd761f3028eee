package gateapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/ccgate/internal/gateway"
)

func (a *API) handleSearchWorksites(w http.ResponseWriter, r *http.Request) {
	incidentID, ok := idParam(w, r, "incidentID")
	if !ok {
		return
	}
	var req gateway.SearchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.Int64("ccgate.incident.id", incidentID),
		attribute.Int("ccgate.filters", len(req.Filters)),
	)

	res, err := a.svc.SearchWorksites(r.Context(), incidentID, req)
	if err != nil {
		a.fail(w, r, err, "search_worksites")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	var req gateway.SearchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := a.svc.SearchUsers(r.Context(), req)
	if err != nil {
		a.fail(w, r, err, "search_users")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleListRecent(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"results": a.svc.RecentWorksites()})
}

func (a *API) handleVisitWorksite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID int64 `json:"id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	e, err := a.svc.VisitWorksite(r.Context(), body.ID)
	if err != nil {
		a.fail(w, r, err, "visit_worksite")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *API) handleForgetRecent(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := a.svc.ForgetRecent(r.Context(), id); err != nil {
		a.fail(w, r, err, "forget_recent")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleClearRecent(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.ClearRecent(r.Context()); err != nil {
		a.fail(w, r, err, "clear_recent")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGetCurrentIncident(w http.ResponseWriter, r *http.Request) {
	var route int64
	if raw := r.URL.Query().Get("route"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "invalid route")
			return
		}
		route = id
	}
	writeJSON(w, http.StatusOK, a.svc.CurrentIncident(r.Context(), route))
}

func (a *API) handleSelectIncident(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IncidentID int64 `json:"incident_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	res, err := a.svc.SelectIncident(r.Context(), body.IncidentID)
	if err != nil {
		a.fail(w, r, err, "select_incident")
		return
	}
	// the preference write continues in the background
	writeJSON(w, http.StatusAccepted, res)
}

func (a *API) handleGetModel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "model")
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("ccgate.model", name), attribute.Int64("ccgate.model.id", id))

	v, err := a.svc.Model(r.Context(), name, id)
	if err != nil {
		a.fail(w, r, err, "get_model")
		return
	}
	if st, ok := a.svc.ModelStatus(name, id); ok {
		w.Header().Set("X-Cache-State", string(st.State))
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) handleListToasts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"results": a.svc.Toasts()})
}

func (a *API) handleDismissToast(w http.ResponseWriter, r *http.Request) {
	if !a.svc.DismissToast(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleInvite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Emails []string `json:"emails"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := a.svc.Invite(r.Context(), body.Emails); err != nil {
		a.fail(w, r, err, "invite")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": len(body.Emails)})
}

func (a *API) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.ClearCaches(r.Context()); err != nil {
		a.fail(w, r, err, "clear_cache")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Status())
}
