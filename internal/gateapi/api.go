// Package gateapi exposes the gateway service over HTTP.
package gateapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/ccgate/internal/ccapi"
	"github.com/linnemanlabs/ccgate/internal/gateway"
	"github.com/linnemanlabs/ccgate/internal/incident"
	"github.com/linnemanlabs/ccgate/internal/model"
	"github.com/linnemanlabs/ccgate/internal/modelcache"
	"github.com/linnemanlabs/ccgate/internal/notify"
	"github.com/linnemanlabs/ccgate/internal/recent"
)

const maxBodyBytes = 1 << 20

// Service defines the gateway operations the API needs.
type Service interface {
	SearchWorksites(ctx context.Context, incidentID int64, req gateway.SearchRequest) (*gateway.SearchResult[model.Worksite], error)
	SearchUsers(ctx context.Context, req gateway.SearchRequest) (*gateway.SearchResult[model.User], error)
	RecentWorksites() []recent.Entry
	VisitWorksite(ctx context.Context, id int64) (recent.Entry, error)
	ForgetRecent(ctx context.Context, id int64) error
	ClearRecent(ctx context.Context) error
	CurrentIncident(ctx context.Context, routeID int64) incident.Resolution
	SelectIncident(ctx context.Context, id int64) (incident.Resolution, error)
	Model(ctx context.Context, modelName string, id int64) (any, error)
	ModelStatus(modelName string, id int64) (modelcache.Status, bool)
	Toasts() []notify.Toast
	DismissToast(id string) bool
	Invite(ctx context.Context, emails []string) error
	ClearCaches(ctx context.Context) error
	Status() gateway.Status
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    Service
}

// New creates a new API handler.
func New(logger log.Logger, svc Service) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("gateway service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/incidents/{incidentID}/worksites/search", a.handleSearchWorksites)
		r.Post("/users/search", a.handleSearchUsers)

		r.Get("/recent-worksites", a.handleListRecent)
		r.Post("/recent-worksites", a.handleVisitWorksite)
		r.Delete("/recent-worksites", a.handleClearRecent)
		r.Delete("/recent-worksites/{id}", a.handleForgetRecent)

		r.Get("/current-incident", a.handleGetCurrentIncident)
		r.Put("/current-incident", a.handleSelectIncident)

		r.Get("/models/{model}/{id}", a.handleGetModel)

		r.Get("/toasts", a.handleListToasts)
		r.Delete("/toasts/{id}", a.handleDismissToast)

		r.Post("/invitations", a.handleInvite)
		r.Post("/cache/clear", a.handleClearCache)

		r.Get("/status", a.handleStatus)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps a service error to a status code and writes it.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error, op string) {
	var apiErr *ccapi.APIError
	switch {
	case errors.Is(err, gateway.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, gateway.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, modelcache.ErrUnknownModel), ccapi.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not found")
	case errors.As(err, &apiErr):
		a.logger.Warn(r.Context(), "backend request failed", "op", op, "status", apiErr.StatusCode)
		writeError(w, http.StatusBadGateway, apiErr.DisplayMessage())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "backend timed out")
	default:
		a.logger.Error(r.Context(), err, "request failed", "op", op)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}
