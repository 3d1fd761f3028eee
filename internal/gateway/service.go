// Package gateway is the business boundary of the session gateway. It
// composes filters, caches, the recent list and incident resolution into the
// operations the HTTP API exposes.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/ccgate/internal/filters"
	"github.com/linnemanlabs/ccgate/internal/incident"
	"github.com/linnemanlabs/ccgate/internal/model"
	"github.com/linnemanlabs/ccgate/internal/modelcache"
	"github.com/linnemanlabs/ccgate/internal/notify"
	"github.com/linnemanlabs/ccgate/internal/recent"
)

var (
	// ErrBusy is returned when the same long-running operation is already
	// in progress.
	ErrBusy = errors.New("operation already in progress")
	// ErrInvalid marks caller input that cannot be acted on.
	ErrInvalid = errors.New("invalid request")
)

const tracerName = "github.com/linnemanlabs/ccgate/internal/gateway"

// Backend is the subset of the REST client the service calls directly.
type Backend interface {
	ListWorksites(ctx context.Context, incident int64, query url.Values) (model.Page[model.Worksite], error)
	ListUsers(ctx context.Context, query url.Values) (model.Page[model.User], error)
	ListIncidents(ctx context.Context) (model.Page[model.Incident], error)
	SendInvitations(ctx context.Context, emails []string) error
}

// Catalog is the translation source for labels and the localization cache.
type Catalog interface {
	filters.Translator
	Load(ctx context.Context) error
	Purge(ctx context.Context) (int, error)
}

// Realtime reports whether the realtime feed is connected.
type Realtime interface {
	Connected() bool
}

// Deps are the collaborators of a Service.
type Deps struct {
	Backend     Backend
	Models      *modelcache.Registry
	Worksites   *modelcache.Cache[model.Worksite]
	Users       *modelcache.Cache[model.User]
	Recent      *recent.Store
	Resolver    *incident.Resolver
	CurrentUser *incident.CurrentUser
	Toasts      *notify.Center
	Catalog     Catalog
	Metrics     *Metrics
	// Realtime is nil when the feed is disabled.
	Realtime Realtime
	Logger   log.Logger
}

// Service implements the gateway operations.
type Service struct {
	backend     Backend
	models      *modelcache.Registry
	worksites   *modelcache.Cache[model.Worksite]
	users       *modelcache.Cache[model.User]
	recent      *recent.Store
	resolver    *incident.Resolver
	currentUser *incident.CurrentUser
	toasts      *notify.Center
	catalog     Catalog
	metrics     *Metrics
	realtime    Realtime
	logger      log.Logger

	inviting atomic.Bool
	clearing atomic.Bool
}

// NewService creates a gateway service.
func NewService(d Deps) (*Service, error) {
	var errs []error
	if d.Backend == nil {
		errs = append(errs, errors.New("backend is required"))
	}
	if d.Models == nil || d.Worksites == nil || d.Users == nil {
		errs = append(errs, errors.New("model caches are required"))
	}
	if d.Recent == nil {
		errs = append(errs, errors.New("recent store is required"))
	}
	if d.Resolver == nil {
		errs = append(errs, errors.New("incident resolver is required"))
	}
	if d.Toasts == nil {
		errs = append(errs, errors.New("notification center is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	if d.Logger == nil {
		d.Logger = log.Nop()
	}
	return &Service{
		backend:     d.Backend,
		models:      d.Models,
		worksites:   d.Worksites,
		users:       d.Users,
		recent:      d.Recent,
		resolver:    d.Resolver,
		currentUser: d.CurrentUser,
		toasts:      d.Toasts,
		catalog:     d.Catalog,
		metrics:     d.Metrics,
		realtime:    d.Realtime,
		logger:      d.Logger,
	}, nil
}

// Start warms the session: loads the message catalog, seeds the default
// incident from the newest incident and resolves the current user, which
// seeds the incident preference. Failures are logged and reported but do not
// stop the gateway.
func (s *Service) Start(ctx context.Context) {
	if s.catalog != nil {
		if err := s.catalog.Load(ctx); err != nil {
			s.logger.Error(ctx, err, "loading localizations failed")
		}
	}
	s.seedDefaultIncident(ctx)
	if s.currentUser != nil {
		if u, err := s.currentUser.Resolve(ctx); err != nil {
			s.logger.Error(ctx, err, "resolving current user failed")
		} else {
			s.logger.Info(ctx, "current user resolved", "user_id", u.ID, "incident_id", u.States.Incident)
		}
	}
}

// seedDefaultIncident makes the newest incident the fallback used when
// neither a route, a selection nor a saved preference names one.
func (s *Service) seedDefaultIncident(ctx context.Context) {
	page, err := s.backend.ListIncidents(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "listing incidents failed")
		return
	}
	if len(page.Results) == 0 {
		s.logger.Warn(ctx, "no incidents available for a default")
		return
	}
	res := s.resolver.SetDefault(page.Results[0].ID)
	s.logger.Info(ctx, "default incident seeded", "incident_id", page.Results[0].ID, "resolved_id", res.ID)
}

// Removal names one chip to remove before searching.
type Removal struct {
	Filter string `json:"filter"`
	Field  string `json:"field"`
}

// SearchRequest is a filtered search.
type SearchRequest struct {
	Filters map[string]filters.Spec `json:"filters"`
	Remove  []Removal               `json:"remove,omitempty"`
}

// SearchResult is a page of results plus what the filters resolved to.
type SearchResult[T any] struct {
	Count       int                          `json:"count"`
	Results     []T                          `json:"results"`
	Query       string                       `json:"query"`
	FilterCount int                          `json:"filter_count"`
	Labels      map[string]map[string]string `json:"labels"`
}

// resolve decodes req into a filter set, applies removals and returns the
// set with its merged query.
func (s *Service) resolve(req SearchRequest) (filters.Set, url.Values, error) {
	set, err := filters.DecodeSet(req.Filters)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	for _, rm := range req.Remove {
		if err := set.RemoveField(rm.Filter, rm.Field); err != nil {
			return nil, nil, fmt.Errorf("%w: remove %s/%s: %w", ErrInvalid, rm.Filter, rm.Field, err)
		}
	}
	if err := set.Prune(); err != nil {
		return nil, nil, err
	}
	q, err := set.Query()
	if err != nil {
		return nil, nil, err
	}
	return set, q, nil
}

func (s *Service) describe(set filters.Set) (int, map[string]map[string]string, error) {
	n, err := set.Count()
	if err != nil {
		return 0, nil, err
	}
	labels, err := set.Labels(filters.LabelContext{Translator: s.catalog, Directory: s})
	if err != nil {
		return 0, nil, err
	}
	return n, labels, nil
}

// SearchWorksites runs a filtered worksite search in incidentID and merges
// the results into the worksite cache.
func (s *Service) SearchWorksites(ctx context.Context, incidentID int64, req SearchRequest) (_ *SearchResult[model.Worksite], err error) {
	ctx, span := startSearchSpan(ctx, model.Worksites, attribute.Int64("ccgate.incident.id", incidentID))
	defer func() { endSpan(span, err) }()

	if incidentID <= 0 {
		return nil, fmt.Errorf("%w: incident id must be positive", ErrInvalid)
	}
	set, q, err := s.resolve(req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("ccgate.query", q.Encode()))
	page, err := s.backend.ListWorksites(ctx, incidentID, q)
	s.metrics.observeSearch(model.Worksites, err)
	if err != nil {
		return nil, fmt.Errorf("search worksites: %w", err)
	}
	for _, w := range page.Results {
		s.worksites.Put(w.ID, w)
	}
	n, labels, err := s.describe(set)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "worksite search", "incident_id", incidentID, "filters", n, "count", page.Count)
	return &SearchResult[model.Worksite]{
		Count:       page.Count,
		Results:     nonNil(page.Results),
		Query:       q.Encode(),
		FilterCount: n,
		Labels:      labels,
	}, nil
}

// SearchUsers runs a filtered user search and merges the results into the
// user cache.
func (s *Service) SearchUsers(ctx context.Context, req SearchRequest) (_ *SearchResult[model.User], err error) {
	ctx, span := startSearchSpan(ctx, model.Users)
	defer func() { endSpan(span, err) }()

	set, q, err := s.resolve(req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("ccgate.query", q.Encode()))
	page, err := s.backend.ListUsers(ctx, q)
	s.metrics.observeSearch(model.Users, err)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	for _, u := range page.Results {
		s.users.Put(u.ID, u)
	}
	n, labels, err := s.describe(set)
	if err != nil {
		return nil, err
	}
	return &SearchResult[model.User]{
		Count:       page.Count,
		Results:     nonNil(page.Results),
		Query:       q.Encode(),
		FilterCount: n,
		Labels:      labels,
	}, nil
}

func startSearchSpan(ctx context.Context, modelName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("ccgate.model", modelName))
	return otel.Tracer(tracerName).Start(ctx, "gateway.search", trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// RecentWorksites lists recently visited worksites in insertion order.
func (s *Service) RecentWorksites() []recent.Entry {
	return s.recent.List()
}

// VisitWorksite loads worksite id (from cache when resident) and records it
// as recently visited.
func (s *Service) VisitWorksite(ctx context.Context, id int64) (recent.Entry, error) {
	if id <= 0 {
		return recent.Entry{}, fmt.Errorf("%w: worksite id must be positive", ErrInvalid)
	}
	w, err := s.worksites.Get(ctx, id)
	if err != nil {
		return recent.Entry{}, err
	}
	if err := s.recent.Add(ctx, w); err != nil {
		return recent.Entry{}, err
	}
	e, _ := s.recent.Get(id)
	return e, nil
}

// ForgetRecent removes one worksite from the recent list.
func (s *Service) ForgetRecent(ctx context.Context, id int64) error {
	return s.recent.Delete(ctx, id)
}

// ClearRecent empties the recent list.
func (s *Service) ClearRecent(ctx context.Context) error {
	return s.recent.Clear(ctx)
}

// CurrentIncident resolves the current incident. A non-zero routeID is
// applied as the route input first.
func (s *Service) CurrentIncident(ctx context.Context, routeID int64) incident.Resolution {
	if routeID != 0 {
		return s.resolver.SetRoute(ctx, routeID)
	}
	return s.resolver.Current()
}

// SelectIncident is an explicit user choice of incident.
func (s *Service) SelectIncident(ctx context.Context, id int64) (incident.Resolution, error) {
	if id <= 0 {
		return incident.Resolution{}, fmt.Errorf("%w: incident id must be positive", ErrInvalid)
	}
	return s.resolver.Select(ctx, id), nil
}

// Model returns one instance of modelName, fetched through its cache.
func (s *Service) Model(ctx context.Context, modelName string, id int64) (any, error) {
	return s.models.Get(ctx, modelName, id)
}

// ModelStatus reports the cache state of one instance.
func (s *Service) ModelStatus(modelName string, id int64) (modelcache.Status, bool) {
	c, ok := s.models.Lookup(modelName)
	if !ok {
		return modelcache.Status{}, false
	}
	return c.Status(id), true
}

// Toasts lists the current notifications.
func (s *Service) Toasts() []notify.Toast {
	return s.toasts.List()
}

// DismissToast removes one notification.
func (s *Service) DismissToast(id string) bool {
	return s.toasts.Dismiss(id)
}

// Invite sends invitations to emails. Only one invitation run may be in
// flight; the outcome is surfaced as a toast either way.
func (s *Service) Invite(ctx context.Context, emails []string) (err error) {
	if len(emails) == 0 {
		return fmt.Errorf("%w: at least one email is required", ErrInvalid)
	}
	if !s.inviting.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.inviting.Store(false)
	defer func() { s.metrics.observeAction("invite", err) }()

	if err := s.backend.SendInvitations(ctx, emails); err != nil {
		s.toasts.Report(ctx, err, notify.DisplayMessage(err))
		return err
	}
	s.toasts.Success(ctx, fmt.Sprintf("Sent %d invitation(s)", len(emails)))
	return nil
}

// Inviting reports whether an invitation run is in flight.
func (s *Service) Inviting() bool { return s.inviting.Load() }

// ClearCaches forgets every cached model instance, the cached catalogs and
// the recent list. Errors are surfaced as a toast.
func (s *Service) ClearCaches(ctx context.Context) (err error) {
	if !s.clearing.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.clearing.Store(false)
	defer func() { s.metrics.observeAction("clear_cache", err) }()

	s.models.ClearAll()
	var errs []error
	if s.catalog != nil {
		if _, err := s.catalog.Purge(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.recent.Clear(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		s.toasts.Report(ctx, err, "Could not clear all cached data")
		return err
	}
	s.toasts.Success(ctx, "Cache cleared")
	return nil
}

// Clearing reports whether a cache clear is in flight.
func (s *Service) Clearing() bool { return s.clearing.Load() }

// Status is a snapshot of the session's background activity.
type Status struct {
	RealtimeEnabled   bool `json:"realtime_enabled"`
	RealtimeConnected bool `json:"realtime_connected"`
	Inviting          bool `json:"inviting"`
	Clearing          bool `json:"clearing"`
}

// Status reports the realtime feed and in-flight session work.
func (s *Service) Status() Status {
	st := Status{Inviting: s.Inviting(), Clearing: s.Clearing()}
	if s.realtime != nil {
		st.RealtimeEnabled = true
		st.RealtimeConnected = s.realtime.Connected()
	}
	return st
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
