// Package ccapi is a client for the Crisis Cleanup REST API.
package ccapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/ccgate/internal/model"
)

const (
	httpTimeout = 30 * time.Second
	maxErrBody  = 512
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ccapi: %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// DisplayMessage is the text shown to users for this error. The backend's
// "detail" member is used when present.
func (e *APIError) DisplayMessage() string {
	var body struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal([]byte(e.Body), &body) == nil && body.Detail != "" {
		return body.Detail
	}
	return fmt.Sprintf("The server could not complete the request (%d)", e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client calls the backend API with a bearer token.
type Client struct {
	base       *url.URL
	token      string
	httpClient *http.Client
}

// New creates a client for baseURL. A nil httpClient gets a traced client
// with a 30s timeout.
func New(baseURL, token string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("ccapi: invalid base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("ccapi: base url %q must be absolute", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{base: u, token: token, httpClient: httpClient}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := *c.base
	u.Path += path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("ccapi: marshal %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("ccapi: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // base url is trusted config
	if err != nil {
		return fmt.Errorf("ccapi: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ccapi: decode %s %s: %w", method, path, err)
	}
	return nil
}

func idPath(collection string, id int64) string {
	return "/" + collection + "/" + strconv.FormatInt(id, 10)
}

// ListWorksites searches worksites of incident with the given filter query.
func (c *Client) ListWorksites(ctx context.Context, incident int64, query url.Values) (model.Page[model.Worksite], error) {
	q := cloneValues(query)
	q.Set("incident", strconv.FormatInt(incident, 10))
	var page model.Page[model.Worksite]
	err := c.do(ctx, http.MethodGet, "/worksites", q, nil, &page)
	return page, err
}

// GetWorksite fetches one worksite.
func (c *Client) GetWorksite(ctx context.Context, id int64) (model.Worksite, error) {
	var w model.Worksite
	err := c.do(ctx, http.MethodGet, idPath(model.Worksites, id), nil, nil, &w)
	return w, err
}

// GetIncident fetches one incident.
func (c *Client) GetIncident(ctx context.Context, id int64) (model.Incident, error) {
	var inc model.Incident
	err := c.do(ctx, http.MethodGet, idPath(model.Incidents, id), nil, nil, &inc)
	return inc, err
}

// ListIncidents lists incidents, newest first.
func (c *Client) ListIncidents(ctx context.Context) (model.Page[model.Incident], error) {
	q := url.Values{"sort": {"-start_at"}, "limit": {"200"}}
	var page model.Page[model.Incident]
	err := c.do(ctx, http.MethodGet, "/incidents", q, nil, &page)
	return page, err
}

// GetUser fetches one user.
func (c *Client) GetUser(ctx context.Context, id int64) (model.User, error) {
	var u model.User
	err := c.do(ctx, http.MethodGet, idPath(model.Users, id), nil, nil, &u)
	return u, err
}

// GetMe fetches the user the token belongs to.
func (c *Client) GetMe(ctx context.Context) (model.User, error) {
	var u model.User
	err := c.do(ctx, http.MethodGet, "/users/me", nil, nil, &u)
	return u, err
}

// ListUsers searches users with the given filter query.
func (c *Client) ListUsers(ctx context.Context, query url.Values) (model.Page[model.User], error) {
	var page model.Page[model.User]
	err := c.do(ctx, http.MethodGet, "/users", cloneValues(query), nil, &page)
	return page, err
}

// UpdateUserStates saves the current user's UI states.
func (c *Client) UpdateUserStates(ctx context.Context, states model.UserStates) (model.User, error) {
	var u model.User
	in := map[string]any{"states": states}
	err := c.do(ctx, http.MethodPatch, "/users/me", nil, in, &u)
	return u, err
}

// SaveIncidentPreference stores id as the current user's selected incident.
func (c *Client) SaveIncidentPreference(ctx context.Context, id int64) error {
	_, err := c.UpdateUserStates(ctx, model.UserStates{Incident: id})
	return err
}

// GetTeam fetches one team.
func (c *Client) GetTeam(ctx context.Context, id int64) (model.Team, error) {
	var t model.Team
	err := c.do(ctx, http.MethodGet, idPath(model.Teams, id), nil, nil, &t)
	return t, err
}

// GetRole fetches one role.
func (c *Client) GetRole(ctx context.Context, id int64) (model.Role, error) {
	var r model.Role
	err := c.do(ctx, http.MethodGet, idPath(model.Roles, id), nil, nil, &r)
	return r, err
}

// GetLocalizations fetches the message catalog for locale.
func (c *Client) GetLocalizations(ctx context.Context, locale string) (map[string]string, error) {
	var out struct {
		Translations map[string]string `json:"translations"`
	}
	if err := c.do(ctx, http.MethodGet, "/languages/"+url.PathEscape(locale)+"/localizations", nil, nil, &out); err != nil {
		return nil, err
	}
	if out.Translations == nil {
		out.Translations = map[string]string{}
	}
	return out.Translations, nil
}

// SendInvitations invites each address. Every address is attempted; the
// failures are joined.
func (c *Client) SendInvitations(ctx context.Context, emails []string) error {
	var errs []error
	for _, email := range emails {
		in := map[string]string{"invitee_email": email}
		if err := c.do(ctx, http.MethodPost, "/invitations", nil, in, nil); err != nil {
			errs = append(errs, fmt.Errorf("invite %s: %w", email, err))
		}
	}
	return errors.Join(errs...)
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+1)
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
