// Package apiclient implements the storage interfaces against a remote
// checkform server.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/maruel/checkform/internal/models"
	"github.com/maruel/checkform/internal/server/dto"
	"github.com/maruel/checkform/internal/storage"
	"github.com/maruel/ksid"
)

var _ storage.Store = (*Client)(nil)

// Options configures a Client.
type Options struct {
	// BaseURL is the server root, e.g. http://localhost:8080.
	BaseURL string
	// Token is sent as a bearer token when set.
	Token   string
	Timeout time.Duration
	Debug   bool
}

// Client is a storage.Store backed by the HTTP API. Calls are never retried:
// transport failures surface as *models.StoreUnavailableError and the caller
// decides.
type Client struct {
	http *resty.Client
}

// New returns a client of the server at opts.BaseURL.
func New(opts Options) (*Client, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base URL must have a host, got %q", opts.BaseURL)
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimSuffix(opts.BaseURL, "/")+"/api/v1").
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json").
		SetDebug(opts.Debug)
	if opts.Token != "" {
		c.SetAuthToken(opts.Token)
	}
	return &Client{http: c}, nil
}

// do performs one request. body and result may be nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, result any) error {
	req := c.http.R().SetContext(ctx).SetError(&models.ErrorResponse{})
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}
	op := method + " " + path
	resp, err := req.Execute(method, path)
	if err != nil {
		return models.Unavailable(op, err)
	}
	if !resp.IsError() {
		return nil
	}
	return decodeError(op, resp.StatusCode(), resp.Error(), resp.Body())
}

// decodeError rebuilds the typed error of an API error response.
func decodeError(op string, status int, parsed any, raw []byte) error {
	er, _ := parsed.(*models.ErrorResponse)
	if er == nil || er.Error.Code == "" {
		err := fmt.Errorf("unexpected status %d: %s", status, strings.TrimSpace(string(raw)))
		if status >= 500 {
			return models.Unavailable(op, err)
		}
		return models.NewAPIError(status, models.ErrorCodeInternal, err.Error())
	}
	var details struct {
		Fields json.RawMessage `json:"fields"`
	}
	if b, err := json.Marshal(er.Details); err == nil {
		_ = json.Unmarshal(b, &details)
	}
	switch er.Error.Code {
	case models.ErrorCodeSchemaInvalid:
		e := &models.SchemaInvalidError{}
		if json.Unmarshal(details.Fields, &e.Problems) == nil {
			return e
		}
	case models.ErrorCodeValidationFailed:
		e := &models.ValidationFailedError{}
		if json.Unmarshal(details.Fields, &e.Failures) == nil {
			return e
		}
	case models.ErrorCodeStoreUnavailable:
		return models.Unavailable(op, errors.New(er.Error.Message))
	}
	apiErr := models.NewAPIError(status, er.Error.Code, er.Error.Message)
	for k, v := range er.Details {
		apiErr.WithDetail(k, v)
	}
	if status >= 500 {
		return models.Unavailable(op, apiErr)
	}
	return apiErr
}

func taskPath(taskID ksid.ID) string {
	return "/tasks/" + taskID.String() + "/fields"
}

// ListFields implements storage.FieldStore.
func (c *Client) ListFields(ctx context.Context, taskID ksid.ID) ([]models.FieldDefinition, error) {
	var out dto.ListFieldsResponse
	if err := c.do(ctx, http.MethodGet, taskPath(taskID), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Fields, nil
}

// CreateField implements storage.FieldStore.
func (c *Client) CreateField(ctx context.Context, def *models.FieldDefinition) (*models.FieldDefinition, error) {
	if def.TaskID.IsZero() {
		return nil, models.MissingField("task_id")
	}
	out := &models.FieldDefinition{}
	if err := c.do(ctx, http.MethodPost, taskPath(def.TaskID), nil, dto.CreateFieldRequest{Field: *def}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// BulkCreateFields implements storage.FieldStore.
func (c *Client) BulkCreateFields(ctx context.Context, taskID ksid.ID, defs []models.FieldDefinition) ([]models.FieldDefinition, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	var out dto.ListFieldsResponse
	if err := c.do(ctx, http.MethodPost, taskPath(taskID)+"/bulk", nil, dto.BulkCreateFieldsRequest{Fields: defs}, &out); err != nil {
		return nil, err
	}
	return out.Fields, nil
}

// UpdateField implements storage.FieldStore.
func (c *Client) UpdateField(ctx context.Context, id ksid.ID, patch *models.FieldPatch) (*models.FieldDefinition, error) {
	out := &models.FieldDefinition{}
	if err := c.do(ctx, http.MethodPatch, "/fields/"+id.String(), nil, patch, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteField implements storage.FieldStore.
func (c *Client) DeleteField(ctx context.Context, id ksid.ID) error {
	return c.do(ctx, http.MethodDelete, "/fields/"+id.String(), nil, nil, nil)
}

// SubmitResponses implements storage.ResponseStore.
func (c *Client) SubmitResponses(ctx context.Context, checklistItemID ksid.ID, records []models.ResponseRecord) ([]models.ResponseRecord, error) {
	var out dto.ListResponsesResponse
	path := "/checklist-items/" + checklistItemID.String() + "/responses"
	if err := c.do(ctx, http.MethodPost, path, nil, dto.SubmitResponsesRequest{Records: records}, &out); err != nil {
		return nil, err
	}
	return out.Responses, nil
}

// ListResponses implements storage.ResponseStore.
func (c *Client) ListResponses(ctx context.Context, filter models.ResponseFilter) ([]models.ResponseRecord, error) {
	q := url.Values{}
	if !filter.ChecklistItemID.IsZero() {
		q.Set("checklist_item_id", filter.ChecklistItemID.String())
	}
	if !filter.TaskFieldID.IsZero() {
		q.Set("task_field_id", filter.TaskFieldID.String())
	}
	var out dto.ListResponsesResponse
	if err := c.do(ctx, http.MethodGet, "/responses", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Responses, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.GetClient().CloseIdleConnections()
	return nil
}
