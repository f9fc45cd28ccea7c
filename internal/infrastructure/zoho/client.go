// Package zoho is the boundary adapter to the Zoho REST API.
package zoho

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
	"time"

	"github.com/erp/syncengine/internal/domain/datasync"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// maxResponseSize limits the response body size to prevent memory exhaustion
const maxResponseSize = 10 * 1024 * 1024

// Client implements datasync.ZohoGateway over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
	tokens     *tokenSource
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for API and token calls
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a Zoho client with the given configuration
func NewClient(cfg Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.Burst),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.tokens = newTokenSource(cfg, c.httpClient)
	return c, nil
}

// ListRecords pages through a collection.
func (c *Client) ListRecords(ctx context.Context, entityType datasync.EntityType, since *time.Time) ([]datasync.Record, error) {
	res, err := resourceFor(entityType)
	if err != nil {
		return nil, err
	}
	op := "list " + res.path

	var out []datasync.Record
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(c.cfg.PageSize))
		if since != nil {
			q.Set("last_modified_time", since.UTC().Format(lastModifiedLayout))
		}

		body, err := c.do(ctx, op, http.MethodGet, res.path, q, nil)
		if err != nil {
			return nil, err
		}
		var resp envelope
		raw := map[string]json.RawMessage{}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, &datasync.PermanentExternalError{Op: op, Err: fmt.Errorf("decode envelope: %w", err)}
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, &datasync.PermanentExternalError{Op: op, Err: err}
		}
		var items []json.RawMessage
		if list, ok := raw[res.collectionKey]; ok {
			if err := json.Unmarshal(list, &items); err != nil {
				return nil, &datasync.PermanentExternalError{Op: op, Err: fmt.Errorf("decode %s: %w", res.collectionKey, err)}
			}
		}
		for _, item := range items {
			obj, err := decodeObject(item)
			if err != nil {
				return nil, &datasync.PermanentExternalError{Op: op, Err: err}
			}
			rec, err := toRecord(entityType, res, obj)
			if err != nil {
				return nil, &datasync.PermanentExternalError{Op: op, Err: err}
			}
			if since != nil && !rec.ModifiedAt.IsZero() && !rec.ModifiedAt.After(*since) {
				continue
			}
			out = append(out, rec)
		}
		if resp.PageContext == nil || !resp.PageContext.HasMorePage {
			break
		}
	}
	c.logger.Debug("listed zoho records",
		zap.String("entity_type", entityType.String()),
		zap.Int("count", len(out)),
	)
	return out, nil
}

// FetchRecord gets one object. A missing object is a permanent error wrapping datasync.ErrRecordNotFound.
func (c *Client) FetchRecord(ctx context.Context, entityType datasync.EntityType, entityID string) (*datasync.Record, error) {
	res, err := resourceFor(entityType)
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, "get "+res.path, http.MethodGet, res.path+"/"+url.PathEscape(entityID), nil, nil)
	if err != nil {
		return nil, err
	}
	return c.decodeSingle(entityType, res, "get "+res.path, body)
}

// PushRecord creates or updates an object and returns Zoho's view of it.
func (c *Client) PushRecord(ctx context.Context, op datasync.Operation, record datasync.Record) (*datasync.Record, error) {
	res, err := resourceFor(record.EntityType)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(fromRecord(res, record))
	if err != nil {
		return nil, fmt.Errorf("zoho: failed to marshal %s: %w", res.singleKey, err)
	}

	method, path := http.MethodPost, res.path
	switch op {
	case datasync.OperationCreate:
	case datasync.OperationUpdate:
		method, path = http.MethodPut, res.path+"/"+url.PathEscape(record.EntityID)
	default:
		return nil, datasync.ErrInvalidOperation
	}
	name := string(op) + " " + res.path
	body, err := c.do(ctx, name, method, path, nil, payload)
	if err != nil {
		return nil, err
	}
	return c.decodeSingle(record.EntityType, res, name, body)
}

// DeleteRecord removes an object.
func (c *Client) DeleteRecord(ctx context.Context, entityType datasync.EntityType, entityID string) error {
	res, err := resourceFor(entityType)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, "delete "+res.path, http.MethodDelete, res.path+"/"+url.PathEscape(entityID), nil, nil)
	return err
}

// Ping checks that the organization is reachable with the current credentials.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "ping", http.MethodGet, "organizations/"+url.PathEscape(c.cfg.OrganizationID), nil, nil)
	return err
}

func (c *Client) decodeSingle(entityType datasync.EntityType, res resource, op string, body []byte) (*datasync.Record, error) {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &datasync.PermanentExternalError{Op: op, Err: err}
	}
	single, ok := raw[res.singleKey]
	if !ok {
		return nil, &datasync.PermanentExternalError{Op: op, Err: fmt.Errorf("response has no %s", res.singleKey)}
	}
	obj, err := decodeObject(single)
	if err != nil {
		return nil, &datasync.PermanentExternalError{Op: op, Err: err}
	}
	rec, err := toRecord(entityType, res, obj)
	if err != nil {
		return nil, &datasync.PermanentExternalError{Op: op, Err: err}
	}
	return &rec, nil
}

func resourceFor(t datasync.EntityType) (resource, error) {
	res, ok := resources[t]
	if !ok {
		return resource{}, datasync.ErrInvalidEntityType
	}
	return res, nil
}

// do performs one API call, refreshing the token and retrying once on 401.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, payload []byte) ([]byte, error) {
	body, status, err := c.attempt(ctx, op, method, path, query, payload)
	if err == nil && status == http.StatusUnauthorized {
		c.logger.Info("zoho token rejected, refreshing", zap.String("op", op))
		c.tokens.Invalidate()
		body, status, err = c.attempt(ctx, op, method, path, query, payload)
		if err == nil && status == http.StatusUnauthorized {
			return nil, &datasync.TransientExternalError{Op: op, StatusCode: status, Err: errors.New("unauthorized after token refresh")}
		}
	}
	if err != nil {
		return nil, err
	}
	if err := classifyStatus(op, status, body); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) attempt(ctx context.Context, op, method, path string, query url.Values, payload []byte) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, c.contextError(ctx, op, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	tok, err := c.tokens.Token()
	if err != nil {
		return nil, 0, tokenError(op, err)
	}

	if query == nil {
		query = url.Values{}
	}
	query.Set("organization_id", c.cfg.OrganizationID)
	u := c.cfg.BaseURL + "/" + path + "?" + query.Encode()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, u, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("zoho: failed to create request: %w", err)
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, c.contextError(reqCtx, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, &datasync.TransientExternalError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	return body, resp.StatusCode, nil
}

// contextError keeps caller cancellation distinct from timeouts and network failures.
func (c *Client) contextError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &datasync.TransientExternalError{Op: op, Err: context.DeadlineExceeded}
	}
	return &datasync.TransientExternalError{Op: op, Err: err}
}

func tokenError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode >= 400 && re.Response.StatusCode < 500 {
		return &datasync.PermanentExternalError{Op: op, StatusCode: re.Response.StatusCode, Err: fmt.Errorf("token refresh: %w", err)}
	}
	return &datasync.TransientExternalError{Op: op, Err: fmt.Errorf("token refresh: %w", err)}
}

// classifyStatus maps a response to the transient/permanent error taxonomy.
func classifyStatus(op string, status int, body []byte) error {
	var env envelope
	_ = json.Unmarshal(body, &env)
	msg := env.Message
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusTooManyRequests, status >= 500:
		return &datasync.TransientExternalError{Op: op, StatusCode: status, Err: errors.New(msg)}
	case status == http.StatusNotFound:
		return &datasync.PermanentExternalError{Op: op, StatusCode: status, Err: fmt.Errorf("%w: %s", datasync.ErrRecordNotFound, msg)}
	case status >= 400:
		return &datasync.PermanentExternalError{Op: op, StatusCode: status, Err: errors.New(msg)}
	case env.Code != 0:
		return &datasync.PermanentExternalError{Op: op, StatusCode: status, Err: fmt.Errorf("zoho code %d: %s", env.Code, msg)}
	}
	return nil
}

// Ensure Client implements ZohoGateway
var _ datasync.ZohoGateway = (*Client)(nil)
