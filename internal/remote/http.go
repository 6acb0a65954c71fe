package remote

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

	"github.com/invitekit/contactsync/internal/contact"
)

// HTTPError is a non-2xx response from the record service.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Is reports 404 responses as ErrNotFound.
func (e *HTTPError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Temporary reports whether retrying later may succeed.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type listResponse struct {
	Contacts []contact.Contact `json:"contacts"`
}

// HTTPClient calls the record service's JSON API.
//
//	GET    /v1/contacts             list
//	GET    /v1/contacts?search=term search
//	PUT    /v1/contacts/{id}        upsert with identity
//	POST   /v1/contacts             create, server assigns identity
//	DELETE /v1/contacts/{id}        delete
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retry      retryPolicy
}

// NewHTTPClient returns a client for baseURL. A nil httpClient gets a
// 15-second timeout.
func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		retry:      defaultRetryPolicy,
	}
}

// SetRetryPolicy overrides the retry count and backoff bounds. Non-positive
// delays keep their current values.
func (c *HTTPClient) SetRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration) {
	c.retry.maxRetries = max(maxRetries, 0)
	if baseDelay > 0 {
		c.retry.baseDelay = baseDelay
	}
	if maxDelay > 0 {
		c.retry.maxDelay = maxDelay
	}
}

// SetTimeout bounds each HTTP attempt. Zero leaves the current timeout.
func (c *HTTPClient) SetTimeout(d time.Duration) {
	if d > 0 {
		c.httpClient.Timeout = d
	}
}

func (c *HTTPClient) List(ctx context.Context) ([]contact.Contact, error) {
	var out listResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/contacts", nil, &out); err != nil {
		return nil, err
	}
	return out.Contacts, nil
}

func (c *HTTPClient) Search(ctx context.Context, term string) ([]contact.Contact, error) {
	q := url.Values{}
	q.Set("search", strings.TrimSpace(term))
	var out listResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/contacts?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Contacts, nil
}

func (c *HTTPClient) Upsert(ctx context.Context, rec contact.Contact) (contact.Contact, error) {
	method := http.MethodPost
	path := "/v1/contacts"
	if rec.ID != "" {
		method = http.MethodPut
		path = "/v1/contacts/" + url.PathEscape(rec.ID)
	}
	var out contact.Contact
	if err := c.doJSON(ctx, method, path, &rec, &out); err != nil {
		return contact.Contact{}, err
	}
	if out.ID == "" {
		out.ID = rec.ID
	}
	return out, nil
}

func (c *HTTPClient) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidInput)
	}
	return c.doJSON(ctx, http.MethodDelete, "/v1/contacts/"+url.PathEscape(id), nil, nil)
}

// doJSON sends in as the JSON body and decodes a 2xx reply into out,
// retrying transient failures.
//
// PUT, GET and DELETE are idempotent and retried after transport errors,
// 429 and 5xx. A POST create is retried only on 429 and 503, where the
// service did not take the request; anything else could duplicate the
// contact under a second server-assigned identity.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode %s %s body: %w", method, path, err)
		}
	}
	idempotent := method != http.MethodPost

	for n := 1; ; n++ {
		rep, err := c.roundTrip(ctx, method, path, payload)

		var hint time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil || !idempotent || n > c.retry.maxRetries {
				return err
			}
		case rep.status >= 200 && rep.status <= 299:
			if out == nil || len(rep.body) == 0 {
				return nil
			}
			if err := json.Unmarshal(rep.body, out); err != nil {
				return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
			}
			return nil
		case retryableStatus(rep.status, idempotent) && n <= c.retry.maxRetries:
			hint = rep.retryAfter
		default:
			return rep.err()
		}

		if err := sleepCtx(ctx, c.retry.backoff(n, hint)); err != nil {
			return err
		}
	}
}

// reply is one response from the record service.
type reply struct {
	status     int
	body       []byte
	retryAfter time.Duration
}

func (c *HTTPClient) roundTrip(ctx context.Context, method, path string, payload []byte) (reply, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return reply{}, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return reply{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return reply{}, fmt.Errorf("failed to read %s %s response: %w", method, path, err)
	}
	return reply{
		status:     resp.StatusCode,
		body:       data,
		retryAfter: retryAfter(resp.Header, time.Now()),
	}, nil
}

// err converts a non-2xx reply into an *HTTPError, using the service's
// {"code","message"} body when present.
func (r reply) err() error {
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(r.body, &payload)
	if payload.Message == "" {
		payload.Message = http.StatusText(r.status)
	}
	return &HTTPError{StatusCode: r.status, Code: payload.Code, Message: payload.Message}
}

func retryableStatus(status int, idempotent bool) bool {
	if status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable {
		return true
	}
	return idempotent && status >= 500 && status <= 599
}

// retryPolicy bounds how often and how long a request is retried.
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

var defaultRetryPolicy = retryPolicy{
	maxRetries: 3,
	baseDelay:  100 * time.Millisecond,
	maxDelay:   2 * time.Second,
}

// backoff returns the wait before retry n (1-based). A server hint wins over
// the doubling schedule; both are capped at maxDelay.
func (p retryPolicy) backoff(n int, hint time.Duration) time.Duration {
	d := hint
	if d <= 0 {
		d = p.baseDelay
		for i := 1; i < n && d < p.maxDelay; i++ {
			d *= 2
		}
	}
	return min(d, p.maxDelay)
}

// retryAfter reads a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(max(secs, 0)) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsTemporary reports whether err is worth retrying on a later sync pass.
// Network failures and 429/5xx responses are temporary; other HTTP errors
// (validation, auth) are not.
func IsTemporary(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Temporary()
	}
	return err != nil
}
