package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/lookup"
	"github.com/trezcool/shule/core/resource"
)

type (
	// TokenProvider yields the bearer credential to attach to requests.
	// Implemented by session.Service.
	TokenProvider interface {
		Token() (string, error)
	}

	Options struct {
		BaseURL string
		Timeout time.Duration
		Tokens  TokenProvider
		Logger  core.Logger
	}

	// Client speaks the backend's JSON REST contract for opaque resources.
	// All response-shape guessing happens here, at one decode point; the
	// controllers above it only ever see normalized pages and records.
	Client struct {
		baseURL string
		client  *http.Client
		tokens  TokenProvider
		log     core.Logger
	}
)

var (
	_ resource.Backend = (*Client)(nil)
	_ lookup.Backend   = (*Client)(nil)
)

func NewClient(opts *Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		tokens:  opts.Tokens,
		log:     opts.Logger,
	}
}

// List fetches one filtered, paginated page of a resource collection.
func (c *Client) List(ctx context.Context, name string, query url.Values) (resource.Page, error) {
	raw, err := c.do(ctx, http.MethodGet, "/"+name+"?"+query.Encode(), nil)
	if err != nil {
		return resource.Page{}, err
	}
	return c.decodeList(raw, name), nil
}

// Create posts a new record to the collection endpoint.
func (c *Client) Create(ctx context.Context, name string, fields map[string]interface{}) (resource.Record, error) {
	raw, err := c.do(ctx, http.MethodPost, "/"+name, fields)
	if err != nil {
		return resource.Record{}, err
	}
	return c.decodeRecord(raw, name), nil
}

// Update puts changed fields to the item endpoint.
func (c *Client) Update(ctx context.Context, name, id string, fields map[string]interface{}) (resource.Record, error) {
	raw, err := c.do(ctx, http.MethodPut, "/"+name+"/"+url.PathEscape(id), fields)
	if err != nil {
		return resource.Record{}, err
	}
	return c.decodeRecord(raw, name), nil
}

func (c *Client) Delete(ctx context.Context, name, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/"+name+"/"+url.PathEscape(id), nil)
	return err
}

// Search resolves lightweight match candidates for the type-ahead.
func (c *Client) Search(ctx context.Context, name, query string) ([]resource.Record, error) {
	q := make(url.Values)
	q.Set("query", query)
	raw, err := c.do(ctx, http.MethodGet, "/"+name+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return c.decodeList(raw, name).Items, nil
}

// do performs one exchange and maps every non-2xx response to a
// core.APIError carrying the server-supplied message when there is one.
func (c *Client) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var payload *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "marshalling request body")
		}
		payload = bytes.NewReader(data)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token, err := c.tokens.Token(); err == nil && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "performing request")
	}
	defer resp.Body.Close()

	raw, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &core.APIError{
			StatusCode:  resp.StatusCode,
			Message:     serverMessage(raw),
			RateLimited: resp.StatusCode == http.StatusTooManyRequests,
		}
		return nil, errors.Wrap(apiErr, method+" "+path)
	}
	return raw, nil
}

// serverMessage digs the error text out of a JSON error body, if any.
func serverMessage(raw []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	if body.Error != "" {
		return body.Error
	}
	return body.Message
}
