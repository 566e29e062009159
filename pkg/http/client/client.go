package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/canarymesh/canary/pkg/api"
	"github.com/canarymesh/canary/pkg/event"
	transport "github.com/canarymesh/canary/pkg/http"
	"github.com/canarymesh/canary/pkg/release"
)

// Client talks to a canaryd over HTTP, implementing api.Server so
// commands cannot tell it from the daemon itself.
type Client struct {
	client   *http.Client
	router   *mux.Router
	endpoint string
}

var _ api.Server = &Client{}

func New(c *http.Client, router *mux.Router, endpoint string) *Client {
	return &Client{
		client:   c,
		router:   router,
		endpoint: endpoint,
	}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.get(ctx, nil, transport.Ping)
}

func (c *Client) Version(ctx context.Context) (string, error) {
	var v string
	err := c.get(ctx, &v, transport.Version)
	return v, err
}

func (c *Client) Status(ctx context.Context, namespace string) (release.State, error) {
	var res release.State
	err := c.get(ctx, &res, transport.Status, "namespace", namespace)
	return res, err
}

func (c *Client) Events(ctx context.Context, namespace string, n int) ([]event.Event, error) {
	var res []event.Event
	err := c.get(ctx, &res, transport.Events, "namespace", namespace, "n", strconv.Itoa(n))
	return res, err
}

func (c *Client) StartCanary(ctx context.Context, spec api.StartCanarySpec) (release.State, error) {
	var res release.State
	err := c.postWithResp(ctx, &res, transport.StartCanary, spec)
	return res, err
}

func (c *Client) Validate(ctx context.Context, spec api.ValidateSpec) (api.ValidateResult, error) {
	var res api.ValidateResult
	err := c.postWithResp(ctx, &res, transport.Validate, spec)
	return res, err
}

func (c *Client) Promote(ctx context.Context, spec api.PromoteSpec) (release.State, error) {
	var res release.State
	err := c.postWithResp(ctx, &res, transport.Promote, spec)
	return res, err
}

func (c *Client) Rollback(ctx context.Context, spec api.RollbackSpec) (release.State, error) {
	var res release.State
	err := c.postWithResp(ctx, &res, transport.Rollback, spec)
	return res, err
}

// --- Request helpers

// postWithResp posts a json-ified body and decodes the response into
// dest, if there was one.
func (c *Client) postWithResp(ctx context.Context, dest interface{}, route string, body interface{}, queryParams ...string) error {
	u, err := transport.MakeURL(c.endpoint, c.router, route, queryParams...)
	if err != nil {
		return errors.Wrap(err, "constructing URL")
	}

	var bodyBytes []byte
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
	}

	req, err := http.NewRequest("POST", u.String(), bytes.NewReader(bodyBytes))
	if err != nil {
		return errors.Wrapf(err, "constructing request %s", u)
	}
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")

	resp, err := c.executeRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBytes, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "decoding response from server")
	}
	if len(respBytes) == 0 || dest == nil {
		return nil
	}
	if err := json.Unmarshal(respBytes, dest); err != nil {
		return errors.Wrap(err, "decoding response from server")
	}
	return nil
}

// get executes a get request against the daemon, unmarshalling the
// response into dest, if not nil.
func (c *Client) get(ctx context.Context, dest interface{}, route string, queryParams ...string) error {
	u, err := transport.MakeURL(c.endpoint, c.router, route, queryParams...)
	if err != nil {
		return errors.Wrap(err, "constructing URL")
	}

	req, err := http.NewRequest("GET", u.String(), nil)
	if err != nil {
		return errors.Wrapf(err, "constructing request %s", u)
	}
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")

	resp, err := c.executeRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if dest != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return errors.Wrap(err, "decoding response from server")
		}
	}
	return nil
}

func (c *Client) executeRequest(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "executing HTTP request")
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent, http.StatusAccepted:
		return resp, nil
	default:
		defer resp.Body.Close()
		body, err := ioutil.ReadAll(resp.Body)
		if err != nil {
			return resp, errors.Wrap(err, "reading response body of error")
		}
		// Use the content type to discriminate between a structured
		// release error and any old error
		if strings.HasPrefix(resp.Header.Get(http.CanonicalHeaderKey("Content-Type")), "application/json") {
			var niceError release.Error
			if jerr := json.Unmarshal(body, &niceError); jerr == nil && niceError.Kind != "" {
				return resp, &niceError
			}
		}
		return resp, errors.New(resp.Status + " " + strings.TrimSpace(string(body)))
	}
}
