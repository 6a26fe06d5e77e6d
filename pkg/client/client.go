package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("client")

var (
	ErrUnknownIdentity     = errors.New("no authorization endpoint for identity")
	ErrAuthorizationDenied = errors.New("authorization denied")
	ErrRevokeFailed        = errors.New("revoke failed")
)

// maxBodyLog bounds how much of an error response body ends up in the logs.
const maxBodyLog = 4096

// Resolver maps a requester identity to the base URL of its authorization
// endpoint.
type Resolver interface {
	Lookup(identity string) (string, bool)
}

// Client registers and revokes public keys with per-identity authorization
// endpoints. Only a 204 response counts as success.
type Client struct {
	http      *http.Client
	timeout   time.Duration
	endpoints Resolver
	sshUser   string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout bounds every request, including reading the response. It
// applies to whichever HTTP client the other options select.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

func New(endpoints Resolver, sshUser string, options ...Option) *Client {
	c := &Client{
		http:      &http.Client{Timeout: 30 * time.Second},
		endpoints: endpoints,
		sshUser:   sshUser,
	}
	for _, opt := range options {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.http
		hc.Timeout = c.timeout
		c.http = &hc
	}
	return c
}

type keyBody struct {
	Key string `json:"key"`
}

// Grant authorizes publicKey for the configured SSH user on identity's host.
func (c *Client) Grant(ctx context.Context, identity, publicKey string) error {
	status, body, err := c.do(ctx, http.MethodPut, identity, publicKey)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent {
		log.Errorf("put pubkey - did not receive 204 status code, received: %d - body: %s", status, body)
		return fmt.Errorf("%w: %s responded %d", ErrAuthorizationDenied, identity, status)
	}
	log.Debugf("put pubkey - 204 received for %s", identity)
	return nil
}

// Revoke removes publicKey from identity's host. It is not retried.
func (c *Client) Revoke(ctx context.Context, identity, publicKey string) error {
	status, body, err := c.do(ctx, http.MethodDelete, identity, publicKey)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRevokeFailed, err)
	}
	if status != http.StatusNoContent {
		log.Errorf("delete pubkey - did not receive 204 status code, received: %d - body: %s", status, body)
		return fmt.Errorf("%w: %s responded %d", ErrRevokeFailed, identity, status)
	}
	log.Debugf("delete pubkey - 204 received for %s", identity)
	return nil
}

// URL returns the key endpoint for identity.
func (c *Client) URL(identity string) (string, error) {
	base, ok := c.endpoints.Lookup(identity)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownIdentity, identity)
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint for %q: %w", identity, err)
	}
	return u.JoinPath(c.sshUser).String(), nil
}

func (c *Client) do(ctx context.Context, method, identity, publicKey string) (int, string, error) {
	target, err := c.URL(identity)
	if err != nil {
		return 0, "", err
	}
	data, err := json.Marshal(keyBody{Key: publicKey})
	if err != nil {
		return 0, "", fmt.Errorf("marshalling key body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(data))
	if err != nil {
		return 0, "", fmt.Errorf("creating %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Infof("%s %s - pubkey %s", method, target, publicKey)
	res, err := c.http.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, maxBodyLog))
	return res.StatusCode, strings.TrimSpace(string(body)), nil
}
