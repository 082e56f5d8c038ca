/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package registry talks to the remote auction registry over HTTP/JSON.
package registry

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

	"github.com/cenkalti/backoff/v5"
	"github.com/friendsincode/chronograph/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// RequestIDHeader correlates our calls with registry logs.
const RequestIDHeader = "X-Client-Request-ID"

// ErrNotFound matches a 404 from the registry.
var ErrNotFound = errors.New("not found")

// ErrForbidden matches a 403 from the registry.
var ErrForbidden = errors.New("forbidden")

// StatusError is a non-200 registry response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// Is lets callers test for ErrNotFound and ErrForbidden.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == http.StatusNotFound
	case ErrForbidden:
		return e.Code == http.StatusForbidden
	}
	return false
}

// Config configures a Client.
type Config struct {
	BaseURL string // ends in a slash, e.g. https://api.example.com/api/2.5/
	Token   string
	Timeout time.Duration

	RetryUnit        time.Duration // first Fibonacci step, 1s by default
	RetryMaxElapsed  time.Duration
	RetryMaxInterval time.Duration
}

// Client is a retrying registry client. Transport failures are retried with
// Fibonacci backoff up to the configured caps; HTTP statuses are returned to
// the caller.
type Client struct {
	http   *http.Client
	push   *http.Client // no request timeout; callbacks run as long as their work
	cfg    Config
	logger zerolog.Logger
}

// New constructs a client whose transport is traced with otelhttp.
func New(cfg Config, logger zerolog.Logger) *Client {
	return NewWithHTTPClient(cfg, &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}, logger)
}

// NewWithHTTPClient uses an existing http.Client.
func NewWithHTTPClient(cfg Config, hc *http.Client, logger zerolog.Logger) *Client {
	if cfg.RetryUnit <= 0 {
		cfg.RetryUnit = time.Second
	}
	if cfg.RetryMaxInterval <= 0 {
		cfg.RetryMaxInterval = 5 * time.Minute
	}
	if cfg.RetryMaxElapsed <= 0 {
		cfg.RetryMaxElapsed = 10 * time.Minute
	}
	push := *hc
	push.Timeout = 0
	return &Client{
		http:   hc,
		push:   &push,
		cfg:    cfg,
		logger: logger.With().Str("component", "registry").Logger(),
	}
}

// AuctionURL is the resource URL of one auction.
func (c *Client) AuctionURL(id string) string {
	return c.cfg.BaseURL + "auctions/" + id
}

// ChangesFeedURL is the first page of the descending changes feed.
func (c *Client) ChangesFeedURL() string {
	return c.cfg.BaseURL + "auctions?mode=_all_&feed=changes&descending=1&opt_fields=" + FeedOptFields
}

// FeedOptFields is the escaped opt_fields value every crawled page must carry.
const FeedOptFields = "status%2CauctionPeriod%2CprocurementMethodType%2Clots%2Cnext_check"

// GetAuction fetches one auction.
func (c *Client) GetAuction(ctx context.Context, id, requestID string) (*Auction, error) {
	var out envelope[Auction]
	if err := c.getJSON(ctx, c.AuctionURL(id), requestID, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// PatchAuction sends {"data": body} and returns the updated auction. It is
// not retried: a lost PATCH is recovered by the next resync.
func (c *Client) PatchAuction(ctx context.Context, id string, body any, requestID string) (*Auction, error) {
	payload, err := json.Marshal(envelope[any]{Data: body})
	if err != nil {
		return nil, fmt.Errorf("encode patch: %w", err)
	}

	target := c.AuctionURL(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, target, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.decorate(req, requestID)

	resp, err := c.http.Do(req)
	if err != nil {
		telemetry.RegistryRequestsTotal.WithLabelValues(http.MethodPatch, "error").Inc()
		return nil, fmt.Errorf("patch %s: %w", target, err)
	}
	defer resp.Body.Close()
	telemetry.RegistryRequestsTotal.WithLabelValues(http.MethodPatch, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	var out envelope[Auction]
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode %s: %w", target, err)
	}
	return &out.Data, nil
}

// Recheck asks the registry to re-evaluate an auction's state machine.
func (c *Client) Recheck(ctx context.Context, id, requestID string) (*Auction, error) {
	return c.PatchAuction(ctx, id, map[string]string{"id": id}, requestID)
}

// FetchPage reads one page of the changes feed.
func (c *Client) FetchPage(ctx context.Context, pageURL, requestID string) (*Page, error) {
	var page Page
	if err := c.getJSON(ctx, pageURL, requestID, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Push GETs a callback URL until it answers 200 or the retry caps run out.
// Requests carry no timeout of their own: a slow callback is waited for,
// bounded only by ctx, so it is never re-sent while still running.
func (c *Client) Push(ctx context.Context, target string, params map[string]string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("parse callback %q: %w", target, err)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	full := u.String()

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		resp, err := c.push.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return struct{}{}, &StatusError{Method: http.MethodGet, URL: full, Code: resp.StatusCode}
		}
		return struct{}{}, nil
	}, c.retryOptions(full)...)
	if err != nil {
		return fmt.Errorf("push %s: %w", full, err)
	}
	return nil
}

// getJSON GETs target, retrying transport failures, and decodes a 200 body into dest.
func (c *Client) getJSON(ctx context.Context, target, requestID string, dest any) error {
	resp, err := backoff.Retry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		c.decorate(req, requestID)
		resp, err := c.http.Do(req)
		if err != nil {
			telemetry.RegistryRequestsTotal.WithLabelValues(http.MethodGet, "error").Inc()
			return nil, err
		}
		return resp, nil
	}, c.retryOptions(target)...)
	if err != nil {
		return fmt.Errorf("get %s: %w", target, err)
	}
	defer resp.Body.Close()
	telemetry.RegistryRequestsTotal.WithLabelValues(http.MethodGet, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s: %w", target, err)
	}
	return nil
}

func (c *Client) retryOptions(target string) []backoff.RetryOption {
	return []backoff.RetryOption{
		backoff.WithBackOff(NewFibonacciBackOff(c.cfg.RetryUnit, c.cfg.RetryMaxInterval)),
		backoff.WithMaxElapsedTime(c.cfg.RetryMaxElapsed),
		backoff.WithNotify(func(err error, wait time.Duration) {
			telemetry.RegistryRetriesTotal.Inc()
			c.logger.Warn().Err(err).Str("url", target).Dur("wait", wait).Msg("registry request failed, retrying")
		}),
	}
}

func (c *Client) decorate(req *http.Request, requestID string) {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set(RequestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.SetBasicAuth(c.cfg.Token, "")
	}
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{
		Method: resp.Request.Method,
		URL:    resp.Request.URL.String(),
		Code:   resp.StatusCode,
		Body:   string(body),
	}
}
