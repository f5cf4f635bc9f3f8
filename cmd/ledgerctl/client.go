package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"poll-ledger-backend/ledger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// APIError is a non-2xx answer from the ledger server.
type APIError struct {
	Status    int
	Kind      string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
}

// Client talks to the ledger HTTP API.
type Client struct {
	base     string
	identity string
	http     *http.Client
}

func NewClient(base, identity string) *Client {
	return &Client{
		base:     strings.TrimRight(base, "/"),
		identity: identity,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.identity != "" {
		req.Header.Set("X-Identity", c.identity)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Kind == "" {
			apiErr.Kind = http.StatusText(resp.StatusCode)
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(raw, out), "decode response")
}

func pollPath(pollID uint64, rest ...string) string {
	p := "/api/polls/" + strconv.FormatUint(pollID, 10)
	for _, r := range rest {
		p += "/" + url.PathEscape(r)
	}
	return p
}

func (c *Client) CreatePoll(ctx context.Context, pollID uint64, description string, start, end uint64) (ledger.PollView, error) {
	var v ledger.PollView
	err := c.do(ctx, http.MethodPost, "/api/polls", map[string]any{
		"poll_id":     pollID,
		"description": description,
		"poll_start":  start,
		"poll_end":    end,
	}, &v)
	return v, err
}

func (c *Client) AddCandidate(ctx context.Context, pollID uint64, name string) (ledger.CandidateView, error) {
	var v ledger.CandidateView
	err := c.do(ctx, http.MethodPost, pollPath(pollID, "candidates"), map[string]string{"candidate_name": name}, &v)
	return v, err
}

func (c *Client) Vote(ctx context.Context, pollID uint64, name string) (ledger.VoteReceipt, error) {
	var v ledger.VoteReceipt
	err := c.do(ctx, http.MethodPost, pollPath(pollID, "vote"), map[string]string{"candidate_name": name}, &v)
	return v, err
}

func (c *Client) Poll(ctx context.Context, pollID uint64) (ledger.PollView, error) {
	var v ledger.PollView
	err := c.do(ctx, http.MethodGet, pollPath(pollID), nil, &v)
	return v, err
}

func (c *Client) Candidate(ctx context.Context, pollID uint64, name string) (ledger.CandidateView, error) {
	var v ledger.CandidateView
	err := c.do(ctx, http.MethodGet, pollPath(pollID, "candidates", name), nil, &v)
	return v, err
}

func (c *Client) VoterRecord(ctx context.Context, pollID uint64, voter string) (ledger.VoterView, error) {
	var v ledger.VoterView
	err := c.do(ctx, http.MethodGet, pollPath(pollID, "voters", voter), nil, &v)
	return v, err
}
