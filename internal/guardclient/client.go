package guardclient

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

	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/guard"
	"outbound-dialer/internal/livestatus"
)

// Error reasons carried in the "reason" field of guard API error bodies.
const (
	ReasonInvalidNumber   = "invalid number"
	ReasonInvalidArgument = "invalid argument"
	ReasonNotFound        = "not found"
	ReasonNotOwner        = "not owner"
)

// ErrorBody is the JSON shape of every non-2xx guard API response.
type ErrorBody struct {
	Error        string     `json:"error"`
	Reason       string     `json:"reason,omitempty"`
	LastCallTime *time.Time `json:"lastCallTime,omitempty"`
	LastCallerID string     `json:"lastCallerId,omitempty"`
}

// StatusError is returned for responses that do not map to a domain error.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("guard api: %d %s", e.Code, e.Message)
}

// Client talks to the guard REST API as one agent.
type Client struct {
	baseURL  string
	token    string
	callerID string
	http     *http.Client
}

func New(baseURL, token, callerID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		callerID: callerID,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *Client) CallerID() string { return c.callerID }

func (c *Client) CanCall(ctx context.Context, contactID string) (calls.CanCallResult, error) {
	var out calls.CanCallResult
	path := "/v1/can-call/" + url.PathEscape(contactID) + "?callerId=" + url.QueryEscape(c.callerID)
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) StartCall(ctx context.Context, contactID, phone string) (calls.StartCallResult, error) {
	var out calls.StartCallResult
	req := calls.StartCallRequest{ContactID: contactID, CallerID: c.callerID, PhoneNumber: phone}
	err := c.do(ctx, http.MethodPost, "/v1/calls/start", req, &out)
	return out, err
}

func (c *Client) EndCall(ctx context.Context, req calls.EndCallRequest) error {
	return c.do(ctx, http.MethodPost, "/v1/calls/end", req, nil)
}

func (c *Client) Status(ctx context.Context, attemptID string) (livestatus.Status, error) {
	var out livestatus.Status
	err := c.do(ctx, http.MethodGet, "/v1/calls/"+url.PathEscape(attemptID)+"/status", nil, &out)
	return out, err
}

func (c *Client) Reclaim(ctx context.Context) (guard.ReclaimReport, error) {
	var out guard.ReclaimReport
	err := c.do(ctx, http.MethodPost, "/v1/admin/locks/reclaim", nil, &out)
	return out, err
}

func (c *Client) ForceRelease(ctx context.Context, contactID string) (calls.ActiveCallLock, error) {
	var out calls.ActiveCallLock
	err := c.do(ctx, http.MethodDelete, "/v1/admin/locks/"+url.PathEscape(contactID), nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var eb ErrorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &eb); err != nil || eb.Error == "" {
		eb.Error = strings.TrimSpace(string(raw))
	}

	switch eb.Reason {
	case calls.ReasonInProgress:
		return calls.ErrDuplicateLock
	case calls.ReasonCalledRecently:
		ce := &calls.CooldownError{LastCallerID: eb.LastCallerID}
		if eb.LastCallTime != nil {
			ce.LastCallTime = *eb.LastCallTime
		}
		return ce
	case ReasonInvalidNumber:
		return fmt.Errorf("%w: %s", calls.ErrInvalidNumber, eb.Error)
	case ReasonInvalidArgument:
		return fmt.Errorf("%w: %s", calls.ErrInvalidArgument, eb.Error)
	case ReasonNotFound:
		return calls.ErrAttemptNotFound
	case ReasonNotOwner:
		return calls.ErrNotOwner
	}
	return &StatusError{Code: resp.StatusCode, Message: eb.Error}
}

// IsStatus reports whether err is a StatusError with code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
