// Package pushapi is a small client for the push service REST API.
package pushapi

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

	"github.com/google/uuid"

	"github.com/agentworkforce/pushmirror/internal/push"
)

const DefaultBaseURL = "https://api.pushbullet.com"

var ErrMissingToken = errors.New("access token is required")

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

// Unauthorized reports whether the token was rejected.
func (e *HTTPError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

type PushList struct {
	Pushes []push.Record `json:"pushes"`
	Cursor string        `json:"cursor,omitempty"`
}

type User struct {
	Iden  string `json:"iden"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Dismissal is the ephemeral that tells the source device a notification is gone.
type Dismissal struct {
	NotificationID  string `json:"notification_id,omitempty"`
	NotificationTag string `json:"notification_tag,omitempty"`
	PackageName     string `json:"package_name,omitempty"`
	SourceUserIden  string `json:"source_user_iden,omitempty"`
	Type            string `json:"type"`
}

func DismissalFor(r push.Record) Dismissal {
	return Dismissal{
		NotificationID:  r.NotificationID,
		NotificationTag: r.NotificationTag,
		PackageName:     r.PackageName,
		SourceUserIden:  r.SourceUserIden,
		Type:            "dismissal",
	}
}

type ephemeral struct {
	Type string    `json:"type"`
	Push Dismissal `json:"push"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	backoff    backoff
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		backoff:    defaultBackoff(),
	}
}

// ListPushes returns pushes newest first. A nil modifiedAfter asks only for the
// latest limit pushes; otherwise every push modified after the mark is listed.
func (c *Client) ListPushes(ctx context.Context, token string, modifiedAfter *float64, limit int) (PushList, error) {
	q := url.Values{}
	if modifiedAfter != nil {
		q.Set("modified_after", FormatTimestamp(*modifiedAfter))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v2/pushes"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out PushList
	err := c.doJSON(ctx, token, http.MethodGet, path, nil, &out)
	return out, err
}

// DeletePushes clears the account's push history.
func (c *Client) DeletePushes(ctx context.Context, token string) error {
	return c.doJSON(ctx, token, http.MethodDelete, "/v2/pushes", nil, nil)
}

func (c *Client) SendDismissal(ctx context.Context, token string, d Dismissal) error {
	if d.Type == "" {
		d.Type = "dismissal"
	}
	body := ephemeral{Type: "push", Push: d}
	return c.doJSON(ctx, token, http.MethodPost, "/v2/ephemerals", body, nil)
}

func (c *Client) Me(ctx context.Context, token string) (User, error) {
	var out User
	err := c.doJSON(ctx, token, http.MethodGet, "/v2/users/me", nil, &out)
	return out, err
}

// FormatTimestamp renders a modified timestamp without exponent or padding.
func FormatTimestamp(ts float64) string {
	return strconv.FormatFloat(ts, 'f', -1, 64)
}

// doJSON retries transport failures, throttling and 5xx for idempotent
// methods only; a POST is sent once.
func (c *Client) doJSON(
	ctx context.Context,
	token, method, requestPath string,
	body any,
	out any,
) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrMissingToken
	}
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	retries := c.backoff.retries
	if method == http.MethodPost {
		retries = 0
	}
	for attempt := 1; ; attempt++ {
		resp, err := c.send(ctx, token, method, requestPath, bodyBytes)
		var throttled http.Header
		if err == nil {
			switch {
			case resp.status >= 200 && resp.status <= 299:
				if out == nil || len(resp.payload) == 0 {
					return nil
				}
				return json.Unmarshal(resp.payload, out)
			case resp.status == http.StatusTooManyRequests:
				throttled = resp.header
				err = decodeHTTPError(resp)
			case resp.status >= 500 && resp.status <= 599:
				err = decodeHTTPError(resp)
			default:
				return decodeHTTPError(resp)
			}
		}
		if attempt > retries {
			return err
		}
		if waitErr := sleepContext(ctx, c.backoff.delay(attempt, throttled)); waitErr != nil {
			return waitErr
		}
	}
}

type response struct {
	status  int
	header  http.Header
	payload []byte
}

func (c *Client) send(ctx context.Context, token, method, requestPath string, body []byte) (response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, reader)
	if err != nil {
		return response{}, err
	}
	req.Header.Set("Access-Token", token)
	req.Header.Set("X-Correlation-Id", uuid.NewString())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, err
	}
	return response{status: resp.StatusCode, header: resp.Header, payload: payload}, nil
}

func decodeHTTPError(resp response) error {
	var errPayload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(resp.payload, &errPayload)
	return &HTTPError{
		StatusCode: resp.status,
		Code:       errPayload.Error.Code,
		Message:    errPayload.Error.Message,
	}
}
