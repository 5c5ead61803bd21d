package uiautomator2

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/devicelab-dev/element-scheduler/pkg/core"
	"github.com/devicelab-dev/element-scheduler/pkg/logger"
)

var errNoSession = errors.New("no active session")

// Client talks to one UIAutomator2 server. It holds at most one session.
type Client struct {
	http      *http.Client
	baseURL   string
	sessionID string
}

// NewClientTCP creates a client for a server forwarded to a local TCP port.
func NewClientTCP(port int) *Client {
	return &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
	}
}

// SessionID returns the current session ID.
func (c *Client) SessionID() string {
	return c.sessionID
}

// HasSession returns true if a session is active.
func (c *Client) HasSession() bool {
	return c.sessionID != ""
}

// call sends body as JSON and returns the decoded response document.
// Transport failures match core.ErrServerUnreachable; error statuses come
// back as *ServerError.
func (c *Client) call(ctx context.Context, method, path string, body any) (gjson.Result, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logger.Debug("uia2 %s %s [%v] failed: %v", method, path, time.Since(start), err)
		return gjson.Result{}, core.ErrServerUnreachable.WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read response: %w", err)
	}
	logger.Debug("uia2 %s %s [%v] %d (%d bytes)", method, path, time.Since(start), resp.StatusCode, len(data))

	if resp.StatusCode >= 400 {
		se := &ServerError{Status: resp.StatusCode, Message: string(data)}
		if doc := gjson.ParseBytes(data); gjson.ValidBytes(data) && doc.Get("value.error").Exists() {
			se.Type = doc.Get("value.error").String()
			se.Message = doc.Get("value.message").String()
		}
		return gjson.Result{}, se
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("%s %s: invalid JSON response", method, path)
	}
	return gjson.ParseBytes(data), nil
}

// sessionCall is call on a path under the current session.
func (c *Client) sessionCall(ctx context.Context, method, path string, body any) (gjson.Result, error) {
	if c.sessionID == "" {
		return gjson.Result{}, errNoSession
	}
	return c.call(ctx, method, "/session/"+c.sessionID+path, body)
}

// Status checks if the server is ready.
func (c *Client) Status(ctx context.Context) (bool, error) {
	doc, err := c.call(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		return false, err
	}
	return doc.Get("value.ready").Bool(), nil
}

// CreateSession starts a new automation session. Servers report the id
// either at the top level or inside value.
func (c *Client) CreateSession(ctx context.Context, caps Capabilities) error {
	doc, err := c.call(ctx, http.MethodPost, "/session", SessionRequest{Capabilities: caps})
	if err != nil {
		return err
	}

	id := doc.Get("sessionId").String()
	if id == "" {
		id = doc.Get("value.sessionId").String()
	}
	if id == "" {
		return fmt.Errorf("no session ID in response")
	}
	c.sessionID = id
	logger.Info("uia2 session %s created", id)
	return nil
}

// DeleteSession ends the current session. The local id is cleared even if
// the server call fails.
func (c *Client) DeleteSession(ctx context.Context) error {
	if c.sessionID == "" {
		return nil
	}
	_, err := c.sessionCall(ctx, http.MethodDelete, "", nil)
	c.sessionID = ""
	return err
}

// Close ends the session, giving the server five seconds to answer.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.DeleteSession(ctx)
}
