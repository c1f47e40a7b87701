package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"nebula-chat/internal/model"
	"nebula-chat/internal/stream"
	"nebula-chat/internal/utils"
	"nebula-chat/pkg/logger"
)

// maxErrorBody bounds how much of a failed response is kept in RequestError.
const maxErrorBody = 4 << 10

// RequestError is a non-2xx answer from the conversation API. It is never
// retried.
type RequestError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode), e.Message)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
}

// Client talks to the conversation API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// streaming requests are bounded by the caller's context only
	streamClient *http.Client
}

func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   utils.NewHTTPClient(timeout, token),
		streamClient: utils.NewHTTPClient(0, token),
	}
}

// CreateSession creates a conversation, optionally seeded with a filter.
func (c *Client) CreateSession(ctx context.Context, filter *model.ContextFilter) (*model.Session, error) {
	var out model.Session
	req := model.CreateSessionRequest{Context: filter}
	if err := c.do(ctx, http.MethodPost, "/session", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateSession replaces the session's context filter. Repeating the call
// with the same filter is harmless.
func (c *Client) UpdateSession(ctx context.Context, id string, filter model.ContextFilter) (*model.Session, error) {
	var out model.Session
	f := filter.Clone()
	req := model.UpdateSessionRequest{Context: &f}
	if err := c.do(ctx, http.MethodPut, "/session/"+id, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RenameSession(ctx context.Context, id, title string) (*model.Session, error) {
	var out model.Session
	if err := c.do(ctx, http.MethodPut, "/session/"+id, model.UpdateSessionRequest{Title: title}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteSession(ctx context.Context, id string) (*model.DeleteResult, error) {
	var out model.DeleteResult
	if err := c.do(ctx, http.MethodDelete, "/session/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListSessions(ctx context.Context) ([]*model.Session, error) {
	var out []*model.Session
	if err := c.do(ctx, http.MethodGet, "/session/list", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var out model.Session
	if err := c.do(ctx, http.MethodGet, "/session/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stream posts one user turn and yields the decoded assistant events. A
// non-2xx answer is yielded as a *RequestError; a failed connection as a
// *stream.StreamError.
func (c *Client) Stream(ctx context.Context, chat model.ChatRequest) iter.Seq2[model.Event, error] {
	return func(yield func(model.Event, error) bool) {
		req, err := c.newRequest(ctx, http.MethodPost, "/chat", chat)
		if err != nil {
			yield(model.Event{}, err)
			return
		}
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.streamClient.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				yield(model.Event{}, ctxErr)
				return
			}
			yield(model.Event{}, &stream.StreamError{Err: err})
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			yield(model.Event{}, readError(req, resp))
			return
		}

		for ev, err := range stream.Decode(ctx, resp.Body) {
			if !yield(ev, err) {
				return
			}
		}
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do performs a JSON call and unwraps the {"result": ...} envelope into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readError(req, resp)
	}

	env := model.Envelope[json.RawMessage]{}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode %s %s result: %w", method, path, err)
	}
	logger.Debugf("%s %s -> %d", method, path, resp.StatusCode)
	return nil
}

func readError(req *http.Request, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(b))

	var er model.ErrorResponse
	if json.Unmarshal(b, &er) == nil && er.Error != "" {
		msg = er.Error
	}
	return &RequestError{
		Method:     req.Method,
		Path:       req.URL.Path,
		StatusCode: resp.StatusCode,
		Message:    msg,
	}
}
