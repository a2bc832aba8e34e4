// Package syncclient drives one user's view of the random chat service: the
// search loop, optimistic sends reconciled against authoritative messages,
// push delivery with polling fallback, and best-effort teardown.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"randomchat/backend/internal/apperrors"
	"randomchat/backend/internal/models"
)

// SearchResult mirrors the start search response.
type SearchResult struct {
	Matched     bool                `json:"matched"`
	ChatSession *models.ChatSession `json:"chatSession,omitempty"`
}

// API is the subset of the chat service the controller talks to.
type API interface {
	CreateSession(ctx context.Context, sessionID string) (*models.User, error)
	StartSearch(ctx context.Context, userID string) (*SearchResult, error)
	StopSearch(ctx context.Context, userID string) error
	SendMessage(ctx context.Context, chatSessionID, senderID, text string) (*models.Message, error)
	EndChat(ctx context.Context, chatSessionID, userID string) error
	SetOnline(ctx context.Context, userID string, online bool) error
	// Messages returns the ordered history of a session and its status.
	Messages(ctx context.Context, chatSessionID string) ([]models.Message, string, error)
}

// HTTPClient calls the service's JSON API. The bearer token returned by
// CreateSession is kept and attached to every later call.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client

	mu    sync.RWMutex
	token string
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Token returns the bearer token of the current user, if any.
func (c *HTTPClient) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *HTTPClient) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *HTTPClient) CreateSession(ctx context.Context, sessionID string) (*models.User, error) {
	var resp struct {
		User  *models.User `json:"user"`
		Token string       `json:"token"`
	}
	body := map[string]string{}
	if sessionID != "" {
		body["sessionId"] = sessionID
	}
	if err := c.do(ctx, http.MethodPost, "/user/session", body, &resp); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, fmt.Errorf("create session: response carries no user")
	}
	c.setToken(resp.Token)
	return resp.User, nil
}

func (c *HTTPClient) StartSearch(ctx context.Context, userID string) (*SearchResult, error) {
	var resp SearchResult
	if err := c.do(ctx, http.MethodPost, "/search/start", map[string]string{"userId": userID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) StopSearch(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodPost, "/search/stop", map[string]string{"userId": userID}, nil)
}

func (c *HTTPClient) SendMessage(ctx context.Context, chatSessionID, senderID, text string) (*models.Message, error) {
	var resp struct {
		Message *models.Message `json:"message"`
	}
	body := map[string]string{
		"chatSessionId": chatSessionID,
		"senderId":      senderID,
		"messageText":   text,
	}
	if err := c.do(ctx, http.MethodPost, "/message/send", body, &resp); err != nil {
		return nil, err
	}
	if resp.Message == nil {
		return nil, fmt.Errorf("send message: response carries no message")
	}
	return resp.Message, nil
}

func (c *HTTPClient) EndChat(ctx context.Context, chatSessionID, userID string) error {
	body := map[string]string{"chatSessionId": chatSessionID, "userId": userID}
	return c.do(ctx, http.MethodPost, "/chat/end", body, nil)
}

func (c *HTTPClient) SetOnline(ctx context.Context, userID string, online bool) error {
	body := map[string]any{"userId": userID, "isOnline": online}
	return c.do(ctx, http.MethodPost, "/user/online", body, nil)
}

func (c *HTTPClient) Messages(ctx context.Context, chatSessionID string) ([]models.Message, string, error) {
	var resp struct {
		Messages []models.Message `json:"messages"`
		Status   string           `json:"status"`
	}
	path := "/chat/messages/" + url.PathEscape(chatSessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, "", err
	}
	return resp.Messages, resp.Status, nil
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return responseError(resp.StatusCode, e)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// responseError rebuilds the service's AppError from an error response so
// callers can branch on apperrors.HasCode and IsKind.
func responseError(status int, e errorResponse) *apperrors.AppError {
	kind := apperrors.KindValidation
	switch {
	case status == http.StatusNotFound:
		kind = apperrors.KindNotFound
	case status == http.StatusConflict:
		kind = apperrors.KindStateConflict
	case status >= http.StatusInternalServerError:
		kind = apperrors.KindTransientStore
	}
	code := e.Code
	if code == "" {
		code = apperrors.CodeInternal
	}
	return apperrors.NewError(status, kind, code, e.Error)
}
