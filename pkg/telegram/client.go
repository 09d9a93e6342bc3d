// Package telegram implements the chat messenger over the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/storefront-core/pkg/errors"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	defaultTimeout = 15 * time.Second
)

const responseBodyReadLimit int64 = 1024

var errTokenRequired = errors.New("telegram bot token is required")

// Client calls the Bot API methods the storefront needs.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the Bot API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = strings.TrimRight(trimmed, "/")
		}
	}
}

// NewClient builds a Bot API client for the given token.
func NewClient(token string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, errTokenRequired
	}
	client := &Client{
		token:      trimmed,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return client, nil
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
	Result      json.RawMessage `json:"result"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

// SendText posts a plain text message.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) (int64, error) {
	return c.callForMessage(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
}

// SendPhoto uploads a PNG photo with a caption.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string) (int64, error) {
	if len(photo) == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "photo is empty")
	}
	return c.upload(ctx, "sendPhoto", "photo", "qris.png", photo, chatID, caption)
}

// SendDocument uploads a file attachment with a caption.
func (c *Client) SendDocument(ctx context.Context, chatID int64, filename string, content []byte, caption string) (int64, error) {
	if strings.TrimSpace(filename) == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "filename is required")
	}
	return c.upload(ctx, "sendDocument", "document", filename, content, chatID, caption)
}

// EditText rewrites a message caption, falling back to its text for
// messages that were sent without media.
func (c *Client) EditText(ctx context.Context, chatID, messageID int64, text string) error {
	params := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	}
	params["caption"] = text
	_, captionErr := c.call(ctx, "editMessageCaption", params)
	if captionErr == nil {
		return nil
	}
	delete(params, "caption")
	params["text"] = text
	if _, err := c.call(ctx, "editMessageText", params); err != nil {
		return errors.Join(captionErr, err)
	}
	return nil
}

// Delete removes a message.
func (c *Client) Delete(ctx context.Context, chatID, messageID int64) error {
	_, err := c.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	})
	return err
}

func (c *Client) callForMessage(ctx context.Context, method string, params map[string]any) (int64, error) {
	result, err := c.call(ctx, method, params)
	if err != nil {
		return 0, err
	}
	var msg sentMessage
	if err := json.Unmarshal(result, &msg); err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode "+method+" result")
	}
	return msg.MessageID, nil
}

func (c *Client) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "telegram client not configured")
	}
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal "+method+" request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build "+method+" request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, method)
}

func (c *Client) upload(ctx context.Context, method, field, filename string, content []byte, chatID int64, caption string) (int64, error) {
	if c == nil {
		return 0, pkgerrors.New(pkgerrors.CodeDependency, "telegram client not configured")
	}
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write chat id")
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write caption")
		}
	}
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create form file")
	}
	if _, err := part.Write(content); err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write form file")
	}
	if err := writer.Close(); err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close multipart body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), body)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build "+method+" request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	result, err := c.do(req, method)
	if err != nil {
		return 0, err
	}
	var msg sentMessage
	if err := json.Unmarshal(result, &msg); err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode "+method+" result")
	}
	return msg.MessageID, nil
}

func (c *Client) do(req *http.Request, method string) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute "+method+" request")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read "+method+" response")
	}
	var apiResp apiResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		snippet := raw
		if int64(len(snippet)) > responseBodyReadLimit {
			snippet = snippet[:responseBodyReadLimit]
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))), method+" request failed")
	}
	if !apiResp.OK {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, apiResp.Description), method+" request failed")
	}
	return apiResp.Result, nil
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}
