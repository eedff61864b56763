// Package telegram минимальный клиент Telegram Bot API: long polling,
// текстовые сообщения, фото по ссылке и потоковая отправка видео.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrBlocked пользователь заблокировал бота или чат недоступен.
var ErrBlocked = errors.New("chat unavailable")

// Client клиент Bot API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// New создаёт клиента. timeout ограничивает обычные запросы; long polling
// и отправка файлов ограничиваются контекстом вызова.
func New(apiURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(apiURL, "/") + "/bot" + token,
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

// GetUpdates ждёт новые события не дольше pollTimeout.
func (c *Client) GetUpdates(ctx context.Context, offset int64, pollTimeout time.Duration) ([]Update, error) {
	const op = "telegram.GetUpdates"
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(int(pollTimeout.Seconds())))
	params.Set("allowed_updates", `["message"]`)

	ctx, cancel := context.WithTimeout(ctx, pollTimeout+c.timeout)
	defer cancel()

	var updates []Update
	if err := c.call(ctx, "getUpdates", params, &updates); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return updates, nil
}

// SendMessage отправляет текст с HTML-разметкой.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	const op = "telegram.SendMessage"
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	params.Set("text", text)
	params.Set("parse_mode", "HTML")
	params.Set("disable_web_page_preview", "true")

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.call(ctx, "sendMessage", params, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SendPhoto отправляет фото по ссылке.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, photoURL, caption string) error {
	const op = "telegram.SendPhoto"
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	params.Set("photo", photoURL)
	params.Set("caption", caption)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.call(ctx, "sendPhoto", params, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SendVideo загружает видео из r, не буферизуя файл в памяти.
func (c *Client) SendVideo(ctx context.Context, chatID int64, filename string, r io.Reader, caption string) error {
	const op = "telegram.SendVideo"
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeVideoForm(mw, chatID, filename, r, caption)
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sendVideo", pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	if err := c.do(req, nil); err != nil {
		_ = pr.CloseWithError(err)
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func writeVideoForm(mw *multipart.Writer, chatID int64, filename string, r io.Reader, caption string) error {
	fields := [][2]string{
		{"chat_id", strconv.FormatInt(chatID, 10)},
		{"caption", caption},
		{"supports_streaming", "true"},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("video", filename)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, r)
	return err
}

func (c *Client) call(ctx context.Context, method string, params url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, strings.NewReader(params.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode response (status %s): %w", resp.Status, err)
	}
	if !body.OK {
		apiErr := &APIError{Code: body.ErrorCode, Description: body.Description}
		if body.ErrorCode == http.StatusForbidden {
			return errors.Join(ErrBlocked, apiErr)
		}
		return apiErr
	}
	if result != nil && len(body.Result) > 0 {
		if err := json.Unmarshal(body.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}
