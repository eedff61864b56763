// Package extractor клиент внешнего сервиса, который превращает ссылку
// на файлообменник в прямую ссылку на файл.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/magabrotheeeer/terabox-bot/internal/models"
)

// Placeholder место подстановки ссылки в шаблоне адреса.
const Placeholder = "{}"

// maxResponseSize ограничение на размер ответа сервиса.
const maxResponseSize = 1 << 20

var (
	// ErrUnavailable сервис недоступен или ответил с ошибкой.
	ErrUnavailable = errors.New("extractor unavailable")
	// ErrRejected сервис не смог обработать ссылку.
	ErrRejected = errors.New("extractor rejected link")
)

// Client клиент сервиса извлечения ссылок.
type Client struct {
	urlTemplate string
	httpClient  *http.Client
}

// NewClient создаёт клиента. urlTemplate содержит {} на месте ссылки.
func NewClient(urlTemplate string, timeout time.Duration) *Client {
	return &Client{
		urlTemplate: urlTemplate,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) newRequest(ctx context.Context, link string) (*http.Request, error) {
	target := strings.Replace(c.urlTemplate, Placeholder, url.QueryEscape(link), 1)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// Extract запрашивает прямую ссылку для link.
func (c *Client) Extract(ctx context.Context, link string) (*models.ExtractResult, error) {
	const op = "extractor.Extract"
	req, err := c.newRequest(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %w: unexpected status: %s", op, ErrUnavailable, resp.Status)
	}

	var result models.ExtractResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&result); err != nil {
		return nil, fmt.Errorf("%s: %w: decode response: %w", op, ErrUnavailable, err)
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("%s: %w: %s", op, ErrRejected, msg)
	}
	if result.DownloadLink == "" {
		return nil, fmt.Errorf("%s: %w: empty download link", op, ErrRejected)
	}
	return &result, nil
}
