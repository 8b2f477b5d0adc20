package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ddalti/internal/config"
	"ddalti/internal/domain"
	"ddalti/internal/models"

	"github.com/codeGROOVE-dev/retry"
	"github.com/rs/zerolog"
	"resty.dev/v3"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36"

// HTTPError is a non-2xx answer from an upstream endpoint.
type HTTPError struct {
	URL    string
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: HTTP %d", e.URL, e.Status)
}

// permanent reports whether retrying the request cannot help.
func (e *HTTPError) permanent() bool {
	return e.Status >= 400 && e.Status < 500 && e.Status != http.StatusTooManyRequests
}

// InterparkClient reads the open-notice list.
type InterparkClient struct {
	cfg    config.FeedConfig
	http   *resty.Client
	logger *zerolog.Logger

	retryDelay time.Duration
}

var _ domain.FeedSource = (*InterparkClient)(nil)

func NewInterparkClient(cfg config.FeedConfig, logger *zerolog.Logger) *InterparkClient {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", browserUserAgent).
		SetHeader("Accept", "application/json, text/plain, */*").
		SetHeader("Accept-Language", "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7").
		SetHeader("Referer", cfg.Referer)

	return &InterparkClient{
		cfg:        cfg,
		http:       client,
		logger:     logger,
		retryDelay: 2 * time.Second,
	}
}

// Close releases idle connections.
func (c *InterparkClient) Close() error {
	return c.http.Close()
}

// Fetch returns every ticket of the first page of the notice list.
func (c *InterparkClient) Fetch(ctx context.Context) ([]models.Ticket, error) {
	var tickets []models.Ticket

	attempts := c.cfg.Attempts
	if attempts == 0 {
		attempts = 1
	}

	err := retry.Do(
		func() error {
			started := time.Now()
			resp, err := c.http.R().
				SetContext(ctx).
				SetQueryParams(map[string]string{
					"goodsGenre":  c.cfg.Genre,
					"goodsRegion": c.cfg.Region,
					"offset":      "0",
					"pageSize":    strconv.Itoa(c.cfg.PageSize),
					"sorting":     c.cfg.Sorting,
				}).
				Get(c.cfg.URL)
			if err != nil {
				return fmt.Errorf("request notice list: %w", err)
			}

			c.logger.Debug().
				Int("status", resp.StatusCode()).
				Dur("elapsed", time.Since(started)).
				Msg("notice list fetched")

			if resp.IsError() {
				httpErr := &HTTPError{URL: c.cfg.URL, Status: resp.StatusCode()}
				if httpErr.permanent() {
					return retry.Unrecoverable(httpErr)
				}
				return httpErr
			}

			var page []models.Ticket
			if err := json.Unmarshal(resp.Bytes(), &page); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode notice list: %w", err))
			}
			tickets = page
			return nil
		},
		retry.Attempts(attempts),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(30*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn().Err(err).Uint("attempt", n+1).Msg("retrying notice list fetch")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch interpark feed: %w", err)
	}

	c.logger.Info().Int("count", len(tickets)).Msg("interpark feed fetched")
	return tickets, nil
}

// IsPermanent reports whether err is an upstream rejection that retrying will not fix.
func IsPermanent(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.permanent()
}
