package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ddalti/internal/config"
	"ddalti/internal/domain"
	"ddalti/internal/images"
	"ddalti/internal/models"

	"github.com/dghubble/oauth1"
	"github.com/rs/zerolog"
	"resty.dev/v3"
)

type tweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

type tweetRequest struct {
	Text  string      `json:"text"`
	Media *tweetMedia `json:"media,omitempty"`
}

type tweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

type mediaResponse struct {
	MediaIDString string `json:"media_id_string"`
}

// TwitterPublisher posts through the v2 tweets endpoint with OAuth 1.0a user credentials.
type TwitterPublisher struct {
	http      *resty.Client
	baseURL   string
	uploadURL string
	handle    string
	logger    *zerolog.Logger
}

var _ domain.Publisher = (*TwitterPublisher)(nil)

func NewTwitterPublisher(cfg config.TwitterConfig, logger *zerolog.Logger) *TwitterPublisher {
	oauthCfg := oauth1.NewConfig(cfg.ConsumerKey, cfg.ConsumerSecret)
	token := oauth1.NewToken(cfg.AccessToken, cfg.AccessSecret)
	httpClient := oauthCfg.Client(context.Background(), token)

	return &TwitterPublisher{
		http:      resty.NewWithClient(httpClient).SetTimeout(30 * time.Second),
		baseURL:   strings.TrimRight(cfg.APIBaseURL, "/"),
		uploadURL: cfg.UploadURL,
		handle:    strings.TrimPrefix(cfg.Handle, "@"),
		logger:    orNop(logger),
	}
}

func (p *TwitterPublisher) Platform() string { return models.PlatformTwitter }

func (p *TwitterPublisher) Publish(ctx context.Context, item *models.QueueItem) models.PostResult {
	text := RenderText(item)

	var mediaIDs []string
	if images.Exists(item.ImagePath) {
		id, err := p.uploadMedia(ctx, item.ImagePath)
		if err != nil {
			p.logger.Warn().Err(err).Str("item_id", item.ID).Msg("media upload failed, posting text only")
		} else {
			mediaIDs = append(mediaIDs, id)
		}
	}

	id, err := p.createTweet(ctx, text, mediaIDs)
	if err != nil {
		return failure("tweet", err)
	}
	return success(fmt.Sprintf("https://twitter.com/%s/status/%s", p.handle, id))
}

func (p *TwitterPublisher) uploadMedia(ctx context.Context, path string) (string, error) {
	resp, err := p.http.R().
		SetContext(ctx).
		SetFile("media", path).
		Post(p.uploadURL)
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("media upload: HTTP %d: %s", resp.StatusCode(), resp.String())
	}
	var out mediaResponse
	if err := json.Unmarshal(resp.Bytes(), &out); err != nil {
		return "", fmt.Errorf("decode media upload: %w", err)
	}
	if out.MediaIDString == "" {
		return "", errors.New("media upload returned no media id")
	}
	return out.MediaIDString, nil
}

func (p *TwitterPublisher) createTweet(ctx context.Context, text string, mediaIDs []string) (string, error) {
	body := tweetRequest{Text: text}
	if len(mediaIDs) > 0 {
		body.Media = &tweetMedia{MediaIDs: mediaIDs}
	}

	resp, err := p.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(p.baseURL + "/2/tweets")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		raw := resp.String()
		if strings.Contains(strings.ToLower(raw), "duplicate content") {
			return "", ErrDuplicateContent
		}
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode(), raw)
	}
	var out tweetResponse
	if err := json.Unmarshal(resp.Bytes(), &out); err != nil {
		return "", fmt.Errorf("decode tweet response: %w", err)
	}
	if out.Data.ID == "" {
		return "", errors.New("create tweet returned no id")
	}
	return out.Data.ID, nil
}
