package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ddalti/internal/config"
	"ddalti/internal/domain"
	"ddalti/internal/images"
	"ddalti/internal/models"

	"github.com/rs/zerolog"
	"resty.dev/v3"
)

// flexID accepts identifiers sent either as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type bunjangUploadResponse struct {
	ImageID flexID `json:"image_id"`
}

type bunjangProductResponse struct {
	Data struct {
		PID flexID `json:"pid"`
	} `json:"data"`
}

type bunjangCommon struct {
	Description       string   `json:"description"`
	Keywords          []string `json:"keywords"`
	Name              string   `json:"name"`
	Condition         string   `json:"condition"`
	PriceOfferEnabled bool     `json:"priceOfferEnabled"`
}

type bunjangGeo struct {
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	DongID  int     `json:"dongId"`
}

type bunjangTrade struct {
	FreeShipping         bool `json:"freeShipping"`
	IsDefaultShippingFee bool `json:"isDefaultShippingFee"`
	InPerson             bool `json:"inPerson"`
}

type bunjangTransaction struct {
	Quantity int          `json:"quantity"`
	Price    int          `json:"price"`
	Trade    bunjangTrade `json:"trade"`
}

type bunjangMedia struct {
	ImageID string `json:"imageId"`
}

type bunjangProduct struct {
	CategoryID string        `json:"categoryId"`
	Common     bunjangCommon `json:"common"`
	Option     []any         `json:"option"`
	Location   struct {
		Geo bunjangGeo `json:"geo"`
	} `json:"location"`
	Transaction       bunjangTransaction `json:"transaction"`
	Media             []bunjangMedia     `json:"media"`
	NaverShoppingData struct {
		IsEnabled bool `json:"isEnabled"`
	} `json:"naverShoppingData"`
}

// BunjangPublisher registers a classifieds listing per item. A poster image is required.
type BunjangPublisher struct {
	cfg    config.BunjangConfig
	http   *resty.Client
	logger *zerolog.Logger
}

var _ domain.Publisher = (*BunjangPublisher)(nil)

func NewBunjangPublisher(cfg config.BunjangConfig, logger *zerolog.Logger) *BunjangPublisher {
	return &BunjangPublisher{
		cfg:    cfg,
		http:   resty.New().SetTimeout(30 * time.Second).SetHeader("Accept", "application/json, text/plain, */*"),
		logger: orNop(logger),
	}
}

func (p *BunjangPublisher) Platform() string { return models.PlatformBunjang }

func (p *BunjangPublisher) Publish(ctx context.Context, item *models.QueueItem) models.PostResult {
	if !images.Exists(item.ImagePath) {
		return failure("bunjang", errors.New("listing needs a poster image"))
	}

	imageID, err := p.upload(ctx, item.ImagePath)
	if err != nil {
		return failure("bunjang upload", err)
	}

	pid, err := p.register(ctx, p.product(item, imageID))
	if err != nil {
		return failure("bunjang product", err)
	}
	p.logger.Info().Str("item_id", item.ID).Str("pid", pid).Msg("listing registered")
	return success("https://m.bunjang.co.kr/products/" + pid)
}

func (p *BunjangPublisher) product(item *models.QueueItem, imageID string) bunjangProduct {
	name, description := RenderListing(item)
	tags := item.Hashtags
	if tags == "" {
		tags = models.FallbackHashtags
	}

	var body bunjangProduct
	body.CategoryID = p.cfg.CategoryID
	body.Common = bunjangCommon{
		Description:       description,
		Keywords:          Keywords(tags),
		Name:              name,
		Condition:         "UNDEFINED",
		PriceOfferEnabled: true,
	}
	body.Option = []any{}
	body.Location.Geo = bunjangGeo{
		Address: p.cfg.Location.Address,
		Lat:     p.cfg.Location.Lat,
		Lon:     p.cfg.Location.Lon,
		DongID:  p.cfg.Location.DongID,
	}
	body.Transaction = bunjangTransaction{
		Quantity: 1,
		Price:    p.cfg.Price,
		Trade:    bunjangTrade{FreeShipping: true, IsDefaultShippingFee: false, InPerson: true},
	}
	body.Media = []bunjangMedia{{ImageID: imageID}}
	return body
}

func (p *BunjangPublisher) upload(ctx context.Context, path string) (string, error) {
	resp, err := p.http.R().
		SetContext(ctx).
		SetHeader("Referer", "https://m.bunjang.co.kr/").
		SetFile("file", path).
		Post(p.cfg.UploadURL)
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode(), resp.String())
	}
	var out bunjangUploadResponse
	if err := json.Unmarshal(resp.Bytes(), &out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if out.ImageID == "" {
		return "", errors.New("upload returned no image_id")
	}
	return string(out.ImageID), nil
}

func (p *BunjangPublisher) register(ctx context.Context, body bunjangProduct) (string, error) {
	resp, err := p.http.R().
		SetContext(ctx).
		SetHeader("x-bun-auth-token", p.cfg.AuthToken).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(p.cfg.ProductURL)
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode(), resp.String())
	}
	var out bunjangProductResponse
	if err := json.Unmarshal(resp.Bytes(), &out); err != nil {
		return "", fmt.Errorf("decode product response: %w", err)
	}
	if out.Data.PID == "" {
		return "", errors.New("product response has no pid")
	}
	return string(out.Data.PID), nil
}
