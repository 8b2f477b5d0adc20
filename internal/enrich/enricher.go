package enrich

import (
	"context"
	"fmt"
	"strings"

	"ddalti/internal/domain"
	"ddalti/internal/metrics"
	"ddalti/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	artistTemperature  = 0.2
	hashtagTemperature = 0.5

	artistKeyPrefix  = "artist:"
	hashtagKeyPrefix = "hashtags:"
)

// Completer produces a text completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string, temperature float64) (string, error)
}

// Service derives artist names and hashtags for ticket titles.
// Results are cached by title; failures yield the fallback values and are not cached.
type Service struct {
	llm         Completer
	cache       domain.KVCache
	concurrency int
	logger      *zerolog.Logger
}

var _ domain.Enricher = (*Service)(nil)

func NewService(llm Completer, cache domain.KVCache, concurrency int, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Service{llm: llm, cache: cache, concurrency: concurrency, logger: logger}
}

func ArtistPrompt(title string) string {
	return fmt.Sprintf("제목: %s\n가수명 or 뮤지컬 제목:", title)
}

func HashtagPrompt(title, artist, genre string) string {
	return fmt.Sprintf("콘서트 제목: %s\n가수 또는 뮤지컬 제목: %s\n장르: %s\n해시태그 10개를 한국어로 작성. '#' 포함, 한 줄로, 콤마 없이, 9자 이내 키워드:", title, artist, genre)
}

// Enrich returns the artist and hashtag line for a title.
func (s *Service) Enrich(ctx context.Context, title, genre string) (string, string) {
	artist := s.Artist(ctx, title)
	return artist, s.Hashtags(ctx, title, artist, genre)
}

func (s *Service) Artist(ctx context.Context, title string) string {
	v, ok := s.cached(ctx, artistKeyPrefix+title)
	if ok {
		metrics.IncEnrich("artist", "cached")
		return v
	}

	reply, err := s.llm.Complete(ctx, ArtistPrompt(title), artistTemperature)
	reply = strings.Trim(strings.TrimSpace(reply), `"`)
	if err != nil || reply == "" {
		s.logger.Warn().Err(err).Str("title", title).Str("stage", "artist").Msg("artist extraction failed, using fallback")
		metrics.IncEnrich("artist", "fallback")
		return models.FallbackArtist
	}

	s.store(ctx, artistKeyPrefix+title, reply)
	metrics.IncEnrich("artist", "ok")
	return reply
}

func (s *Service) Hashtags(ctx context.Context, title, artist, genre string) string {
	v, ok := s.cached(ctx, hashtagKeyPrefix+title)
	if ok {
		metrics.IncEnrich("hashtags", "cached")
		return v
	}

	reply, err := s.llm.Complete(ctx, HashtagPrompt(title, artist, genre), hashtagTemperature)
	reply = strings.TrimSpace(reply)
	if err != nil || reply == "" {
		s.logger.Warn().Err(err).Str("title", title).Str("stage", "hashtags").Msg("hashtag generation failed, using fallback")
		metrics.IncEnrich("hashtags", "fallback")
		return models.FallbackHashtags
	}

	s.store(ctx, hashtagKeyPrefix+title, reply)
	metrics.IncEnrich("hashtags", "ok")
	return reply
}

// EnrichAll fills Artist and Hashtags on every item, running at most concurrency lookups at once.
func (s *Service) EnrichAll(ctx context.Context, items []*models.QueueItem) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, item := range items {
		g.Go(func() error {
			item.Artist, item.Hashtags = s.Enrich(ctx, item.Title, item.Genre)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) cached(ctx context.Context, key string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	v, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("enrichment cache read failed")
		return "", false
	}
	return v, ok
}

func (s *Service) store(ctx context.Context, key, value string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("enrichment cache write failed")
	}
}
