package images

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"ddalti/internal/config"
	"ddalti/internal/domain"
	"ddalti/internal/metrics"

	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"
	"resty.dev/v3"
)

// hashSet is the cache set holding md5 sums of stored posters.
const hashSet = "image_hashes"

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true}

// Downloader stores poster images locally and skips content it has already seen.
type Downloader struct {
	dir    string
	http   *resty.Client
	rl     ratelimit.Limiter
	cache  domain.KVCache
	logger *zerolog.Logger

	mu        sync.Mutex
	processed map[string]string
	hashes    map[string]struct{}
}

var _ domain.ImageFetcher = (*Downloader)(nil)

// NewDownloader creates the image folder and loads the hashes of the files already in it.
// cache may be nil.
func NewDownloader(ctx context.Context, cfg config.ImagesConfig, cache domain.KVCache, logger *zerolog.Logger) (*Downloader, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 1
	}

	d := &Downloader{
		dir: cfg.Dir,
		http: resty.New().
			SetTimeout(cfg.Timeout).
			SetHeader("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"),
		rl:        ratelimit.New(rps),
		cache:     cache,
		logger:    logger,
		processed: make(map[string]string),
		hashes:    make(map[string]struct{}),
	}

	n, err := d.loadExisting(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load existing image hashes")
	}
	logger.Info().Int("count", n).Str("dir", cfg.Dir).Msg("existing image hashes loaded")
	return d, nil
}

func (d *Downloader) Close() error {
	return d.http.Close()
}

func (d *Downloader) loadExisting(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return 0, err
	}
	loaded := 0
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		data, err := os.ReadFile(filepath.Join(d.dir, e.Name()))
		if err != nil {
			d.logger.Warn().Err(err).Str("file", e.Name()).Msg("failed to hash existing image")
			continue
		}
		sum := contentHash(data)
		d.hashes[sum] = struct{}{}
		if d.cache != nil {
			if _, err := d.cache.MarkSeen(ctx, hashSet, sum); err != nil {
				d.logger.Warn().Err(err).Msg("failed to record image hash in cache")
			}
		}
		loaded++
	}
	return loaded, nil
}

// Download saves imageURL under the poster filename rules and returns the local path.
// An empty result means there is no usable image: empty URL, duplicate content, or a failed download.
func (d *Downloader) Download(ctx context.Context, imageURL, goodsCode, title string, index int) string {
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return ""
	}

	d.mu.Lock()
	if p, ok := d.processed[imageURL]; ok {
		d.mu.Unlock()
		d.logger.Debug().Str("url", imageURL).Msg("image url already processed")
		return p
	}
	d.mu.Unlock()

	path := filepath.Join(d.dir, FileName(imageURL, goodsCode, title, index))
	if _, err := os.Stat(path); err == nil {
		d.remember(imageURL, path)
		metrics.IncImage("exists")
		return path
	}

	d.rl.Take()
	resp, err := d.http.R().SetContext(ctx).Get(imageURL)
	if err != nil {
		d.logger.Error().Err(err).Str("url", imageURL).Msg("image download failed")
		metrics.IncImage("error")
		return ""
	}
	if resp.IsError() {
		d.logger.Error().Int("status", resp.StatusCode()).Str("url", imageURL).Msg("image download rejected")
		metrics.IncImage("error")
		return ""
	}
	body := resp.Bytes()

	sum := contentHash(body)
	if d.isDuplicate(ctx, sum) {
		d.logger.Info().Str("url", imageURL).Msg("duplicate image content, skipped")
		d.remember(imageURL, "")
		metrics.IncImage("duplicate")
		return ""
	}

	if err := os.WriteFile(path, body, 0o644); err != nil {
		d.logger.Error().Err(err).Str("path", path).Msg("failed to write image")
		d.forget(ctx, sum)
		metrics.IncImage("error")
		return ""
	}

	d.remember(imageURL, path)
	metrics.IncImage("downloaded")
	d.logger.Info().Str("file", filepath.Base(path)).Msg("image downloaded")
	return path
}

func (d *Downloader) remember(imageURL, path string) {
	d.mu.Lock()
	d.processed[imageURL] = path
	d.mu.Unlock()
}

func (d *Downloader) isDuplicate(ctx context.Context, sum string) bool {
	d.mu.Lock()
	_, seen := d.hashes[sum]
	d.hashes[sum] = struct{}{}
	d.mu.Unlock()
	if seen {
		return true
	}

	if d.cache == nil {
		return false
	}
	added, err := d.cache.MarkSeen(ctx, hashSet, sum)
	if err != nil {
		d.logger.Warn().Err(err).Msg("image hash cache unavailable")
		return false
	}
	return !added
}

// forget drops a hash recorded for content that never reached disk.
func (d *Downloader) forget(ctx context.Context, sum string) {
	d.mu.Lock()
	delete(d.hashes, sum)
	d.mu.Unlock()

	if d.cache == nil {
		return
	}
	if err := d.cache.Forget(ctx, hashSet, sum); err != nil {
		d.logger.Warn().Err(err).Msg("failed to clear image hash")
	}
}

// FileName builds the local file name for a poster.
func FileName(imageURL, goodsCode, title string, index int) string {
	ext := Extension(imageURL)

	if code := sanitize(goodsCode, false); code != "" {
		return code + ext
	}

	urlHash := shortHash(imageURL)
	safeTitle := sanitize(title, true)
	if r := []rune(safeTitle); len(r) > 20 {
		safeTitle = string(r[:20])
	}
	if safeTitle != "" {
		return fmt.Sprintf("ticket_%s_%s%s", safeTitle, urlHash, ext)
	}
	return fmt.Sprintf("ticket_%s_%03d%s", urlHash, index, ext)
}

// Extension maps the URL path suffix to a stored extension, defaulting to .jpg.
func Extension(imageURL string) string {
	u, err := url.Parse(imageURL)
	if err != nil {
		return ".jpg"
	}
	p := strings.ToLower(u.Path)
	switch {
	case strings.HasSuffix(p, ".jpg"), strings.HasSuffix(p, ".jpeg"):
		return ".jpg"
	case strings.HasSuffix(p, ".png"):
		return ".png"
	case strings.HasSuffix(p, ".gif"):
		return ".gif"
	case strings.HasSuffix(p, ".webp"):
		return ".webp"
	}
	return ".jpg"
}

// sanitize keeps letters, digits, '-' and '_'. With spaces set, spaces become '_'.
func sanitize(s string, spaces bool) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_':
			b.WriteRune(r)
		case spaces && r == ' ':
			b.WriteRune('_')
		}
	}
	return b.String()
}

func shortHash(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

func contentHash(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// Exists reports whether path names a regular file.
func Exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
