package images

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"ddalti/internal/config"
	"ddalti/internal/domain"
	"ddalti/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileName(t *testing.T) {
	const u = "https://ticketimage.interpark.com/Play/image/large/25/25001234_p.gif?v=2"

	assert.Equal(t, "25001234.gif", FileName(u, "25001234", "ignored", 0))
	assert.Equal(t, "25-0012.gif", FileName(u, " 25-00/12 ", "", 0))

	name := FileName("https://x/y/poster.PNG", "", "BTS 월드 투어: 서울!", 3)
	assert.Equal(t, "ticket_BTS_월드_투어_서울_"+shortHash("https://x/y/poster.PNG")+".png", name)

	long := FileName("https://x/y/p.webp", "", "abcdefghijklmnopqrstuvwxyz", 0)
	assert.Equal(t, "ticket_abcdefghijklmnopqrst_"+shortHash("https://x/y/p.webp")+".webp", long)

	assert.Equal(t, "ticket_"+shortHash("https://x/y/p")+"_007.jpg", FileName("https://x/y/p", "", "!!!", 7))
}

func TestExtension(t *testing.T) {
	cases := map[string]string{
		"https://a/b.jpeg":    ".jpg",
		"https://a/b.JPG":     ".jpg",
		"https://a/b.png?x=1": ".png",
		"https://a/b.gif":     ".gif",
		"https://a/b.webp":    ".webp",
		"https://a/b":         ".jpg",
		"https://a/b.bmp":     ".jpg",
		"::not a url::/x.png": ".jpg",
	}
	for in, want := range cases {
		assert.Equal(t, want, Extension(in), in)
	}
}

func newTestDownloader(t *testing.T, dir string, cache domain.KVCache) *Downloader {
	t.Helper()
	d, err := NewDownloader(context.Background(), config.ImagesConfig{Dir: dir, Timeout: 5 * time.Second, RPS: 100}, cache, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDownload(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/a.jpg", "/copy-of-a.jpg":
			_, _ = w.Write([]byte("poster-a"))
		case "/b.png":
			_, _ = w.Write([]byte("poster-b"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	dir := t.TempDir()
	d := newTestDownloader(t, dir, repository.NewMemoryCache(0))
	ctx := context.Background()

	path := d.Download(ctx, server.URL+"/a.jpg", "1001", "A", 0)
	assert.Equal(t, filepath.Join(dir, "1001.jpg"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "poster-a", string(data))
	assert.True(t, Exists(path))

	// same url is not fetched again
	assert.Equal(t, path, d.Download(ctx, server.URL+"/a.jpg", "1001", "A", 0))
	assert.Equal(t, int32(1), calls.Load())

	// same content under another url is dropped
	assert.Empty(t, d.Download(ctx, server.URL+"/copy-of-a.jpg", "1002", "A copy", 1))
	_, err = os.Stat(filepath.Join(dir, "1002.jpg"))
	assert.True(t, os.IsNotExist(err))

	assert.NotEmpty(t, d.Download(ctx, server.URL+"/b.png", "1003", "B", 2))
	assert.Empty(t, d.Download(ctx, server.URL+"/missing.jpg", "1004", "C", 3))
	assert.Empty(t, d.Download(ctx, "  ", "1005", "D", 4))
}

func TestDownloadExistingFile(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("fresh"))
	}))
	defer server.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2001.jpg"), []byte("old"), 0o644))

	d := newTestDownloader(t, dir, nil)
	path := d.Download(context.Background(), server.URL+"/x.jpg", "2001", "", 0)
	assert.Equal(t, filepath.Join(dir, "2001.jpg"), path)
	assert.Equal(t, int32(0), calls.Load())
}

func TestDownloadPreloadedHashes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("already here"))
	}))
	defer server.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.png"), []byte("already here"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	cache := repository.NewMemoryCache(0)
	d := newTestDownloader(t, dir, cache)
	assert.Empty(t, d.Download(context.Background(), server.URL+"/new.png", "3001", "", 0))

	added, err := cache.MarkSeen(context.Background(), hashSet, contentHash([]byte("already here")))
	require.NoError(t, err)
	assert.False(t, added)
}

func TestDownloadWriteFailureDoesNotMarkContentSeen(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("poster-c"))
	}))
	defer server.Close()

	dir := filepath.Join(t.TempDir(), "images")
	cache := repository.NewMemoryCache(0)
	d := newTestDownloader(t, dir, cache)
	ctx := context.Background()

	require.NoError(t, os.RemoveAll(dir))
	assert.Empty(t, d.Download(ctx, server.URL+"/c.jpg", "5001", "C", 0))

	added, err := cache.MarkSeen(ctx, hashSet, contentHash([]byte("poster-c")))
	require.NoError(t, err)
	assert.True(t, added, "hash of an unwritten image stays out of the cache")
	require.NoError(t, cache.Forget(ctx, hashSet, contentHash([]byte("poster-c"))))

	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := d.Download(ctx, server.URL+"/c.jpg", "5001", "C", 0)
	assert.Equal(t, filepath.Join(dir, "5001.jpg"), path)
	assert.Equal(t, int32(2), calls.Load())
}
