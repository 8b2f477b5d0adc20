package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"ddalti/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Logging    LoggingConfig    `yaml:"logging"`
	Store      StoreConfig      `yaml:"store"`
	Google     GoogleConfig     `yaml:"google"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Feed       FeedConfig       `yaml:"feed"`
	Webzine    WebzineConfig    `yaml:"webzine"`
	Images     ImagesConfig     `yaml:"images"`
	Enrich     EnrichConfig     `yaml:"enrich"`
	Posting    PostingConfig    `yaml:"posting"`
	Twitter    TwitterConfig    `yaml:"twitter"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Bunjang    BunjangConfig    `yaml:"bunjang"`
	Crawl      CrawlConfig      `yaml:"crawl"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Exports    ExportConfig     `yaml:"exports"`
	Backup     BackupConfig     `yaml:"backup"`

	// Secrets come from the environment only.
	Secrets Secrets `yaml:"-"`
}

// Secrets are the platform credentials read by envconfig.
type Secrets struct {
	TwitterAPIKey       string `envconfig:"TWITTER_API_KEY"`
	TwitterAPISecret    string `envconfig:"TWITTER_API_SECRET"`
	TwitterAccessToken  string `envconfig:"TWITTER_ACCESS_TOKEN"`
	TwitterAccessSecret string `envconfig:"TWITTER_ACCESS_TOKEN_SECRET"`
	TelegramBotToken    string `envconfig:"TELEGRAM_BOT_TOKEN"`
	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY"`
	BunjangAuthToken    string `envconfig:"BUNJANG_AUTH_TOKEN"`
	GoogleCredentials   string `envconfig:"GOOGLE_CREDENTIALS_FILE"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format" validate:"omitempty,oneof=json console"`
	Output   string `yaml:"output" validate:"omitempty,oneof=stdout stderr file"`
	FilePath string `yaml:"file_path"`
}

const (
	BackendSheets = "sheets"
	BackendSQLite = "sqlite"
)

type StoreConfig struct {
	Backend string `yaml:"backend" validate:"oneof=sheets sqlite"`
}

type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	QueueSheet      string `yaml:"queue_sheet"`
	HotSheet        string `yaml:"hot_sheet"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

const (
	HotModeFlag  = "flag"
	HotModeViews = "views"
)

type FeedConfig struct {
	URL      string        `yaml:"url" validate:"required,url"`
	Referer  string        `yaml:"referer"`
	Genre    string        `yaml:"genre"`
	Region   string        `yaml:"region"`
	Sorting  string        `yaml:"sorting"`
	PageSize int           `yaml:"page_size" validate:"gte=1,lte=1000"`
	Timeout  time.Duration `yaml:"timeout"`
	Attempts uint          `yaml:"attempts"`
	// HotMode selects the hot filter: "flag" keeps isHot tickets, "views" also applies ViewThresholds.
	HotMode        string         `yaml:"hot_mode" validate:"oneof=flag views"`
	ViewThresholds map[string]int `yaml:"view_thresholds"`
}

type WebzineConfig struct {
	Enabled   bool          `yaml:"enabled"`
	URL       string        `yaml:"url"`
	DetailURL string        `yaml:"detail_base_url"`
	MaxPages  int           `yaml:"max_pages"`
	DetailRPS int           `yaml:"detail_rps"`
	Timeout   time.Duration `yaml:"timeout"`
}

type ImagesConfig struct {
	Dir     string        `yaml:"dir"`
	Timeout time.Duration `yaml:"timeout"`
	RPS     int           `yaml:"rps"`
}

type EnrichConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// HourWindow is a [Start, End) hour-of-day range.
type HourWindow struct {
	Start int `yaml:"start" validate:"gte=0,lte=23"`
	End   int `yaml:"end" validate:"gte=1,lte=24,gtfield=Start"`
}

// Contains reports whether hour falls inside the window.
func (w HourWindow) Contains(hour int) bool {
	return w.Start <= hour && hour < w.End
}

// IntervalConfig holds minimum spacing ranges in minutes.
type IntervalConfig struct {
	PeakMin   int `yaml:"peak_min" validate:"gte=0"`
	PeakMax   int `yaml:"peak_max" validate:"gtefield=PeakMin"`
	NormalMin int `yaml:"normal_min" validate:"gte=0"`
	NormalMax int `yaml:"normal_max" validate:"gtefield=NormalMin"`
	NightMin  int `yaml:"night_min" validate:"gte=0"`
	NightMax  int `yaml:"night_max" validate:"gtefield=NightMin"`
}

type PostingConfig struct {
	Platform    string         `yaml:"platform" validate:"oneof=twitter telegram bunjang dryrun"`
	Timezone    string         `yaml:"timezone"`
	PollPeriod  time.Duration  `yaml:"poll_period"`
	PollTick    time.Duration  `yaml:"poll_tick"`
	MaxPer15Min int            `yaml:"max_per_15min" validate:"gte=1"`
	MaxPerDay   int            `yaml:"max_per_day" validate:"gte=1"`
	Intervals   IntervalConfig `yaml:"intervals"`
	PeakHours   []HourWindow   `yaml:"peak_hours" validate:"dive"`
	NightStart  int            `yaml:"night_start" validate:"gte=0,lte=23"`
	NightEnd    int            `yaml:"night_end" validate:"gte=0,lte=23"`
	// MinSpacing overrides the hour-based interval when set (used for Bunjang).
	MinSpacing time.Duration `yaml:"min_spacing"`
	MaxRetries int           `yaml:"max_retries" validate:"gte=1"`
	Retry      RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

type TwitterConfig struct {
	Handle         string `yaml:"handle"`
	APIBaseURL     string `yaml:"api_base_url"`
	UploadURL      string `yaml:"upload_url"`
	ConsumerKey    string `yaml:"consumer_key"`
	ConsumerSecret string `yaml:"consumer_secret"`
	AccessToken    string `yaml:"access_token"`
	AccessSecret   string `yaml:"access_secret"`
}

type TelegramConfig struct {
	BotToken        string  `yaml:"bot_token"`
	Debug           bool    `yaml:"debug"`
	ChannelID       int64   `yaml:"channel_id"`
	ChannelUsername string  `yaml:"channel_username"`
	AdminIDs        []int64 `yaml:"admin_ids"`
	BotEnabled      bool    `yaml:"bot_enabled"`
}

type BunjangLocation struct {
	Address string  `yaml:"address"`
	Lat     float64 `yaml:"lat"`
	Lon     float64 `yaml:"lon"`
	DongID  int     `yaml:"dong_id"`
}

type BunjangConfig struct {
	AuthToken  string          `yaml:"auth_token"`
	UploadURL  string          `yaml:"upload_url"`
	ProductURL string          `yaml:"product_url"`
	CategoryID string          `yaml:"category_id"`
	Price      int             `yaml:"price" validate:"gte=0"`
	Location   BunjangLocation `yaml:"location"`
}

type CrawlConfig struct {
	Schedule       string `yaml:"schedule"`
	DigestSchedule string `yaml:"digest_schedule"`
	RunOnStart     bool   `yaml:"run_on_start"`
	AutoQueue      bool   `yaml:"auto_queue"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; a missing file is not an error
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	if err := envconfig.Process("", &config.Secrets); err != nil {
		return nil, fmt.Errorf("read secrets from env: %w", err)
	}

	config.applySecrets()
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	switch c.Store.Backend {
	case BackendSheets:
		if c.Google.CredentialsFile == "" || c.Google.SpreadsheetID == "" {
			return errors.New("google credentials_file and spreadsheet_id are required for the sheets backend")
		}
	case BackendSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required for the sqlite backend")
		}
	}

	switch c.Posting.Platform {
	case models.PlatformTwitter:
		t := c.Twitter
		if t.ConsumerKey == "" || t.ConsumerSecret == "" || t.AccessToken == "" || t.AccessSecret == "" {
			return errors.New("twitter credentials are required for the twitter platform")
		}
		if t.Handle == "" {
			return errors.New("twitter handle is required for permalinks")
		}
	case models.PlatformTelegram:
		if c.Telegram.BotToken == "" {
			return errors.New("telegram bot token is required for the telegram platform")
		}
		if c.Telegram.ChannelID == 0 && c.Telegram.ChannelUsername == "" {
			return errors.New("telegram channel_id or channel_username is required")
		}
	case models.PlatformBunjang:
		if c.Bunjang.AuthToken == "" {
			return errors.New("bunjang auth token is required for the bunjang platform")
		}
	}

	if c.Telegram.BotEnabled && c.Telegram.BotToken == "" {
		return errors.New("telegram bot token is required when the bot is enabled")
	}
	if c.Enrich.Enabled && c.Enrich.APIKey == "" {
		return errors.New("openai api key is required when enrichment is enabled")
	}
	if _, err := time.LoadLocation(c.Posting.Timezone); err != nil {
		return fmt.Errorf("invalid posting timezone %q: %w", c.Posting.Timezone, err)
	}

	return nil
}

// Location returns the posting timezone, falling back to local time.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Posting.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) applySecrets() {
	s := c.Secrets
	fill := func(dst *string, v string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = v
		}
	}
	fill(&c.Twitter.ConsumerKey, s.TwitterAPIKey)
	fill(&c.Twitter.ConsumerSecret, s.TwitterAPISecret)
	fill(&c.Twitter.AccessToken, s.TwitterAccessToken)
	fill(&c.Twitter.AccessSecret, s.TwitterAccessSecret)
	fill(&c.Telegram.BotToken, s.TelegramBotToken)
	fill(&c.Enrich.APIKey, s.OpenAIAPIKey)
	fill(&c.Bunjang.AuthToken, s.BunjangAuthToken)
	fill(&c.Google.CredentialsFile, s.GoogleCredentials)
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "ddalti"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = BackendSheets
	}
	if c.Google.QueueSheet == "" {
		c.Google.QueueSheet = "PostingQueue"
	}
	if c.Google.HotSheet == "" {
		c.Google.HotSheet = "Hot"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/ddalti.db"
	}

	c.applyFeedDefaults()
	c.applyPostingDefaults()

	if c.Images.Dir == "" {
		c.Images.Dir = "images"
	}
	if c.Images.Timeout == 0 {
		c.Images.Timeout = 30 * time.Second
	}
	if c.Images.RPS == 0 {
		c.Images.RPS = 5
	}

	if c.Enrich.BaseURL == "" {
		c.Enrich.BaseURL = "https://api.openai.com/v1"
	}
	if c.Enrich.Model == "" {
		c.Enrich.Model = "gpt-4o"
	}
	if c.Enrich.Timeout == 0 {
		c.Enrich.Timeout = 60 * time.Second
	}
	if c.Enrich.Concurrency == 0 {
		c.Enrich.Concurrency = 4
	}
	if c.Enrich.CacheTTL == 0 {
		c.Enrich.CacheTTL = time.Duration(models.DefaultCacheTTL) * time.Second
	}

	if c.Twitter.APIBaseURL == "" {
		c.Twitter.APIBaseURL = "https://api.twitter.com"
	}
	if c.Twitter.UploadURL == "" {
		c.Twitter.UploadURL = "https://upload.twitter.com/1.1/media/upload.json"
	}

	if c.Bunjang.UploadURL == "" {
		c.Bunjang.UploadURL = "https://media-center.bunjang.co.kr/upload/79373298/product"
	}
	if c.Bunjang.ProductURL == "" {
		c.Bunjang.ProductURL = "https://api.bunjang.co.kr/api/pms/v2/products"
	}
	if c.Bunjang.CategoryID == "" {
		c.Bunjang.CategoryID = "900210001"
	}
	if c.Bunjang.Price == 0 {
		c.Bunjang.Price = 9999
	}
	if c.Bunjang.Location.Address == "" {
		c.Bunjang.Location = BunjangLocation{
			Address: "서울특별시 서초구 서초4동",
			Lat:     37.5025863,
			Lon:     127.022219,
			DongID:  648,
		}
	}

	if c.Crawl.Schedule == "" {
		c.Crawl.Schedule = "*/30 * * * *"
	}
	if c.Crawl.DigestSchedule == "" {
		c.Crawl.DigestSchedule = "0 9 * * *"
	}

	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Enabled && !c.API.Auth.Enabled && len(c.API.Auth.APIKeys) > 0 {
		c.API.Auth.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
	if c.Backup.Schedule == "" {
		c.Backup.Schedule = "0 4 * * *"
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 7
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}
}

func (c *Config) applyFeedDefaults() {
	if c.Feed.URL == "" {
		c.Feed.URL = "https://tickets.interpark.com/contents/api/open-notice/notice-list"
	}
	if c.Feed.Referer == "" {
		c.Feed.Referer = "https://tickets.interpark.com/contents/notice"
	}
	if c.Feed.Genre == "" {
		c.Feed.Genre = "ALL"
	}
	if c.Feed.Region == "" {
		c.Feed.Region = "ALL"
	}
	if c.Feed.Sorting == "" {
		c.Feed.Sorting = "OPEN_ASC"
	}
	if c.Feed.PageSize == 0 {
		c.Feed.PageSize = 50
	}
	if c.Feed.Timeout == 0 {
		c.Feed.Timeout = 30 * time.Second
	}
	if c.Feed.Attempts == 0 {
		c.Feed.Attempts = 3
	}
	if c.Feed.HotMode == "" {
		c.Feed.HotMode = HotModeFlag
	}
	if c.Feed.ViewThresholds == nil {
		c.Feed.ViewThresholds = map[string]int{
			"콘서트":     600,
			"뮤지컬":     500,
			"연극":      500,
			"클래식/오페라": 400,
		}
	}

	if c.Webzine.URL == "" {
		c.Webzine.URL = "https://ticket.interpark.com/webzine/paper/TPNoticeList_iFrame.asp?bbsno=34&pageno=1&KindOfGoods=TICKET&Genre=&sort=opendate&stext="
	}
	if c.Webzine.DetailURL == "" {
		c.Webzine.DetailURL = "https://ticket.interpark.com/webzine/paper/"
	}
	if c.Webzine.MaxPages == 0 {
		c.Webzine.MaxPages = 3
	}
	if c.Webzine.DetailRPS == 0 {
		c.Webzine.DetailRPS = 2
	}
	if c.Webzine.Timeout == 0 {
		c.Webzine.Timeout = 10 * time.Second
	}
}

func (c *Config) applyPostingDefaults() {
	p := &c.Posting
	if p.Platform == "" {
		p.Platform = models.PlatformTwitter
	}
	if p.Timezone == "" {
		p.Timezone = "Asia/Seoul"
	}
	if p.PollPeriod == 0 {
		p.PollPeriod = 3 * time.Minute
	}
	if p.PollTick == 0 {
		p.PollTick = 30 * time.Second
	}
	if p.MaxPer15Min == 0 {
		p.MaxPer15Min = 50
	}
	if p.MaxPerDay == 0 {
		p.MaxPerDay = 500
	}
	if p.Intervals == (IntervalConfig{}) {
		p.Intervals = IntervalConfig{
			PeakMin: 5, PeakMax: 10,
			NormalMin: 15, NormalMax: 30,
			NightMin: 60, NightMax: 120,
		}
	}
	if len(p.PeakHours) == 0 {
		p.PeakHours = []HourWindow{{9, 11}, {12, 13}, {15, 17}, {19, 22}}
	}
	if p.NightStart == 0 && p.NightEnd == 0 {
		p.NightStart, p.NightEnd = 23, 7
	}
	if p.Platform == models.PlatformBunjang && p.MinSpacing == 0 {
		p.MinSpacing = 60 * time.Second
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = models.MaxRetries
	}
	if p.Retry.InitialDelay == 0 {
		p.Retry.InitialDelay = 5 * time.Minute
	}
	if p.Retry.MaxDelay == 0 {
		p.Retry.MaxDelay = time.Hour
	}
	if p.Retry.BackoffFactor == 0 {
		p.Retry.BackoffFactor = 2
	}
}
