package models

const (
	// TimeLayout is how every timestamp is written to the record store.
	TimeLayout = "2006-01-02 15:04:05"

	// MaxRetries is the number of failed attempts after which an item is terminal.
	MaxRetries = 3

	// TicketIDLength is the number of hex characters kept from the fingerprint.
	TicketIDLength = 12
)

const (
	ParseModeMarkdown = "Markdown"
	ParseModeHTML     = "HTML"
)

const (
	PlatformTwitter  = "twitter"
	PlatformTelegram = "telegram"
	PlatformBunjang  = "bunjang"
	PlatformDryRun   = "dryrun"
)

const (
	// DefaultCacheTTL is the lifetime of cached AI results, in seconds.
	DefaultCacheTTL = 30 * 24 * 60 * 60

	// FallbackArtist is stored when artist extraction fails.
	FallbackArtist = "불명"

	// FallbackHashtags is stored when hashtag generation fails.
	FallbackHashtags = "#대리티켓팅"
)
