package publisher

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"ddalti/internal/models"
)

const (
	// MaxTextLength is the hard cap on rendered posts, in characters.
	MaxTextLength = 280

	shortTemplateThreshold = 270
	longTitleLength        = 50
	maxArtistTags          = 5
	maxHashtags            = 10

	consultURL = "https://open.kakao.com/o/sAJ8m2Ah"
)

var baseTags = []string{"#티켓팅", "#대리티켓팅", "#선착순할인"}

const longTemplate = `%s

대리 티켓팅 진행
최근 세븐틴 / BTS / 블랙핑크 댈티 성공경력

선착순 할인 이벤트:
VIP 잡아도 수고비 5만원 선입금, 실패시 수고비 전액환불

🕐 오픈시간: %s

친절한 상담: ` + consultURL + `

%s`

const shortTemplate = `%s

대리 티켓팅 진행
성공경력 다수

선착순 할인: VIP 수고비 5만원
실패시 전액환불

🕐 %s

상담: ` + consultURL + `

%s`

const bunjangTemplate = `%s

🚨 %s 대리티켓팅(댈티)

수고비 제일 저렴
경력 매우 많음

가격: 번개톡 상담

%s`

// RenderText builds the promotional post for an item.
func RenderText(item *models.QueueItem) string {
	tags := strings.Join(Hashtags(item), " ")
	title := item.Title

	text := fmt.Sprintf(longTemplate, title, item.OpenTime, tags)
	if utf8.RuneCountInString(text) > shortTemplateThreshold && utf8.RuneCountInString(title) > longTitleLength {
		title = string([]rune(title)[:longTitleLength-3]) + "..."
		text = fmt.Sprintf(shortTemplate, title, item.OpenTime, tags)
	}
	return truncateRunes(text, MaxTextLength)
}

// RenderListing builds the classifieds description and listing name.
func RenderListing(item *models.QueueItem) (name, description string) {
	artist := strings.TrimSpace(item.Artist)
	if artist == "" {
		artist = models.FallbackArtist
	}
	tags := strings.TrimSpace(item.Hashtags)
	if tags == "" {
		tags = models.FallbackHashtags
	}
	return artist + " 대리티켓팅(댈티)", fmt.Sprintf(bunjangTemplate, item.Title, artist, tags)
}

// Hashtags returns the ordered, de-duplicated tag list for an item.
func Hashtags(item *models.QueueItem) []string {
	tags := artistTags(item.Title)
	if g := genreTag(item.Genre); g != "" {
		tags = append(tags, g)
	}
	tags = append(tags, baseTags...)
	tags = append(tags, splitTags(item.Hashtags)...)

	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, maxHashtags)
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == maxHashtags {
			break
		}
	}
	return out
}

func artistTags(title string) []string {
	upper := strings.ToUpper(title)
	var found []string
	for _, g := range artistGroups {
		for _, kw := range g.Keywords {
			if !strings.Contains(upper, strings.ToUpper(kw)) {
				continue
			}
			found = append(found, "#"+kw)
			if !slices.Contains(found, "#"+g.Group) {
				found = append(found, "#"+g.Group)
			}
			break
		}
	}
	if len(found) > maxArtistTags {
		found = found[:maxArtistTags]
	}
	return found
}

func genreTag(genre string) string {
	switch {
	case strings.Contains(genre, "콘서트"), strings.Contains(strings.ToUpper(genre), "CONCERT"):
		return "#콘서트"
	case strings.Contains(genre, "뮤지컬"):
		return "#뮤지컬"
	case strings.Contains(genre, "연극"):
		return "#연극"
	case strings.Contains(genre, "페스티벌"):
		return "#페스티벌"
	}
	return ""
}

// splitTags turns an AI hashtag line into "#tag" tokens.
func splitTags(line string) []string {
	var tags []string
	for _, f := range strings.Fields(strings.ReplaceAll(line, ",", " ")) {
		f = strings.TrimLeft(f, "#")
		if f == "" {
			continue
		}
		tags = append(tags, "#"+f)
	}
	return tags
}

// Keywords splits a hashtag line on '#' for listing keywords.
func Keywords(line string) []string {
	var out []string
	for _, k := range strings.Split(line, "#") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
